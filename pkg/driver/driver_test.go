package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
)

func TestForSchemeUnknown(t *testing.T) {
	_, err := ForScheme("gopher")
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrUnknownScheme)
	assert.Contains(t, err.Error(), "gopher")
}

func TestTokenFor(t *testing.T) {
	token := TokenFor(config.Credentials{Username: "neo4j", Password: "password"})
	assert.Equal(t, "basic", token.Scheme)
	assert.Equal(t, "neo4j", token.Principal)
	assert.Equal(t, "password", token.Secret)

	anonymous := TokenFor(config.Credentials{})
	assert.Equal(t, "none", anonymous.Scheme)
}

func TestAccessModeString(t *testing.T) {
	assert.Equal(t, "READ", AccessModeRead.String())
	assert.Equal(t, "WRITE", AccessModeWrite.String())
}
