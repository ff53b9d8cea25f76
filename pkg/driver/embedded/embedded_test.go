package embedded

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
)

var pathSeq atomic.Uint64

// freshPath hands out a unique engine path per test so process-wide engine
// sharing does not leak state between tests.
func freshPath(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:///graphs/%s-%d", t.Name(), pathSeq.Add(1))
}

func configure(t *testing.T, uri string) *Driver {
	t.Helper()
	cfg, err := config.Resolve(map[string]string{
		config.KeyURI:             uri,
		config.KeyEncryptionLevel: "NONE",
	})
	require.NoError(t, err)

	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, nil))
	return d
}

func TestRegisteredForFileScheme(t *testing.T) {
	d, err := driver.ForScheme(constants.EmbeddedScheme)
	require.NoError(t, err)
	assert.IsType(t, &Driver{}, d)
}

func TestConfigureRejectsForeignScheme(t *testing.T) {
	cfg, err := config.Resolve(map[string]string{
		config.KeyURI:             "bolt://localhost",
		config.KeyEncryptionLevel: "NONE",
	})
	require.NoError(t, err)

	err = New().Configure(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrUnknownScheme)
}

func TestWriteCommitAdvancesBookmark(t *testing.T) {
	d := configure(t, freshPath(t))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)

	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	first, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "og:1", first)

	tx, err = session.BeginTx(ctx, first)
	require.NoError(t, err)
	second, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "og:2", second)
}

func TestReadCommitKeepsBookmark(t *testing.T) {
	d := configure(t, freshPath(t))
	ctx := context.Background()

	writer, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := writer.BeginTx(ctx, "")
	require.NoError(t, err)
	written, err := tx.Commit(ctx)
	require.NoError(t, err)

	reader, err := d.Session(ctx, driver.AccessModeRead)
	require.NoError(t, err)
	tx, err = reader.BeginTx(ctx, written)
	require.NoError(t, err)
	observed, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, written, observed)
}

func TestBeginRejectsBookmarkAheadOfEngine(t *testing.T) {
	d := configure(t, freshPath(t))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)

	_, err = session.BeginTx(ctx, "og:12")
	assert.ErrorIs(t, err, constants.ErrInvalidBookmark)
}

func TestBeginRejectsMalformedBookmark(t *testing.T) {
	d := configure(t, freshPath(t))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)

	for _, bookmark := range []string{"12", "og:", "og:abc", "neo4j:12"} {
		_, err = session.BeginTx(ctx, bookmark)
		assert.ErrorIs(t, err, constants.ErrInvalidBookmark, bookmark)
	}
}

func TestEngineSharedPerPath(t *testing.T) {
	path := freshPath(t)
	ctx := context.Background()

	first := configure(t, path)
	second := configure(t, path)

	session, err := first.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)

	// The second driver sees the first driver's history.
	other, err := second.Session(ctx, driver.AccessModeRead)
	require.NoError(t, err)
	_, err = other.BeginTx(ctx, bookmark)
	require.NoError(t, err)
}

func TestDistinctPathsAreIsolated(t *testing.T) {
	ctx := context.Background()

	first := configure(t, freshPath(t))
	second := configure(t, freshPath(t))

	session, err := first.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)

	other, err := second.Session(ctx, driver.AccessModeRead)
	require.NoError(t, err)
	_, err = other.BeginTx(ctx, bookmark)
	assert.ErrorIs(t, err, constants.ErrInvalidBookmark)
}

func TestSessionAfterClose(t *testing.T) {
	d := configure(t, freshPath(t))
	ctx := context.Background()

	require.NoError(t, d.Close(ctx))
	_, err := d.Session(ctx, driver.AccessModeRead)
	assert.ErrorIs(t, err, constants.ErrDriverClosed)
}

func TestSessionBeforeConfigure(t *testing.T) {
	_, err := New().Session(context.Background(), driver.AccessModeRead)
	assert.ErrorIs(t, err, constants.ErrDriverUnconfigured)
}

func TestRollbackDoesNotAdvance(t *testing.T) {
	d := configure(t, freshPath(t))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	tx, err = session.BeginTx(ctx, "")
	require.NoError(t, err)
	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "og:1", bookmark)
}
