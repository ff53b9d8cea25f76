package httpdriver

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogmkit/ogmkit.go/internal/fakegraph"
	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/security"
)

// deadEndpoint reserves a port and closes the listener so connections to it
// are refused.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func resolve(t *testing.T, raw map[string]string) (*config.DriverConfiguration, *security.Policy) {
	t.Helper()
	if _, ok := raw[config.KeyEncryptionLevel]; !ok {
		raw[config.KeyEncryptionLevel] = "NONE"
	}
	cfg, err := config.Resolve(raw)
	require.NoError(t, err)
	policy, err := security.Resolve(cfg)
	require.NoError(t, err)
	return cfg, policy
}

func TestRegisteredForHTTPSchemes(t *testing.T) {
	for _, scheme := range []string{constants.HTTPScheme, constants.SecureHTTPScheme} {
		d, err := driver.ForScheme(scheme)
		require.NoError(t, err)
		assert.IsType(t, &Driver{}, d)
	}
}

func TestConfigureSelectsHealthyEndpoint(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{config.KeyURI: srv.URL()})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))

	session, err := d.Session(context.Background(), driver.AccessModeRead)
	require.NoError(t, err)
	assert.True(t, session.Alive(context.Background()))
}

func TestConfigureFailsOverToAlternate(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:  deadEndpoint(t),
		config.KeyURIS: deadEndpoint(t) + "," + srv.URL(),
	})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))

	_, err := d.Session(context.Background(), driver.AccessModeWrite)
	require.NoError(t, err)
}

func TestConfigureAllEndpointsDown(t *testing.T) {
	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:  deadEndpoint(t),
		config.KeyURIS: deadEndpoint(t),
	})

	err := New().Configure(context.Background(), cfg, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrNoValidEndpoint)
}

func TestConfigureTreatsOverloadedMemberAsUnavailable(t *testing.T) {
	down := fakegraph.New()
	defer down.Close()
	down.SetUnavailable(true)

	up := fakegraph.New()
	defer up.Close()

	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:  down.URL(),
		config.KeyURIS: up.URL(),
	})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))

	// The healthy member serves sessions.
	session, err := d.Session(context.Background(), driver.AccessModeRead)
	require.NoError(t, err)
	assert.True(t, session.Alive(context.Background()))
	assert.Equal(t, 0, down.BeginCount())
}

func TestConfigureAuthRejectionIsTerminal(t *testing.T) {
	first := fakegraph.New(fakegraph.WithCredentials("neo4j", "secret"))
	defer first.Close()
	second := fakegraph.New()
	defer second.Close()

	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:      first.URL(),
		config.KeyURIS:     second.URL(),
		config.KeyUsername: "neo4j",
		config.KeyPassword: "wrong",
	})

	err := New().Configure(context.Background(), cfg, policy)
	require.Error(t, err)
	// Bad credentials abort configuration without trying the alternate.
	assert.NotErrorIs(t, err, constants.ErrNoValidEndpoint)
	assert.Contains(t, err.Error(), "authentication rejected")
}

func TestBeginCommitRoundTrip(t *testing.T) {
	srv := fakegraph.New(fakegraph.WithCredentials("neo4j", "secret"))
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:      srv.URL(),
		config.KeyUsername: "neo4j",
		config.KeyPassword: "secret",
	})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)

	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "og:1", bookmark)
	assert.EqualValues(t, 1, srv.Version())
}

func TestReadCommitDoesNotAdvanceVersion(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{config.KeyURI: srv.URL()})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeRead)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "og:0", bookmark)
	assert.EqualValues(t, 0, srv.Version())
}

func TestBeginRejectsBookmarkAheadOfServer(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{config.KeyURI: srv.URL()})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	_, err = session.BeginTx(ctx, "og:41")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ahead of server state")
}

func TestRollbackLeavesHistoryUntouched(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{config.KeyURI: srv.URL()})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.EqualValues(t, 0, srv.Version())
}

func TestRequiredEncryptionUpgradesToTLS(t *testing.T) {
	srv := fakegraph.NewTLS()
	defer srv.Close()

	certPath := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(certPath, srv.CertificatePEM(), 0o600))

	// A plain http endpoint with REQUIRED encryption must be reached over
	// TLS, never in the clear.
	plain := "http://" + strings.TrimPrefix(srv.URL(), "https://")
	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:             plain,
		config.KeyEncryptionLevel: "REQUIRED",
		config.KeyTrustStrategy:   "TRUST_SIGNED_CERTIFICATES",
		config.KeyTrustCertFile:   certPath,
	})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))
	ctx := context.Background()

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "og:1", bookmark)
}

func TestRequiredEncryptionRefusesPlaintextServer(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	// Default encryption level is REQUIRED.
	cfg, err := config.Resolve(map[string]string{config.KeyURI: srv.URL()})
	require.NoError(t, err)
	policy, err := security.Resolve(cfg)
	require.NoError(t, err)

	err = New().Configure(context.Background(), cfg, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrNoValidEndpoint)
}

func TestReconfigureReplacesEndpoint(t *testing.T) {
	first := fakegraph.New()
	defer first.Close()
	second := fakegraph.New()
	defer second.Close()
	ctx := context.Background()

	d := New()
	cfg, policy := resolve(t, map[string]string{config.KeyURI: first.URL()})
	require.NoError(t, d.Configure(ctx, cfg, policy))

	cfg, policy = resolve(t, map[string]string{config.KeyURI: second.URL()})
	require.NoError(t, d.Configure(ctx, cfg, policy))

	session, err := d.Session(ctx, driver.AccessModeWrite)
	require.NoError(t, err)
	tx, err := session.BeginTx(ctx, "")
	require.NoError(t, err)
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	// All traffic lands on the freshly configured endpoint.
	assert.Equal(t, 0, first.BeginCount())
	assert.Equal(t, 1, second.BeginCount())
}

type roundTripFunc func(req *http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestBeginSendsModeBookmarkAndAuth(t *testing.T) {
	var begin *http.Request
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			switch req.URL.Path {
			case "/health":
				return jsonResponse(`{}`)
			case "/tx":
				begin = req
				return jsonResponse(`{"id":"7"}`)
			default:
				return jsonResponse(`{}`)
			}
		}),
	}

	cfg, policy := resolve(t, map[string]string{
		config.KeyURI:      "http://graph.internal:7474",
		config.KeyUsername: "neo4j",
		config.KeyPassword: "secret",
	})
	d := New(WithHTTPClient(client))
	require.NoError(t, d.Configure(context.Background(), cfg, policy))

	session, err := d.Session(context.Background(), driver.AccessModeRead)
	require.NoError(t, err)
	_, err = session.BeginTx(context.Background(), "og:3")
	require.NoError(t, err)

	require.NotNil(t, begin)
	assert.Equal(t, "READ", begin.Header.Get("X-Txn-Mode"))
	assert.Equal(t, "og:3", begin.Header.Get("X-Bookmark"))
	user, pass, ok := begin.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "neo4j", user)
	assert.Equal(t, "secret", pass)
}

func TestSessionAfterClose(t *testing.T) {
	srv := fakegraph.New()
	defer srv.Close()

	cfg, policy := resolve(t, map[string]string{config.KeyURI: srv.URL()})
	d := New()
	require.NoError(t, d.Configure(context.Background(), cfg, policy))
	require.NoError(t, d.Close(context.Background()))

	_, err := d.Session(context.Background(), driver.AccessModeRead)
	assert.ErrorIs(t, err, constants.ErrDriverClosed)
}
