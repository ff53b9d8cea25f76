// Package httpdriver provides the HTTP transport, selected by http:// and
// https:// endpoint URIs.
//
// Transaction intent is observable on the wire: every begin request carries
// the access mode in the X-Txn-Mode header and the optional causal bookmark
// in X-Bookmark. The server answers a commit with the bookmark representing
// the new consistency point.
package httpdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/logger"
	"github.com/ogmkit/ogmkit.go/pkg/security"
)

func init() {
	driver.Register(constants.HTTPScheme, func() driver.Driver { return New() })
	driver.Register(constants.SecureHTTPScheme, func() driver.Driver { return New() })
}

const (
	headerTxnMode  = "X-Txn-Mode"
	headerBookmark = "X-Bookmark"

	defaultRequestTimeout = 10 * time.Second
)

// Driver is the HTTP transport implementation.
type Driver struct {
	mut        sync.Mutex
	httpClient *http.Client
	baseURL    string
	token      driver.AuthToken
	logger     logger.Logger
	closed     bool
}

type Option func(*Driver)

// WithHTTPClient replaces the underlying client, used by tests to stub the
// transport.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Driver) {
		d.httpClient = client
	}
}

func WithLogger(log logger.Logger) Option {
	return func(d *Driver) {
		d.logger = log
	}
}

func New(opts ...Option) *Driver {
	d := &Driver{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger replaces the driver's logger. Call it before Configure.
func (d *Driver) SetLogger(log logger.Logger) {
	d.logger = log
}

func (d *Driver) Configure(ctx context.Context, cfg *config.DriverConfiguration, policy *security.Policy) error {
	d.mut.Lock()
	defer d.mut.Unlock()

	// Re-configuring replaces the previous endpoint binding.
	d.baseURL = ""
	d.closed = false
	d.token = driver.TokenFor(cfg.Credentials)

	if policy.TLS != nil {
		d.httpClient.Transport = &http.Transport{TLSClientConfig: policy.TLS}
	}

	candidates := cfg.Candidates()
	if policy.Encrypted {
		// REQUIRED encryption upgrades plain endpoints to TLS.
		for i, endpoint := range candidates {
			candidates[i] = secureEndpoint(endpoint)
		}
	}

	chosen, err := driver.SelectEndpoint(ctx, candidates, d.probe, func(endpoint string, err error) {
		d.logger.Warn("failed to initialise driver", "uri", endpoint, "error", err)
	})
	if err != nil {
		return err
	}

	d.baseURL = chosen
	d.logger.Info("driver initialised", "uri", chosen)
	return nil
}

// probe validates one candidate endpoint with a health check. Network-level
// failures and 5xx responses count as unavailability; an auth rejection is
// terminal.
func (d *Driver) probe(ctx context.Context, endpoint string) error {
	if _, err := url.Parse(endpoint); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", http.NoBody)
	if err != nil {
		return err
	}
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", constants.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("authentication rejected by %s: %s", endpoint, resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s answered %s", constants.ErrServiceUnavailable, endpoint, resp.Status)
	default:
		return fmt.Errorf("unexpected response from %s: %s", endpoint, resp.Status)
	}
}

func secureEndpoint(endpoint string) string {
	if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		return "https://" + rest
	}
	return endpoint
}

func (d *Driver) Session(_ context.Context, mode driver.AccessMode) (driver.Session, error) {
	d.mut.Lock()
	defer d.mut.Unlock()
	if d.closed {
		return nil, constants.ErrDriverClosed
	}
	if d.baseURL == "" {
		return nil, constants.ErrDriverUnconfigured
	}
	return &session{driver: d, mode: mode}, nil
}

func (d *Driver) Close(_ context.Context) error {
	d.mut.Lock()
	defer d.mut.Unlock()
	d.baseURL = ""
	d.closed = true
	d.httpClient.CloseIdleConnections()
	return nil
}

func (d *Driver) authorize(req *http.Request) {
	if d.token.Scheme == "basic" {
		req.SetBasicAuth(d.token.Principal, d.token.Secret)
	}
}

func (d *Driver) do(ctx context.Context, method, path string, headers http.Header, out any) error {
	d.mut.Lock()
	base := d.baseURL
	d.mut.Unlock()
	if base == "" {
		return constants.ErrDriverUnconfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, http.NoBody)
	if err != nil {
		return err
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", constants.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

type session struct {
	driver *Driver
	mode   driver.AccessMode
	closed bool
}

func (s *session) Mode() driver.AccessMode { return s.mode }

func (s *session) BeginTx(ctx context.Context, bookmark string) (driver.Tx, error) {
	if s.closed {
		return nil, constants.ErrDriverClosed
	}

	headers := http.Header{}
	headers.Set(headerTxnMode, s.mode.String())
	if bookmark != "" {
		headers.Set(headerBookmark, bookmark)
	}

	var began struct {
		ID string `json:"id"`
	}
	if err := s.driver.do(ctx, http.MethodPost, "/tx", headers, &began); err != nil {
		return nil, err
	}
	if began.ID == "" {
		return nil, fmt.Errorf("server did not return a transaction id")
	}
	return &tx{session: s, id: began.ID}, nil
}

func (s *session) Alive(ctx context.Context) bool {
	if s.closed {
		return false
	}
	return s.driver.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

func (s *session) Close(_ context.Context) error {
	s.closed = true
	return nil
}

type tx struct {
	session *session
	id      string
}

func (t *tx) Commit(ctx context.Context) (string, error) {
	var committed struct {
		Bookmark string `json:"bookmark"`
	}
	path := fmt.Sprintf("/tx/%s/commit", t.id)
	if err := t.session.driver.do(ctx, http.MethodPost, path, nil, &committed); err != nil {
		return "", err
	}
	return committed.Bookmark, nil
}

func (t *tx) Rollback(ctx context.Context) error {
	path := fmt.Sprintf("/tx/%s/rollback", t.id)
	return t.session.driver.do(ctx, http.MethodPost, path, nil, nil)
}
