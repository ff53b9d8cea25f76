// Package bolt provides the binary socket transport, selected by bolt://
// and bolt+s:// endpoint URIs.
//
// The protocol is CBOR-encoded RPC over a persistent websocket. A session
// owns one dedicated connection and can run at most one native transaction
// at a time. Endpoint failover during Configure is strictly sequential over
// the candidate list; only unreachable endpoints advance it.
package bolt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/logger"
	"github.com/ogmkit/ogmkit.go/pkg/security"
)

func init() {
	driver.Register(constants.BoltScheme, func() driver.Driver { return New() })
	driver.Register(constants.SecureBoltScheme, func() driver.Driver { return New() })
	driver.Register(constants.RoutingBoltScheme, func() driver.Driver { return New() })
}

// Driver is the socket transport implementation.
type Driver struct {
	mut      sync.Mutex
	endpoint string
	token    driver.AuthToken
	tlsConf  *tls.Config
	control  *conn
	logger   logger.Logger
	closed   bool
}

type Option func(*Driver)

func WithLogger(log logger.Logger) Option {
	return func(d *Driver) {
		d.logger = log
	}
}

func New(opts ...Option) *Driver {
	d := &Driver{logger: logger.Discard()}
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

	// Re-configuring an already-configured driver drops the previous
	// transport client first.
	d.closeLocked()
	d.closed = false

	d.token = driver.TokenFor(cfg.Credentials)
	if policy.Encrypted {
		d.tlsConf = policy.TLS
	} else {
		d.tlsConf = nil
	}

	var control *conn
	chosen, err := driver.SelectEndpoint(ctx, cfg.Candidates(),
		func(ctx context.Context, endpoint string) error {
			c, err := d.open(ctx, endpoint)
			if err != nil {
				return err
			}
			control = c
			return nil
		},
		func(endpoint string, err error) {
			d.logger.Warn("failed to initialise driver", "uri", endpoint, "error", err)
		},
	)
	if err != nil {
		return err
	}

	d.endpoint = chosen
	d.control = control
	d.logger.Info("driver initialised", "uri", chosen)
	return nil
}

// open dials an endpoint and authenticates. A server auth rejection is a
// terminal failure, never unavailability.
func (d *Driver) open(ctx context.Context, endpoint string) (*conn, error) {
	c, err := dial(ctx, endpoint, d.tlsConf, d.logger)
	if err != nil {
		return nil, err
	}

	hello := map[string]any{"scheme": d.token.Scheme}
	if d.token.Scheme == "basic" {
		hello["principal"] = d.token.Principal
		hello["credentials"] = d.token.Secret
	}
	if err := c.send(ctx, nil, methodHello, hello); err != nil {
		_ = c.close()
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && rpcErr.Code == authErrorCode {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
		return nil, err
	}
	return c, nil
}

func (d *Driver) Session(ctx context.Context, mode driver.AccessMode) (driver.Session, error) {
	d.mut.Lock()
	defer d.mut.Unlock()
	if d.closed {
		return nil, constants.ErrDriverClosed
	}
	if d.endpoint == "" {
		return nil, constants.ErrDriverUnconfigured
	}

	c, err := d.open(ctx, d.endpoint)
	if err != nil {
		return nil, err
	}
	return &session{conn: c, mode: mode}, nil
}

func (d *Driver) Close(_ context.Context) error {
	d.mut.Lock()
	defer d.mut.Unlock()
	d.closeLocked()
	d.closed = true
	return nil
}

func (d *Driver) closeLocked() {
	if d.control != nil {
		if err := d.control.close(); err != nil {
			d.logger.Debug("error closing control connection", "error", err)
		}
		d.control = nil
	}
	d.endpoint = ""
}

type session struct {
	conn *conn
	mode driver.AccessMode
}

func (s *session) Mode() driver.AccessMode { return s.mode }

func (s *session) BeginTx(ctx context.Context, bookmark string) (driver.Tx, error) {
	params := map[string]any{"mode": s.mode.String()}
	if bookmark != "" {
		params["bookmark"] = bookmark
	}
	if err := s.conn.send(ctx, nil, methodBegin, params); err != nil {
		return nil, err
	}
	return &tx{session: s}, nil
}

func (s *session) Alive(ctx context.Context) bool {
	if !s.conn.alive() {
		return false
	}
	return s.conn.send(ctx, nil, methodPing) == nil
}

func (s *session) Close(_ context.Context) error {
	return s.conn.close()
}

type tx struct {
	session *session
}

func (t *tx) Commit(ctx context.Context) (string, error) {
	var committed struct {
		Bookmark string `cbor:"bookmark"`
	}
	if err := t.session.conn.send(ctx, &committed, methodCommit); err != nil {
		return "", err
	}
	return committed.Bookmark, nil
}

func (t *tx) Rollback(ctx context.Context) error {
	return t.session.conn.send(ctx, nil, methodRollback)
}
