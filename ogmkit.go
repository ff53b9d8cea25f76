package ogmkit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/logger"
	"github.com/ogmkit/ogmkit.go/pkg/pool"
	"github.com/ogmkit/ogmkit.go/pkg/security"
	"github.com/ogmkit/ogmkit.go/pkg/transaction"

	// Register the built-in transports.
	_ "github.com/ogmkit/ogmkit.go/pkg/driver/bolt"
	_ "github.com/ogmkit/ogmkit.go/pkg/driver/embedded"
	_ "github.com/ogmkit/ogmkit.go/pkg/driver/httpdriver"
)

// DB is a configured driver instance together with its session pool and
// transaction manager. It is safe for concurrent use.
type DB struct {
	driver  driver.Driver
	pool    *pool.Pool
	manager *transaction.Manager
	logger  logger.Logger
}

type Option func(*DB)

func WithLogger(log logger.Logger) Option {
	return func(db *DB) {
		db.logger = log
	}
}

// Open resolves raw key/value configuration and constructs a live DB.
func Open(ctx context.Context, raw map[string]string, opts ...Option) (*DB, error) {
	cfg, err := config.Resolve(raw)
	if err != nil {
		return nil, err
	}
	return OpenConfig(ctx, cfg, opts...)
}

// OpenConfig constructs a live DB from a resolved configuration: security
// policy first, then the transport selected by URI scheme, then the session
// pool and transaction manager on top.
func OpenConfig(ctx context.Context, cfg *config.DriverConfiguration, opts ...Option) (*DB, error) {
	db := &DB{logger: logger.Discard()}
	for _, opt := range opts {
		opt(db)
	}

	policy, err := security.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	scheme, err := primaryScheme(cfg)
	if err != nil {
		return nil, err
	}

	drv, err := driver.ForScheme(scheme)
	if err != nil {
		return nil, err
	}
	if l, ok := drv.(interface{ SetLogger(logger.Logger) }); ok {
		l.SetLogger(db.logger)
	}

	if err := drv.Configure(ctx, cfg, policy); err != nil {
		return nil, err
	}

	db.driver = drv
	db.pool = pool.New(drv, cfg.PoolSize, cfg.LivenessCheckTimeout, db.logger)
	db.manager = transaction.NewManager(db.pool, db.logger)
	return db, nil
}

// Begin starts a transaction, or returns the one already active on ctx.
// See transaction.Manager.Begin for the reuse and bookmark semantics.
func (db *DB) Begin(ctx context.Context, typ transaction.Type, bookmark string) (context.Context, *transaction.Transaction, error) {
	return db.manager.Begin(ctx, typ, bookmark)
}

// Close drains the session pool and releases the transport. It is
// idempotent.
func (db *DB) Close(ctx context.Context) error {
	if err := db.manager.Close(ctx); err != nil {
		return err
	}
	return db.driver.Close(ctx)
}

// primaryScheme derives the transport-selecting scheme from the primary
// URI, falling back to the first alternate when no primary is set.
func primaryScheme(cfg *config.DriverConfiguration) (string, error) {
	candidates := cfg.Candidates()
	if len(candidates) == 0 {
		return "", &driver.ConnectionError{Err: constants.ErrNoEndpoint}
	}
	u, err := url.Parse(candidates[0])
	if err != nil {
		return "", &driver.ConnectionError{Endpoint: candidates[0], Err: err}
	}
	if u.Scheme == "" {
		return "", &driver.ConnectionError{
			Endpoint: candidates[0],
			Err:      fmt.Errorf("endpoint has no scheme"),
		}
	}
	return u.Scheme, nil
}
