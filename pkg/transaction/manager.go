package transaction

import (
	"context"

	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/logger"
	"github.com/ogmkit/ogmkit.go/pkg/pool"
)

// Manager starts transactions against a session pool and tracks the current
// transaction of each execution context.
//
// The current transaction travels inside the context.Context the caller
// threads through its call chain. There is no ambient per-goroutine state:
// a context carries at most one ACTIVE transaction, and Begin on such a
// context hands back that same transaction.
type Manager struct {
	pool   *pool.Pool
	logger logger.Logger
}

func NewManager(p *pool.Pool, log logger.Logger) *Manager {
	return &Manager{pool: p, logger: log}
}

type txKey struct{}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*Transaction)
	return tx, ok
}

// Begin starts a transaction of the given type, or returns the context's
// ACTIVE transaction when one exists.
//
// On reuse no new session is acquired and the supplied bookmark is ignored;
// the unit of work already has its consistency anchor. A READ_ONLY request
// over an active READ_WRITE transaction reuses it with a warning. The
// reverse, READ_WRITE over READ_ONLY, fails with ErrModeUpgrade.
//
// A non-empty bookmark makes the new transaction observe everything
// causally preceding it before executing.
func (m *Manager) Begin(ctx context.Context, typ Type, bookmark string) (context.Context, *Transaction, error) {
	if current, ok := FromContext(ctx); ok && current.state == StateActive {
		if typ == ReadWrite && current.typ == ReadOnly {
			return ctx, nil, ErrModeUpgrade
		}
		if typ != current.typ {
			m.logger.Warn("reusing active transaction with mismatched type",
				"active", current.typ.String(), "requested", typ.String())
		}
		return ctx, current, nil
	}

	session, err := m.pool.Acquire(ctx, typ.AccessMode())
	if err != nil {
		return ctx, nil, err
	}

	native, err := session.BeginTx(ctx, bookmark)
	if err != nil {
		m.pool.Discard(ctx, session)
		return ctx, nil, &driver.ConnectionError{Err: err}
	}

	tx := &Transaction{
		typ:      typ,
		state:    StateActive,
		bookmark: bookmark,
		native:   native,
		session:  session,
		manager:  m,
	}
	m.logger.Debug("transaction started", "type", typ.String(), "bookmark", bookmark)

	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// Close drains the underlying session pool.
func (m *Manager) Close(ctx context.Context) error {
	return m.pool.Close(ctx)
}
