// Package transaction binds application transaction requests to pooled
// sessions and threads causal bookmarks between units of work.
package transaction

import (
	"context"
	"errors"

	"github.com/ogmkit/ogmkit.go/pkg/driver"
)

// Type designates the intent of a unit of work.
type Type int

const (
	ReadWrite Type = iota
	ReadOnly
)

func (t Type) String() string {
	if t == ReadOnly {
		return "READ_ONLY"
	}
	return "READ_WRITE"
}

// AccessMode maps the transaction type to the session access mode that
// serves it.
func (t Type) AccessMode() driver.AccessMode {
	if t == ReadOnly {
		return driver.AccessModeRead
	}
	return driver.AccessModeWrite
}

// State is the lifecycle state of a transaction.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
	StateClosed
)

var (
	// ErrNotActive is returned when commit or rollback is requested on a
	// transaction that already left the ACTIVE state.
	ErrNotActive = errors.New("transaction is not active")
	// ErrModeUpgrade is returned when a READ_WRITE begin lands on a context
	// whose active transaction is READ_ONLY. Silently reusing the read-only
	// transaction would drop the write guarantee, so the caller must finish
	// the current unit of work first.
	ErrModeUpgrade = errors.New("active transaction is read-only, cannot serve a read-write request")
)

// Transaction is one logical unit of work bound to a pooled session.
// It is owned by a single execution context and must not be shared between
// goroutines.
type Transaction struct {
	typ      Type
	state    State
	bookmark string

	native  driver.Tx
	session driver.Session
	manager *Manager

	released bool
}

func (tx *Transaction) Type() Type { return tx.typ }

func (tx *Transaction) State() State { return tx.state }

// Bookmark is the incoming consistency token the transaction was started
// with, empty when none was supplied.
func (tx *Transaction) Bookmark() string { return tx.bookmark }

// Commit finishes the unit of work and returns the bookmark representing
// the new consistency point. The session goes back to the pool.
func (tx *Transaction) Commit(ctx context.Context) (string, error) {
	if tx.state != StateActive {
		return "", ErrNotActive
	}
	bookmark, err := tx.native.Commit(ctx)
	if err != nil {
		tx.state = StateRolledBack
		tx.release(ctx, false)
		return "", err
	}
	tx.state = StateCommitted
	tx.release(ctx, true)
	return bookmark, nil
}

// Rollback abandons the unit of work. No bookmark is produced.
func (tx *Transaction) Rollback(ctx context.Context) error {
	if tx.state != StateActive {
		return ErrNotActive
	}
	err := tx.native.Rollback(ctx)
	tx.state = StateRolledBack
	tx.release(ctx, err == nil)
	return err
}

// Close rolls back when the transaction is still active, then releases the
// session. It is safe to defer alongside explicit Commit/Rollback calls.
func (tx *Transaction) Close(ctx context.Context) error {
	if tx.state == StateActive {
		return tx.Rollback(ctx)
	}
	if tx.state != StateClosed {
		tx.release(ctx, true)
	}
	return nil
}

func (tx *Transaction) release(ctx context.Context, reusable bool) {
	if tx.released {
		tx.state = StateClosed
		return
	}
	tx.released = true
	if reusable {
		tx.manager.pool.Release(ctx, tx.session)
	} else {
		tx.manager.pool.Discard(ctx, tx.session)
	}
}
