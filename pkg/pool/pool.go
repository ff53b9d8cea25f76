// Package pool owns a bounded pool of live transport sessions for one
// configured driver instance.
//
// The bound is enforced with a weighted semaphore: acquisition blocks while
// the pool is exhausted and unblocks when a session is released or
// discarded. Idle sessions count toward the bound, so opening for one
// access mode at the bound evicts the oldest idle session of another.
// Idle sessions are trusted for the configured liveness-check timeout and
// re-validated with Session.Alive after it elapses.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/logger"
)

// Opener opens new transport sessions. A configured driver.Driver
// satisfies it.
type Opener interface {
	Session(ctx context.Context, mode driver.AccessMode) (driver.Session, error)
}

type idleSession struct {
	session driver.Session
	since   time.Time
}

type Pool struct {
	opener   Opener
	sem      *semaphore.Weighted
	size     int
	liveness time.Duration
	logger   logger.Logger

	mut    sync.Mutex
	idle   map[driver.AccessMode][]idleSession
	live   int
	closed bool
}

// New builds a pool bounded at size sessions. liveness governs how long an
// idle session is trusted before being re-validated; zero re-validates on
// every reuse.
func New(opener Opener, size int, liveness time.Duration, log logger.Logger) *Pool {
	if size <= 0 {
		size = constants.DefaultPoolSize
	}
	return &Pool{
		opener:   opener,
		sem:      semaphore.NewWeighted(int64(size)),
		size:     size,
		liveness: liveness,
		logger:   log,
		idle:     make(map[driver.AccessMode][]idleSession),
	}
}

// Acquire returns a session bound to the access mode, reusing an idle one
// when possible. It blocks while the pool is exhausted, honoring ctx.
func (p *Pool) Acquire(ctx context.Context, mode driver.AccessMode) (driver.Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		p.sem.Release(1)
		return nil, constants.ErrPoolClosed
	}
	p.mut.Unlock()

	if session := p.takeIdle(ctx, mode); session != nil {
		return session, nil
	}

	// A mode miss at the bound evicts the oldest idle session of another
	// mode, so live sessions never exceed the configured size.
	if victim := p.takeVictim(); victim != nil {
		if err := victim.Close(ctx); err != nil {
			p.logger.Warn("failed to close evicted idle session", "error", err)
		}
	}

	session, err := p.opener.Session(ctx, mode)
	if err != nil {
		p.sem.Release(1)
		return nil, &driver.ConnectionError{Err: err}
	}
	p.mut.Lock()
	p.live++
	p.mut.Unlock()
	return session, nil
}

// Release returns a session to the idle pool for later reuse.
func (p *Pool) Release(ctx context.Context, session driver.Session) {
	p.mut.Lock()
	if p.closed {
		p.live--
		p.mut.Unlock()
		_ = session.Close(ctx)
		p.sem.Release(1)
		return
	}
	mode := session.Mode()
	p.idle[mode] = append(p.idle[mode], idleSession{session: session, since: time.Now()})
	p.mut.Unlock()
	p.sem.Release(1)
}

// Discard closes a session that should not be reused.
func (p *Pool) Discard(ctx context.Context, session driver.Session) {
	if err := session.Close(ctx); err != nil {
		p.logger.Warn("failed to close discarded session", "error", err)
	}
	p.mut.Lock()
	p.live--
	p.mut.Unlock()
	p.sem.Release(1)
}

// Close drains all idle sessions. Sessions still checked out are closed by
// Release once they come back.
func (p *Pool) Close(ctx context.Context) error {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return nil
	}
	p.closed = true
	var drained []driver.Session
	for mode, list := range p.idle {
		for _, entry := range list {
			drained = append(drained, entry.session)
		}
		delete(p.idle, mode)
	}
	p.live -= len(drained)
	p.mut.Unlock()

	for _, session := range drained {
		if err := session.Close(ctx); err != nil {
			p.logger.Warn("failed to close pooled session", "error", err)
		}
	}
	return nil
}

// takeIdle pops the freshest idle session for the mode, re-validating
// sessions that sat idle past the liveness timeout. Stale sessions are
// closed and skipped.
func (p *Pool) takeIdle(ctx context.Context, mode driver.AccessMode) driver.Session {
	for {
		p.mut.Lock()
		if p.closed {
			p.mut.Unlock()
			return nil
		}
		list := p.idle[mode]
		if len(list) == 0 {
			p.mut.Unlock()
			return nil
		}
		entry := list[len(list)-1]
		p.idle[mode] = list[:len(list)-1]
		p.mut.Unlock()

		if time.Since(entry.since) <= p.liveness && p.liveness > 0 {
			return entry.session
		}
		if entry.session.Alive(ctx) {
			return entry.session
		}

		p.logger.Debug("dropping dead idle session", "mode", mode.String())
		if err := entry.session.Close(ctx); err != nil {
			p.logger.Warn("failed to close dead session", "error", err)
		}
		p.mut.Lock()
		p.live--
		p.mut.Unlock()
	}
}

// takeVictim pops the oldest idle session across modes when the pool is at
// its bound and a new session is about to be opened. It returns nil when
// there is headroom or nothing sits idle.
func (p *Pool) takeVictim() driver.Session {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.live < p.size {
		return nil
	}

	found := false
	var victimMode driver.AccessMode
	var oldest time.Time
	for mode, list := range p.idle {
		if len(list) == 0 {
			continue
		}
		if !found || list[0].since.Before(oldest) {
			found = true
			victimMode = mode
			oldest = list[0].since
		}
	}
	if !found {
		return nil
	}

	list := p.idle[victimMode]
	victim := list[0].session
	p.idle[victimMode] = list[1:]
	p.live--
	return victim
}
