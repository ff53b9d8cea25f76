// Package embedded provides the in-process engine transport, selected by
// file:// endpoint URIs.
//
// Engines are shared per path, so two drivers configured against the same
// path observe one causal history. Bookmarks are monotonic version tokens
// of the form "og:<n>"; in-process state is caught up by construction, so a
// begin with a bookmark only validates that the token belongs to the
// engine's history.
package embedded

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/driver"
	"github.com/ogmkit/ogmkit.go/pkg/security"
)

func init() {
	driver.Register(constants.EmbeddedScheme, func() driver.Driver { return New() })
}

const bookmarkPrefix = "og:"

// engines is the process-wide registry of open engines, keyed by path.
var (
	enginesMut sync.Mutex
	engines    = make(map[string]*engine)
)

type engine struct {
	mut     sync.Mutex
	path    string
	version uint64
}

func openEngine(path string) *engine {
	enginesMut.Lock()
	defer enginesMut.Unlock()
	if e, ok := engines[path]; ok {
		return e
	}
	e := &engine{path: path}
	engines[path] = e
	return e
}

func (e *engine) currentVersion() uint64 {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.version
}

func (e *engine) bump() uint64 {
	e.mut.Lock()
	defer e.mut.Unlock()
	e.version++
	return e.version
}

func formatBookmark(version uint64) string {
	return bookmarkPrefix + strconv.FormatUint(version, 10)
}

func parseBookmark(bookmark string) (uint64, error) {
	rest, ok := strings.CutPrefix(bookmark, bookmarkPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", constants.ErrInvalidBookmark, bookmark)
	}
	version, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", constants.ErrInvalidBookmark, bookmark)
	}
	return version, nil
}

// Driver is the embedded transport implementation.
type Driver struct {
	mut    sync.Mutex
	engine *engine
	closed bool
}

func New() *Driver {
	return &Driver{}
}

func (d *Driver) Configure(_ context.Context, cfg *config.DriverConfiguration, _ *security.Policy) error {
	d.mut.Lock()
	defer d.mut.Unlock()

	// An in-process engine has no unavailability, so the primary URI is
	// authoritative and alternates are never consulted.
	candidates := cfg.Candidates()
	if len(candidates) == 0 {
		return &driver.ConnectionError{Err: constants.ErrNoEndpoint}
	}

	u, err := url.Parse(candidates[0])
	if err != nil {
		return &driver.ConnectionError{Endpoint: candidates[0], Err: err}
	}
	if u.Scheme != constants.EmbeddedScheme {
		return &driver.ConnectionError{
			Endpoint: candidates[0],
			Err:      fmt.Errorf("%w: %q", constants.ErrUnknownScheme, u.Scheme),
		}
	}

	d.engine = openEngine(u.Path)
	d.closed = false
	return nil
}

func (d *Driver) Session(_ context.Context, mode driver.AccessMode) (driver.Session, error) {
	d.mut.Lock()
	defer d.mut.Unlock()
	if d.closed {
		return nil, constants.ErrDriverClosed
	}
	if d.engine == nil {
		return nil, constants.ErrDriverUnconfigured
	}
	return &session{engine: d.engine, mode: mode}, nil
}

func (d *Driver) Close(_ context.Context) error {
	d.mut.Lock()
	defer d.mut.Unlock()
	d.engine = nil
	d.closed = true
	return nil
}

type session struct {
	engine *engine
	mode   driver.AccessMode
	closed bool
}

func (s *session) Mode() driver.AccessMode { return s.mode }

func (s *session) BeginTx(_ context.Context, bookmark string) (driver.Tx, error) {
	if s.closed {
		return nil, constants.ErrDriverClosed
	}
	if bookmark != "" {
		version, err := parseBookmark(bookmark)
		if err != nil {
			return nil, err
		}
		// A token ahead of the engine cannot belong to its history.
		if version > s.engine.currentVersion() {
			return nil, fmt.Errorf("%w: %q is ahead of engine state", constants.ErrInvalidBookmark, bookmark)
		}
	}
	return &tx{engine: s.engine, mode: s.mode}, nil
}

func (s *session) Alive(_ context.Context) bool { return !s.closed }

func (s *session) Close(_ context.Context) error {
	s.closed = true
	return nil
}

type tx struct {
	engine *engine
	mode   driver.AccessMode
	done   bool
}

func (t *tx) Commit(_ context.Context) (string, error) {
	if t.done {
		return "", fmt.Errorf("transaction already finished")
	}
	t.done = true
	if t.mode == driver.AccessModeWrite {
		return formatBookmark(t.engine.bump()), nil
	}
	return formatBookmark(t.engine.currentVersion()), nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	return nil
}
