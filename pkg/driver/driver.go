// Package driver defines the capability interface transport back-ends must
// implement, and the scheme registry used to select one at configuration
// time.
//
// A Driver owns zero or one underlying transport client. Its lifecycle is
// unconfigured, configured, closed. Configure on an already-configured
// driver closes the existing transport client first. Configure, Session and
// Close serialize under the driver's own exclusion domain; implementations
// must be safe under concurrent use from independent goroutines.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/ogmkit/ogmkit.go/pkg/config"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/security"
)

// AccessMode designates which cluster role may serve a session.
type AccessMode int

const (
	AccessModeWrite AccessMode = iota
	AccessModeRead
)

func (m AccessMode) String() string {
	if m == AccessModeRead {
		return "READ"
	}
	return "WRITE"
}

// Driver is the contract every transport back-end implements.
type Driver interface {
	// Configure constructs the underlying transport client, trying the
	// configured endpoints in order. It replaces any previously configured
	// client after closing it.
	Configure(ctx context.Context, cfg *config.DriverConfiguration, policy *security.Policy) error

	// Session opens a transport session bound to the given access mode.
	Session(ctx context.Context, mode AccessMode) (Session, error)

	// Close releases transport resources. It is idempotent.
	Close(ctx context.Context) error
}

// Session is a transport-level handle bound to an access mode. A session
// runs at most one native transaction at a time.
type Session interface {
	Mode() AccessMode

	// BeginTx starts a native transaction. A non-empty bookmark is a causal
	// precondition: the server side must have caught up to it before the
	// transaction begins executing.
	BeginTx(ctx context.Context, bookmark string) (Tx, error)

	// Alive reports whether the session is still usable. Implementations
	// keep this passive; the pool decides when to call it.
	Alive(ctx context.Context) bool

	Close(ctx context.Context) error
}

// Tx is a native transport transaction.
type Tx interface {
	// Commit finishes the transaction and returns the bookmark representing
	// the resulting consistency point.
	Commit(ctx context.Context) (string, error)
	Rollback(ctx context.Context) error
}

// AuthToken is the authentication material handed to a transport.
type AuthToken struct {
	Scheme    string
	Principal string
	Secret    string
}

// BasicAuth builds a username/password token.
func BasicAuth(username, password string) AuthToken {
	return AuthToken{Scheme: "basic", Principal: username, Secret: password}
}

// NoAuth builds an anonymous token.
func NoAuth() AuthToken {
	return AuthToken{Scheme: "none"}
}

// TokenFor derives the auth token from resolved credentials.
func TokenFor(creds config.Credentials) AuthToken {
	if creds.Present() {
		return BasicAuth(creds.Username, creds.Password)
	}
	return NoAuth()
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]func() Driver)
)

// Register makes a transport constructor selectable by URI scheme.
// Transport packages call it from init.
func Register(scheme string, factory func() Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("driver: Register factory is nil")
	}
	if _, dup := drivers[scheme]; dup {
		panic("driver: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = factory
}

// ForScheme constructs a fresh, unconfigured driver for the scheme.
func ForScheme(scheme string) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownScheme, scheme)
	}
	return factory(), nil
}

// Schemes lists the registered URI schemes.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for scheme := range drivers {
		list = append(list, scheme)
	}
	return list
}
