package driver

import (
	"context"
	"errors"

	"github.com/ogmkit/ogmkit.go/pkg/constants"
)

// Probe attempts to construct a transport client against one endpoint.
// A failure wrapping constants.ErrServiceUnavailable means the endpoint is
// unreachable and the next candidate may be tried; any other failure is
// terminal.
type Probe func(ctx context.Context, endpoint string) error

// Observer is notified of each endpoint that failed with unavailability
// before selection moved on. Diagnostics only, it cannot influence
// selection.
type Observer func(endpoint string, err error)

// SelectEndpoint walks the ordered candidate list and returns the first
// endpoint the probe accepts. Candidates are tried strictly sequentially so
// failure attribution stays deterministic.
//
// Unavailability of one candidate advances to the next; a terminal failure
// (authentication rejected, malformed endpoint) aborts immediately so a
// transiently down cluster member cannot mask a hard misconfiguration.
func SelectEndpoint(ctx context.Context, candidates []string, probe Probe, observe Observer) (string, error) {
	if len(candidates) == 0 {
		return "", &ConnectionError{Err: constants.ErrNoEndpoint}
	}

	for _, endpoint := range candidates {
		err := probe(ctx, endpoint)
		if err == nil {
			return endpoint, nil
		}
		if errors.Is(err, constants.ErrServiceUnavailable) {
			if observe != nil {
				observe(endpoint, err)
			}
			continue
		}
		return "", &ConnectionError{Endpoint: endpoint, Err: err}
	}

	return "", &ConnectionError{Err: constants.ErrNoValidEndpoint}
}
