package driver

import "fmt"

// ConnectionError reports a transport construction or session acquisition
// failure. It wraps the underlying cause for diagnostics and is fatal for
// the current attempt.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("connecting to %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
