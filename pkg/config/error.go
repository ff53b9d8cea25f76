package config

import (
	"errors"
	"fmt"
)

var (
	errUnknownEnum      = errors.New("unrecognized value")
	errNotPositive      = errors.New("must be a positive integer")
	errMissingTrustCert = errors.New("missing configuration value for trust.certificate.file")
)

// ConfigurationError reports a malformed or inconsistent setting.
// It is fatal and never retried.
type ConfigurationError struct {
	Key   string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("configuration %q: invalid value %q: %v", e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("configuration %q: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
