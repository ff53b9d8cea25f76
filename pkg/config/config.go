// Package config resolves raw key/value driver settings into a
// DriverConfiguration consumed by the driver factory.
//
// Raw values typically come from a properties file (see LoadProperties) or
// are assembled by the calling application. Resolution is strict: a value
// that cannot be parsed into its expected type or enumeration fails with a
// ConfigurationError naming the offending key and value.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/ogmkit/ogmkit.go/pkg/constants"
)

// Configuration keys understood by Resolve.
const (
	KeyURI              = "URI"
	KeyURIS             = "URIS"
	KeyUsername         = "username"
	KeyPassword         = "password"
	KeyPoolSize         = "connection.pool.size"
	KeyEncryptionLevel  = "encryption.level"
	KeyTrustStrategy    = "trust.strategy"
	KeyTrustCertFile    = "trust.certificate.file"
	KeyLivenessTimeout  = "connection.liveness.check.timeout"
	KeyHAPropertiesFile = "ha.properties.file"
)

// EncryptionLevel controls whether the transport must be encrypted.
type EncryptionLevel string

const (
	EncryptionRequired EncryptionLevel = "REQUIRED"
	EncryptionNone     EncryptionLevel = "NONE"
)

// TrustStrategy is the policy for validating a remote endpoint's certificate.
type TrustStrategy string

const (
	TrustNone               TrustStrategy = "NONE"
	TrustOnFirstUse         TrustStrategy = "TRUST_ON_FIRST_USE"
	TrustSignedCertificates TrustStrategy = "TRUST_SIGNED_CERTIFICATES"
)

// DriverConfiguration is the normalized driver configuration.
// It is immutable after Resolve returns it.
type DriverConfiguration struct {
	// URI is the primary endpoint. Its scheme selects the transport and it
	// may embed user:password@ credentials.
	URI string
	// URIS are alternate cluster endpoints, tried in listed order after the
	// primary fails with unavailability.
	URIS []string

	Credentials Credentials

	PoolSize        int
	EncryptionLevel EncryptionLevel
	TrustStrategy   TrustStrategy
	TrustCertFile   string

	// LivenessCheckTimeout is how long an idle pooled session is trusted
	// before being re-validated. Zero means sessions are always re-validated.
	LivenessCheckTimeout time.Duration

	// HAPropertiesFile points at a further configuration resource holding
	// cluster-specific settings. Only the path is exposed here; its contents
	// are parsed elsewhere.
	HAPropertiesFile string
}

// Resolve builds a DriverConfiguration from raw key/value pairs.
func Resolve(raw map[string]string) (*DriverConfiguration, error) {
	cfg := &DriverConfiguration{
		URI:              raw[KeyURI],
		PoolSize:         constants.DefaultPoolSize,
		EncryptionLevel:  EncryptionRequired,
		TrustStrategy:    TrustNone,
		TrustCertFile:    raw[KeyTrustCertFile],
		HAPropertiesFile: raw[KeyHAPropertiesFile],
	}

	if uris, ok := raw[KeyURIS]; ok && uris != "" {
		for _, u := range strings.Split(uris, ",") {
			cfg.URIS = append(cfg.URIS, strings.TrimSpace(u))
		}
	}

	if v, ok := raw[KeyPoolSize]; ok && v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, &ConfigurationError{Key: KeyPoolSize, Value: v, Err: err}
		}
		if size <= 0 {
			return nil, &ConfigurationError{Key: KeyPoolSize, Value: v, Err: errNotPositive}
		}
		cfg.PoolSize = size
	}

	if v, ok := raw[KeyEncryptionLevel]; ok && v != "" {
		switch EncryptionLevel(strings.ToUpper(v)) {
		case EncryptionRequired:
			cfg.EncryptionLevel = EncryptionRequired
		case EncryptionNone:
			cfg.EncryptionLevel = EncryptionNone
		default:
			return nil, &ConfigurationError{Key: KeyEncryptionLevel, Value: v, Err: errUnknownEnum}
		}
	}

	if v, ok := raw[KeyTrustStrategy]; ok && v != "" {
		switch TrustStrategy(strings.ToUpper(v)) {
		case TrustNone:
			cfg.TrustStrategy = TrustNone
		case TrustOnFirstUse:
			cfg.TrustStrategy = TrustOnFirstUse
		case TrustSignedCertificates:
			cfg.TrustStrategy = TrustSignedCertificates
		default:
			return nil, &ConfigurationError{Key: KeyTrustStrategy, Value: v, Err: errUnknownEnum}
		}
	}

	if v, ok := raw[KeyLivenessTimeout]; ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, &ConfigurationError{Key: KeyLivenessTimeout, Value: v, Err: err}
		}
		cfg.LivenessCheckTimeout = time.Duration(ms) * time.Millisecond
	}

	creds, err := resolveCredentials(raw, cfg.URI)
	if err != nil {
		return nil, err
	}
	cfg.Credentials = creds

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *DriverConfiguration) validate() error {
	if cfg.TrustStrategy != TrustNone && cfg.TrustCertFile == "" {
		return &ConfigurationError{
			Key: KeyTrustCertFile,
			Err: errMissingTrustCert,
		}
	}
	return nil
}

// Candidates returns the ordered endpoint list to try during driver
// construction: the primary URI first, then the alternates in listed order.
// An empty primary URI yields exactly the alternates.
func (cfg *DriverConfiguration) Candidates() []string {
	candidates := make([]string, 0, len(cfg.URIS)+1)
	if cfg.URI != "" {
		candidates = append(candidates, cfg.URI)
	}
	candidates = append(candidates, cfg.URIS...)
	return candidates
}
