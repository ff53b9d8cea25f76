// Package security turns the configured encryption level and trust strategy
// into concrete transport-security settings.
//
// Resolution happens before any network activity: a trust strategy that
// needs a certificate file fails here when the file is absent, independent
// of endpoint selection.
package security

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/ogmkit/ogmkit.go/pkg/config"
)

// Policy is the resolved transport-security parameters handed to a driver.
type Policy struct {
	// Encrypted reports whether the transport must run over TLS.
	Encrypted bool
	// TLS is the client TLS configuration, nil when Encrypted is false.
	TLS *tls.Config

	TrustStrategy config.TrustStrategy
}

// Resolve maps the configuration into a Policy.
func Resolve(cfg *config.DriverConfiguration) (*Policy, error) {
	policy := &Policy{
		Encrypted:     cfg.EncryptionLevel == config.EncryptionRequired,
		TrustStrategy: cfg.TrustStrategy,
	}

	switch cfg.TrustStrategy {
	case config.TrustNone:
		if policy.Encrypted {
			policy.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		return policy, nil

	case config.TrustSignedCertificates:
		pem, err := readCertFile(cfg.TrustCertFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &config.ConfigurationError{
				Key:   config.KeyTrustCertFile,
				Value: cfg.TrustCertFile,
				Err:   fmt.Errorf("no certificates found"),
			}
		}
		policy.TLS = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		return policy, nil

	case config.TrustOnFirstUse:
		if _, err := readCertFile(cfg.TrustCertFile); err != nil {
			return nil, err
		}
		pin := &firstUsePin{path: cfg.TrustCertFile}
		policy.TLS = &tls.Config{
			// Verification is replaced by the recorded first-use pin.
			InsecureSkipVerify:    true, //nolint:gosec
			VerifyPeerCertificate: pin.verify,
			MinVersion:            tls.VersionTLS12,
		}
		return policy, nil
	}

	return nil, &config.ConfigurationError{
		Key:   config.KeyTrustStrategy,
		Value: string(cfg.TrustStrategy),
		Err:   fmt.Errorf("unrecognized trust strategy"),
	}
}

func readCertFile(path string) ([]byte, error) {
	if path == "" {
		return nil, &config.ConfigurationError{
			Key: config.KeyTrustCertFile,
			Err: fmt.Errorf("missing configuration value for trust.certificate.file"),
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &config.ConfigurationError{
			Key:   config.KeyTrustCertFile,
			Value: path,
			Err:   err,
		}
	}
	return data, nil
}

// firstUsePin implements trust-on-first-use: the first successfully presented
// certificate fingerprint is recorded in the pin file, and every later
// handshake must present the same fingerprint.
type firstUsePin struct {
	mut  sync.Mutex
	path string
}

func (p *firstUsePin) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("server presented no certificate")
	}

	sum := sha256.Sum256(rawCerts[0])
	fingerprint := []byte(hex.EncodeToString(sum[:]))

	p.mut.Lock()
	defer p.mut.Unlock()

	recorded, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	recorded = bytes.TrimSpace(recorded)
	if len(recorded) == 0 {
		return os.WriteFile(p.path, fingerprint, 0o600)
	}

	if !bytes.Equal(recorded, fingerprint) {
		return fmt.Errorf("certificate fingerprint changed since first use")
	}
	return nil
}
