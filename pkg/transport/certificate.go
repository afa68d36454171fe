package transport

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// Certificate is the local DTLS identity.
type Certificate struct {
	tls  tls.Certificate
	x509 *x509.Certificate
}

// GenerateCertificate creates a self signed ECDSA certificate.
func GenerateCertificate() (*Certificate, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, err
	}
	return NewCertificate(cert)
}

// NewCertificate wraps an existing key pair.
func NewCertificate(cert tls.Certificate) (*Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("transport: certificate chain is empty")
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, err
	}
	return &Certificate{tls: cert, x509: parsed}, nil
}

// Fingerprint returns the sha-256 fingerprint of the certificate.
func (c *Certificate) Fingerprint() (Fingerprint, error) {
	value, err := fingerprint.Fingerprint(c.x509, crypto.SHA256)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Algorithm: "sha-256", Value: strings.ToUpper(value)}, nil
}

// TLS returns the key pair.
func (c *Certificate) TLS() tls.Certificate {
	return c.tls
}

func verifyFingerprint(rawCerts [][]byte, want Fingerprint) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: no certificate", ErrFingerprintMismatch)
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return err
	}
	hash, err := fingerprint.HashFromString(want.Algorithm)
	if err != nil {
		return err
	}
	got, err := fingerprint.Fingerprint(cert, hash)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want.Value) {
		return ErrFingerprintMismatch
	}
	return nil
}
