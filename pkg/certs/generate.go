// Package certs builds the certificate trust material used by connectors
// that authenticate with asymmetric keys instead of shared secrets. It
// generates self-signed X.509 certificates, persists them to blob storage,
// and registers the public half with the identity provider.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/indexhub/provisioner/pkg/errors"
)

const (
	// KeySize is the RSA modulus size for generated keys.
	KeySize = 2048

	// DefaultValidity is the certificate lifetime when the caller does not
	// specify one.
	DefaultValidity = 3 * 365 * 24 * time.Hour
)

// Subject holds the distinguished-name attributes for a generated
// certificate. CommonName, Country, and Organization are required.
type Subject struct {
	CommonName   string
	Country      string
	Province     string
	Locality     string
	Organization string
}

// Material is a generated certificate and its private key, both PEM
// encoded. Material is produced once and never mutated; stores reference
// it by path rather than embedding it.
type Material struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	CommonName     string
	Subject        Subject
	NotBefore      time.Time
	NotAfter       time.Time
}

// Generate creates an RSA 2048 key pair and a SHA-256 self-signed
// certificate for the given subject. The common name is also set as a
// subject alternative name. A non-positive validity falls back to
// DefaultValidity.
func (s Subject) validate() error {
	if s.CommonName == "" {
		return errors.NewValidationError("certificate subject requires a common name", nil)
	}
	if s.Country == "" {
		return errors.NewValidationError("certificate subject requires a country", nil)
	}
	if s.Organization == "" {
		return errors.NewValidationError("certificate subject requires an organization", nil)
	}
	return nil
}

// Generate creates certificate material for the given subject.
func Generate(subject Subject, validity time.Duration) (*Material, error) {
	if err := subject.validate(); err != nil {
		return nil, err
	}
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, errors.NewCryptoGenerationError("failed to generate RSA key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.NewCryptoGenerationError("failed to generate certificate serial", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(validity)

	name := pkix.Name{
		CommonName:   subject.CommonName,
		Organization: []string{subject.Organization},
		Country:      []string{subject.Country},
	}
	if subject.Province != "" {
		name.Province = []string{subject.Province}
	}
	if subject.Locality != "" {
		name.Locality = []string{subject.Locality}
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		BasicConstraintsValid: true,
		DNSNames:              []string{subject.CommonName},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.NewCryptoGenerationError("failed to create certificate", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &Material{
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
		CommonName:     subject.CommonName,
		Subject:        subject,
		NotBefore:      notBefore,
		NotAfter:       notAfter,
	}, nil
}
