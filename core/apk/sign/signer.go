package sign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.mozilla.org/pkcs7"
)

// Identity is the key pair and self-signed certificate packages are
// signed with.
type Identity struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// NewIdentity generates a fresh RSA-2048 identity with a self-signed
// certificate carrying the platform's organizational attributes. The
// certificate is long-lived: sideload installs compare signatures across
// releases.
func NewIdentity() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         "Paydeck Installer Signing",
			Organization:       []string{"Paydeck"},
			OrganizationalUnit: []string{"Payments Platform"},
			Country:            []string{"US"},
		},
		NotBefore:          now.Add(-time.Hour),
		NotAfter:           now.AddDate(25, 0, 0),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Identity{Key: key, Cert: cert}, nil
}

// LoadIdentity parses PEM-encoded key and certificate material. Used
// when operators pin a signing identity for reproducibility across
// process restarts.
func LoadIdentity(keyPEM, certPEM []byte) (*Identity, error) {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("no PEM block in signing key")
	}
	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err == nil {
		key = parsed
	} else if parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signing key is not RSA")
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errors.New("no PEM block in signing certificate")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing certificate: %w", err)
	}
	return &Identity{Key: key, Cert: cert}, nil
}

// Block produces the detached PKCS#7 signature over the signature-file
// bytes: SHA-256 digests, the signer certificate embedded, and
// authenticated content-type, message-digest and signing-time
// attributes.
func Block(sfBytes []byte, id *Identity) ([]byte, error) {
	if id == nil || id.Key == nil || id.Cert == nil {
		return nil, errors.New("signing identity unavailable")
	}
	sd, err := pkcs7.NewSignedData(sfBytes)
	if err != nil {
		return nil, fmt.Errorf("init signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(id.Cert, id.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("add signer: %w", err)
	}
	sd.Detach()
	block, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("finalize signature block: %w", err)
	}
	return block, nil
}

// Signer owns the process-lifetime signing identity, generating it
// lazily on first use so failed generation can degrade per job instead
// of failing startup.
type Signer struct {
	mu       sync.Mutex
	identity *Identity
	err      error
	loaded   bool
}

// NewSigner wraps a pre-built identity; pass nil to generate one on
// first use.
func NewSigner(identity *Identity) *Signer {
	return &Signer{identity: identity, loaded: identity != nil}
}

// Identity returns the cached identity, generating it once if needed.
func (s *Signer) Identity() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.identity, s.err = NewIdentity()
		s.loaded = true
	}
	return s.identity, s.err
}
