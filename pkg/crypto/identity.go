package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

var ErrInvalidKey = errors.New("invalid key")

// Identity is an Ed25519 signing keypair identifying this node. It
// satisfies the signer and verifier interfaces the transport consumes.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewIdentity generates a fresh keypair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{priv: priv, pub: pub}, nil
}

// Sign signs data with the private key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(id.priv, data), nil
}

// Verify checks a signature against an arbitrary peer public key.
func (id *Identity) Verify(data, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

// PublicKey returns the raw public key bytes.
func (id *Identity) PublicKey() []byte {
	out := make([]byte, len(id.pub))
	copy(out, id.pub)
	return out
}

// Fingerprint returns the hex BLAKE2b-256 digest of the public key,
// usable as a stable peer id.
func (id *Identity) Fingerprint() (string, error) {
	return HashString(id.pub)
}

// ExportPEM exports the private key as a PEM block.
func (id *Identity) ExportPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(id.priv)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	}
	return pem.EncodeToMemory(block), nil
}

// ImportPEM imports a PEM encoded private key.
func ImportPEM(pemData []byte) (*Identity, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return &Identity{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// SaveToFile writes the PEM encoded private key with owner-only access.
func (id *Identity) SaveToFile(filename string) error {
	pemData, err := id.ExportPEM()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, pemData, 0600)
}

// LoadFromFile reads a PEM encoded identity from disk.
func LoadFromFile(filename string) (*Identity, error) {
	pemData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ImportPEM(pemData)
}
