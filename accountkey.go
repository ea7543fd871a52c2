package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"filippo.io/age"
)

// EnsureAccountKey loads the PEM-encoded account private key at path,
// generating and persisting a fresh ECDSA P-256 key with owner-only
// permissions if none exists yet. The key is created on first use and never
// rotated automatically.
func EnsureAccountKey(path string) (*ecdsa.PrivateKey, error) {
	if !fileExists(path) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("accountkey: generate: %w", err)
		}
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("accountkey: marshal: %w", err)
		}
		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("accountkey: write: %w", err)
		}
		return key, nil
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accountkey: read: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("accountkey: no PEM block in %s", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("accountkey: parse: %w", err)
	}
	return key, nil
}

// Escrow age-encrypts the account key PEM to recipient, returning the
// ciphertext to be mirrored into the history store. It is a best-effort
// backup channel: callers should log and continue on failure rather than
// aborting a cycle over it.
func Escrow(pemBytes []byte, recipientStr string) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(recipientStr)
	if err != nil {
		return nil, fmt.Errorf("accountkey: parse escrow recipient: %w", err)
	}

	var out ageBuffer
	w, err := age.Encrypt(&out, recipient)
	if err != nil {
		return nil, fmt.Errorf("accountkey: open escrow encryptor: %w", err)
	}
	if _, err := w.Write(pemBytes); err != nil {
		return nil, fmt.Errorf("accountkey: encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("accountkey: finalize escrow: %w", err)
	}
	return out.Bytes(), nil
}

// ageBuffer is a minimal io.Writer sink; age.Encrypt wants an io.Writer and
// we want the resulting bytes rather than a stream.
type ageBuffer struct {
	data []byte
}

func (b *ageBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *ageBuffer) Bytes() []byte { return b.data }
