package zombiezen

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acme "github.com/caasmo/acme-lifecycle"
)

func TestWriterAddCertHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	w, err := New(path)
	require.NoError(t, err)
	defer w.Close()

	err = w.AddCertHistory(acme.CertHistoryRecord{
		Identifier: "example.com",
		Domains:    `["example.com","www.example.com"]`,
		ChainPEM:   "chain-pem-bytes",
		KeyPEM:     "key-pem-bytes",
		IssuedAt:   time.Now(),
		ExpiresAt:  time.Now().Add(90 * 24 * time.Hour),
	})
	assert.NoError(t, err)
}

func TestWriterAddEscrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	w, err := New(path)
	require.NoError(t, err)
	defer w.Close()

	err = w.AddEscrow(acme.EscrowRecord{
		AccountKeyPath: "/var/lib/acme/account.pem",
		Ciphertext:     []byte("age-ciphertext"),
		CreatedAt:      time.Now(),
	})
	assert.NoError(t, err)
}

func TestNewFromPoolRejectsNilPool(t *testing.T) {
	_, err := NewFromPool(nil)
	assert.Error(t, err)
}

func TestNewCreatesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	w1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := New(path)
	require.NoError(t, err)
	defer w2.Close()
}
