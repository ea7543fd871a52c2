// Package zombiezen implements the acme.Writer interface on top of
// zombiezen.com/go/sqlite.
package zombiezen

import (
	"context"
	"fmt"
	"time"

	"github.com/caasmo/acme-lifecycle"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Writer implements acme.Writer using a zombiezen/sqlite connection pool.
type Writer struct {
	pool *sqlitex.Pool
}

// New opens (creating if necessary) the SQLite database at path and ensures
// its schema exists.
func New(path string) (*Writer, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate,
		PoolSize: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("zombiezen: open pool: %w", err)
	}

	w := &Writer{pool: pool}
	if err := w.migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

// NewFromPool wraps an already-open pool, for callers that share one pool
// across several subsystems.
func NewFromPool(pool *sqlitex.Pool) (*Writer, error) {
	if pool == nil {
		return nil, fmt.Errorf("zombiezen: nil pool")
	}
	w := &Writer{pool: pool}
	if err := w.migrate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) migrate() error {
	conn, err := w.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("zombiezen: take connection: %w", err)
	}
	defer w.pool.Put(conn)

	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS cert_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier TEXT NOT NULL,
			domains TEXT NOT NULL,
			chain_pem TEXT NOT NULL,
			key_pem TEXT NOT NULL,
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS account_key_escrow (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_key_path TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			created_at TEXT NOT NULL
		);
	`, nil)
}

// AddCertHistory inserts a certificate issuance record.
func (w *Writer) AddCertHistory(record acme.CertHistoryRecord) error {
	conn, err := w.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("zombiezen: take connection: %w", err)
	}
	defer w.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO cert_history (identifier, domains, chain_pem, key_pem, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{
			Args: []interface{}{
				record.Identifier,
				record.Domains,
				record.ChainPEM,
				record.KeyPEM,
				record.IssuedAt.UTC().Format(time.RFC3339),
				record.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("zombiezen: insert cert history for %q: %w", record.Identifier, err)
	}
	return nil
}

// AddEscrow inserts an age-encrypted account key backup record.
func (w *Writer) AddEscrow(record acme.EscrowRecord) error {
	conn, err := w.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("zombiezen: take connection: %w", err)
	}
	defer w.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO account_key_escrow (account_key_path, ciphertext, created_at)
		 VALUES (?, ?, ?);`,
		&sqlitex.ExecOptions{
			Args: []interface{}{
				record.AccountKeyPath,
				record.Ciphertext,
				record.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("zombiezen: insert escrow for %q: %w", record.AccountKeyPath, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (w *Writer) Close() error {
	return w.pool.Close()
}
