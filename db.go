package acme

import "time"

// CertHistoryRecord is one row of the certificate issuance audit trail.
// It is written on every successful issuance but never consulted to decide
// renewal; the filesystem artifacts remain the sole source of truth.
type CertHistoryRecord struct {
	Identifier string // primary domain
	Domains    string // JSON array of all domains covered
	ChainPEM   string
	KeyPEM     string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// EscrowRecord mirrors an age-encrypted account key alongside the history
// store.
type EscrowRecord struct {
	AccountKeyPath string
	Ciphertext     []byte
	CreatedAt      time.Time
}

// Writer persists certificate history and account key escrow records.
type Writer interface {
	AddCertHistory(record CertHistoryRecord) error
	AddEscrow(record EscrowRecord) error
}

// NopWriter discards everything written to it. NewOrchestrator uses it when
// given a nil Writer; history is a diagnostic aid, never load-bearing for
// certificate issuance or renewal.
type NopWriter struct{}

func (NopWriter) AddCertHistory(CertHistoryRecord) error { return nil }
func (NopWriter) AddEscrow(EscrowRecord) error           { return nil }
