package acme

import (
	"time"
)

// CertificateArtifacts holds the filesystem paths of the three files that
// make up a certificate on disk. Chain and Key must exist together or not
// at all; TrustedAuthorities is optional (a CA bundle, never written by the
// Store; operators upload it through the Control Surface).
type CertificateArtifacts struct {
	Chain              string
	Key                string
	TrustedAuthorities string
}

// Certificate is a certificate chain and private key read from disk, with
// the leaf's NotAfter parsed out for renewal scheduling.
type Certificate struct {
	ChainPEM []byte
	KeyPEM   []byte
	NotAfter time.Time
}

// Empty reports whether either half of the pair is missing content. Store.Load
// returns an empty Certificate on a read error, so callers treat both alike.
func (c Certificate) Empty() bool {
	return len(c.ChainPEM) == 0 || len(c.KeyPEM) == 0
}

// ChallengeRecord is one HTTP-01 challenge handed to a Publisher between the
// moment the ACME server issues it and the moment the order finalizes or the
// cycle aborts.
type ChallengeRecord struct {
	Domain           string
	URLPath          string
	KeyAuthorization string
}

// SelfCheckURL is the fully qualified URL a Publisher promises to answer
// once a ChallengeRecord has been published.
func (c ChallengeRecord) SelfCheckURL() string {
	return "http://" + c.Domain + c.URLPath
}

// Status is the coarse state of one Ledger sub-domain.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// ErrorKind classifies why a sub-domain transitioned to StatusError.
type ErrorKind string

const (
	ErrKindMissing  ErrorKind = "missing"
	ErrKindWrite    ErrorKind = "write"
	ErrKindInvalid  ErrorKind = "invalid"
	ErrKindKeyRead  ErrorKind = "key-read"
	ErrKindKeyWrite ErrorKind = "key-write"
	ErrKindAcme     ErrorKind = "acme"
)

// SubDomain names one of the three tracked phases of a cycle.
type SubDomain string

const (
	SubDomainDirectory   SubDomain = "directory"
	SubDomainAccount     SubDomain = "account"
	SubDomainCertificate SubDomain = "certificate"
)

// LedgerError is the structured payload attached to an errored sub-domain.
type LedgerError struct {
	Kind ErrorKind      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// SubDomainState is the ledger entry for a single sub-domain.
type SubDomainState struct {
	Status  Status       `json:"status"`
	Error   *LedgerError `json:"error,omitempty"`
	Expiry  *int64       `json:"expiry,omitempty"`
	Renewal *int64       `json:"renewal,omitempty"`
}

// Snapshot is the immutable, JSON-serializable view of the Ledger returned
// by GET /acme/status.
type Snapshot struct {
	Directory   SubDomainState `json:"directory"`
	Account     SubDomainState `json:"account"`
	Certificate SubDomainState `json:"certificate"`
}
