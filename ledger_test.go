package acme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerResetIsAllUnknown(t *testing.T) {
	l := NewLedger(nil)
	snap := l.Snapshot()
	assert.Equal(t, StatusUnknown, snap.Directory.Status)
	assert.Equal(t, StatusUnknown, snap.Account.Status)
	assert.Equal(t, StatusUnknown, snap.Certificate.Status)
}

func TestLedgerSetClearsError(t *testing.T) {
	l := NewLedger(nil)
	l.SetError(SubDomainAccount, ErrKindAcme, map[string]any{"message": "boom"})
	require.Equal(t, StatusError, l.Status(SubDomainAccount))

	l.Set(SubDomainAccount, StatusOK)
	snap := l.Snapshot()
	assert.Equal(t, StatusOK, snap.Account.Status)
	assert.Nil(t, snap.Account.Error)
}

func TestLedgerSetErrorRecordsKindAndData(t *testing.T) {
	l := NewLedger(nil)
	l.SetError(SubDomainCertificate, ErrKindMissing, map[string]any{"missing": "cert.pem"})

	snap := l.Snapshot()
	require.NotNil(t, snap.Certificate.Error)
	assert.Equal(t, ErrKindMissing, snap.Certificate.Error.Kind)
	assert.Equal(t, "cert.pem", snap.Certificate.Error.Data["missing"])
}

func TestLedgerAnyPending(t *testing.T) {
	l := NewLedger(nil)
	assert.False(t, l.AnyPending())

	l.Set(SubDomainDirectory, StatusPending)
	assert.True(t, l.AnyPending())

	l.Set(SubDomainDirectory, StatusOK)
	assert.False(t, l.AnyPending())
}

func TestLedgerExpiryAndRenewalRoundTrip(t *testing.T) {
	l := NewLedger(nil)
	expiry := parseRFC3339(t, "2027-01-01T00:00:00Z")
	renewal := parseRFC3339(t, "2026-12-01T00:00:00Z")

	l.SetExpiry(expiry)
	l.SetRenewal(renewal)

	snap := l.Snapshot()
	require.NotNil(t, snap.Certificate.Expiry)
	require.NotNil(t, snap.Certificate.Renewal)
	assert.Equal(t, expiry.Unix(), *snap.Certificate.Expiry)
	assert.Equal(t, renewal.Unix(), *snap.Certificate.Renewal)
}
