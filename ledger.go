package acme

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ledgerTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "acme_ledger_transitions_total",
		Help: "Number of Status Ledger phase transitions, by sub-domain and resulting status.",
	},
	[]string{"sub_domain", "status"},
)

func init() {
	prometheus.MustRegister(ledgerTransitions)
}

// Ledger is the structured, queryable phase+error record for each
// sub-domain of the certificate lifecycle. Reads (from the Control
// Surface) and writes (from the Orchestrator) may happen from different
// goroutines, so all access is mutex-guarded.
type Ledger struct {
	mu     sync.RWMutex
	states map[SubDomain]*SubDomainState
	logger *slog.Logger
}

// NewLedger constructs a Ledger in the all-unknown state.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{logger: logger}
	l.Reset()
	return l
}

// Reset sets all three sub-domains back to {status: unknown}. Errors are
// sticky until the next Reset.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = map[SubDomain]*SubDomainState{
		SubDomainDirectory:   {Status: StatusUnknown},
		SubDomainAccount:     {Status: StatusUnknown},
		SubDomainCertificate: {Status: StatusUnknown},
	}
}

// Set transitions sub to phase, clearing any previously attached error.
func (l *Ledger) Set(sub SubDomain, phase Status) {
	l.mu.Lock()
	state := l.states[sub]
	state.Status = phase
	state.Error = nil
	l.mu.Unlock()

	ledgerTransitions.WithLabelValues(string(sub), string(phase)).Inc()
	l.logAtSeverity(phase, "acme ledger transition", "sub_domain", sub, "status", phase)
}

// SetError transitions sub to StatusError and attaches a structured error
// payload. Recorded at critical (Error) severity.
func (l *Ledger) SetError(sub SubDomain, kind ErrorKind, data map[string]any) {
	l.mu.Lock()
	state := l.states[sub]
	state.Status = StatusError
	state.Error = &LedgerError{Kind: kind, Data: data}
	l.mu.Unlock()

	ledgerTransitions.WithLabelValues(string(sub), string(StatusError)).Inc()
	l.logger.Error("acme ledger error", "sub_domain", sub, "kind", kind, "data", data)
}

// SetExpiry records the parsed NotAfter of the currently active certificate
// in seconds since the UNIX epoch.
func (l *Ledger) SetExpiry(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	secs := t.Unix()
	l.states[SubDomainCertificate].Expiry = &secs
}

// SetRenewal records the currently armed renewal timer's instant, in
// seconds since the UNIX epoch.
func (l *Ledger) SetRenewal(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	secs := t.Unix()
	l.states[SubDomainCertificate].Renewal = &secs
}

// Status returns the current status of a sub-domain.
func (l *Ledger) Status(sub SubDomain) Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.states[sub].Status
}

// AnyPending reports whether any sub-domain is currently StatusPending,
// the gate POST /acme/update uses to reject a concurrent cycle.
func (l *Ledger) AnyPending() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, state := range l.states {
		if state.Status == StatusPending {
			return true
		}
	}
	return false
}

// Snapshot produces an immutable, serializable copy of the ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Directory:   *l.states[SubDomainDirectory],
		Account:     *l.states[SubDomainAccount],
		Certificate: *l.states[SubDomainCertificate],
	}
}

func (l *Ledger) logAtSeverity(phase Status, msg string, args ...any) {
	switch phase {
	case StatusError:
		l.logger.Error(msg, args...)
	case StatusPending:
		l.logger.Info(msg, args...)
	default:
		l.logger.Debug(msg, args...)
	}
}
