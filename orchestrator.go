package acme

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

const (
	renewalFraction = 2.0 / 3.0
	failureBackoff  = 24 * time.Hour
	updateCheckTick = 24 * time.Hour
)

// ConfigFunc reads the current ACME configuration. It is called fresh at
// the start of every cycle rather than cached, letting operators change
// domains and challenge type without a process restart.
type ConfigFunc func() Config

// Orchestrator is the multi-step protocol driver and scheduler for the
// certificate lifecycle. It owns the current cycle state (implicitly, via
// which method is executing), the renewal schedule, and the currently
// active Publisher.
type Orchestrator struct {
	cfgFunc ConfigFunc
	ledger  *Ledger
	store   *Store
	writer  Writer
	logger  *slog.Logger
	poller  *SelfCheckPoller

	onCertificateUpdated func(CertificateArtifacts)

	group         singleflight.Group
	cache         *ristretto.Cache[string, bool]
	backoffPolicy backoff.BackOff

	mu                sync.Mutex
	renewalTimer      *time.Timer
	updateCheckTicker *time.Ticker
	activePublisher   Publisher
	lastKnownExpiry   time.Time
	stopped           bool
}

// NewOrchestrator constructs an Orchestrator. onCertificateUpdated is called
// (never blocking the caller for long) whenever the active certificate
// changes, whether through issuance or an externally detected rotation.
func NewOrchestrator(cfgFunc ConfigFunc, ledger *Ledger, store *Store, writer Writer, logger *slog.Logger, onCertificateUpdated func(CertificateArtifacts)) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if writer == nil {
		writer = NopWriter{}
	}
	if onCertificateUpdated == nil {
		onCertificateUpdated = func(CertificateArtifacts) {}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create self-check dedupe cache: %w", err)
	}

	return &Orchestrator{
		cfgFunc:              cfgFunc,
		ledger:               ledger,
		store:                store,
		writer:               writer,
		logger:               logger,
		poller:               NewSelfCheckPoller(),
		onCertificateUpdated: onCertificateUpdated,
		cache:                cache,
		backoffPolicy:        backoff.NewConstantBackOff(failureBackoff),
	}, nil
}

// nextFailureDelay consults the retry policy for how long to wait before
// the next attempt after a failed cycle.
func (o *Orchestrator) nextFailureDelay() time.Duration {
	return o.backoffPolicy.NextBackOff()
}

// Start arms the 24h update-check timer and runs an initial Init() cycle.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	o.updateCheckTicker = time.NewTicker(updateCheckTick)
	ticker := o.updateCheckTicker
	o.mu.Unlock()

	go func() {
		for range ticker.C {
			o.updateCheckTick()
		}
	}()

	go o.Init()
}

// Stop cancels all timers and disposes any active Publisher. It does not
// wait for an in-flight Init() cycle to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	if o.renewalTimer != nil {
		o.renewalTimer.Stop()
	}
	if o.updateCheckTicker != nil {
		o.updateCheckTicker.Stop()
	}
	publisher := o.activePublisher
	o.activePublisher = nil
	o.mu.Unlock()

	if publisher != nil {
		if err := publisher.Dispose(); err != nil {
			o.logger.Warn("orchestrator: publisher dispose failed on stop", "error", err)
		}
	}
	o.cache.Close()
}

// Init executes the certificate lifecycle decision tree. Concurrent callers
// (a renewal timer firing at the same instant as a forced update) collapse
// onto a single in-flight execution via singleflight, giving an explicit
// "at most one cycle in flight" guarantee beyond the Control Surface's
// pending-check.
func (o *Orchestrator) Init() {
	_, _, _ = o.group.Do("init", func() (any, error) {
		o.runInit()
		return nil, nil
	})
}

func (o *Orchestrator) runInit() {
	cfg := o.cfgFunc()

	o.ledger.Reset()

	if !cfg.EnableClient {
		return
	}

	paths := cfg.Artifacts()
	chainExists, keyExists := BothExist(paths)

	switch {
	case chainExists && keyExists:
		o.checkExpiry(cfg, paths)
	case !chainExists && !keyExists:
		o.generateCertificate(cfg, paths)
	default:
		missing, present := paths.Chain, paths.Key
		if chainExists {
			missing, present = paths.Key, paths.Chain
		}
		o.ledger.SetError(SubDomainCertificate, ErrKindMissing, map[string]any{
			"missing": missing,
			"present": present,
		})
		o.logger.Error("certificate artifact missing its counterpart",
			"missing", missing, "present", present)
	}
}

func (o *Orchestrator) checkExpiry(cfg Config, paths CertificateArtifacts) {
	cert, err := o.store.Load(paths)
	if err != nil || cert.Empty() {
		o.ledger.SetError(SubDomainCertificate, ErrKindInvalid, map[string]any{"message": "failed to read certificate files"})
		return
	}

	notAfter, err := o.store.ExpiryOf(cert)
	if err != nil {
		o.ledger.SetError(SubDomainCertificate, ErrKindInvalid, map[string]any{"message": err.Error()})
		return
	}

	o.handleRenewal(cfg, notAfter, paths)
}

func (o *Orchestrator) generateCertificate(cfg Config, paths CertificateArtifacts) {
	start := time.Now()

	accountKeyPath := cfg.AccountKeyPath
	keyCreated := !fileExists(accountKeyPath)
	accountKey, err := EnsureAccountKey(accountKeyPath)
	if err != nil {
		kind := ErrKindKeyWrite
		if fileExists(accountKeyPath) {
			kind = ErrKindKeyRead
		}
		o.ledger.SetError(SubDomainAccount, kind, map[string]any{"message": err.Error()})
		observeCycle("key_error", start)
		return
	}

	if keyCreated && cfg.AccountKeyEscrowRecipient != "" {
		o.escrowAccountKey(accountKeyPath, cfg.AccountKeyEscrowRecipient)
	}

	o.ledger.Set(SubDomainDirectory, StatusPending)
	session, err := NewAcmeSession(accountKey, cfg.DirectoryEndpoint)
	if err != nil {
		o.ledger.SetError(SubDomainDirectory, ErrKindAcme, map[string]any{"message": err.Error()})
		o.scheduleRenewalIn(cfg, o.nextFailureDelay())
		observeCycle("acme_error", start)
		return
	}
	o.ledger.Set(SubDomainDirectory, StatusOK)

	o.ledger.Set(SubDomainAccount, StatusPending)
	if err := session.CreateAccount(cfg.EabKid, cfg.EabMac); err != nil {
		o.ledger.SetError(SubDomainAccount, ErrKindAcme, map[string]any{"message": err.Error()})
		o.scheduleRenewalIn(cfg, o.nextFailureDelay())
		observeCycle("acme_error", start)
		return
	}
	o.ledger.Set(SubDomainAccount, StatusOK)
	o.ledger.Set(SubDomainCertificate, StatusPending)

	// Domain resolution happens as part of orderCertificate, after the
	// directory and account are already established, so a bad or empty
	// domain list is attributed to the certificate phase, not to account.
	domains, domainDirs, err := cfg.aceDomains()
	if err != nil {
		o.ledger.SetError(SubDomainCertificate, ErrKindAcme, map[string]any{"message": err.Error()})
		o.scheduleRenewalIn(cfg, o.nextFailureDelay())
		observeCycle("acme_error", start)
		return
	}
	if len(domains) == 0 {
		o.ledger.SetError(SubDomainCertificate, ErrKindAcme, map[string]any{"message": "certificate_domains is empty"})
		o.scheduleRenewalIn(cfg, o.nextFailureDelay())
		observeCycle("acme_error", start)
		return
	}

	publisher, err := NewPublisher(cfg.ChallengeHandlerType, domainDirs, o.logger, cfg.OperatorNotifyEmail)
	if err != nil {
		o.ledger.SetError(SubDomainCertificate, ErrKindAcme, map[string]any{"message": err.Error()})
		o.scheduleRenewalIn(cfg, o.nextFailureDelay())
		observeCycle("acme_error", start)
		return
	}
	o.mu.Lock()
	o.activePublisher = publisher
	o.mu.Unlock()

	var selfCheckURLs []string
	sink := &challengeSinkProvider{
		publisher:     publisher,
		poller:        o.poller,
		logger:        o.logger,
		selfCheckURLs: &selfCheckURLs,
		cache:         o.cache,
	}
	if err := session.SetChallengeProvider(sink); err != nil {
		o.abortCycle(publisher, SubDomainCertificate, err, cfg, start)
		return
	}

	resource, err := session.ObtainCertificate(domains)
	if err != nil {
		o.abortCycle(publisher, SubDomainCertificate, err, cfg, start)
		return
	}

	o.disposePublisher(publisher)

	cert := Certificate{ChainPEM: resource.Certificate, KeyPEM: resource.PrivateKey}
	if err := o.store.Write(cert, paths); err != nil {
		o.ledger.SetError(SubDomainCertificate, ErrKindWrite, map[string]any{"message": err.Error()})
		o.scheduleRenewalIn(cfg, o.nextFailureDelay())
		observeCycle("write_error", start)
		return
	}

	notAfter, err := o.store.ExpiryOf(cert)
	if err != nil {
		notAfter = time.Now().Add(60 * 24 * time.Hour) // conservative fallback so a timer still gets armed
	}

	o.recordHistory(domains, cert, notAfter)

	o.onCertificateUpdated(paths)
	o.handleRenewal(cfg, notAfter, paths)
	observeCycle("ok", start)
}

func (o *Orchestrator) abortCycle(publisher Publisher, sub SubDomain, err error, cfg Config, start time.Time) {
	o.disposePublisher(publisher)
	o.ledger.SetError(sub, ErrKindAcme, map[string]any{"message": err.Error()})
	o.scheduleRenewalIn(cfg, o.nextFailureDelay())
	observeCycle("acme_error", start)
}

func (o *Orchestrator) disposePublisher(publisher Publisher) {
	o.mu.Lock()
	if o.activePublisher == publisher {
		o.activePublisher = nil
	}
	o.mu.Unlock()

	if err := publisher.Dispose(); err != nil {
		o.logger.Warn("orchestrator: publisher dispose failed", "error", err)
	}
}

func (o *Orchestrator) escrowAccountKey(accountKeyPath, recipient string) {
	pemBytes, err := os.ReadFile(accountKeyPath)
	if err != nil || len(pemBytes) == 0 {
		o.logger.Warn("orchestrator: could not read account key for escrow", "path", accountKeyPath, "error", err)
		return
	}
	ciphertext, err := Escrow(pemBytes, recipient)
	if err != nil {
		o.logger.Warn("orchestrator: account key escrow failed", "error", err)
		return
	}
	if err := o.writer.AddEscrow(EscrowRecord{
		AccountKeyPath: accountKeyPath,
		Ciphertext:     ciphertext,
		CreatedAt:      time.Now(),
	}); err != nil {
		o.logger.Warn("orchestrator: account key escrow write failed", "error", err)
	}
}

func (o *Orchestrator) recordHistory(domains []string, cert Certificate, notAfter time.Time) {
	if len(domains) == 0 {
		return
	}
	domainsJSON, err := json.Marshal(domains)
	if err != nil {
		o.logger.Warn("orchestrator: failed to marshal domains for history", "error", err)
		return
	}
	err = o.writer.AddCertHistory(CertHistoryRecord{
		Identifier: domains[0],
		Domains:    string(domainsJSON),
		ChainPEM:   string(cert.ChainPEM),
		KeyPEM:     string(cert.KeyPEM),
		IssuedAt:   time.Now(),
		ExpiresAt:  notAfter,
	})
	if err != nil {
		o.logger.Warn("orchestrator: failed to record certificate history", "identifier", domains[0], "error", err)
	}
}

// handleRenewal records expiry, computes the two-thirds renewal window, and
// either arms a timer or re-enters generateCertificate immediately if the
// window already elapsed.
func (o *Orchestrator) handleRenewal(cfg Config, expiry time.Time, paths CertificateArtifacts) {
	o.ledger.Set(SubDomainCertificate, StatusOK)
	o.ledger.SetExpiry(expiry)

	o.mu.Lock()
	o.lastKnownExpiry = expiry
	o.mu.Unlock()

	remaining := time.Duration(float64(time.Until(expiry)) * renewalFraction)
	if remaining > 0 {
		o.scheduleRenewalIn(cfg, remaining)
		return
	}
	o.generateCertificate(cfg, paths)
}

// scheduleRenewalIn cancels any existing timer and arms a new one, keeping
// at most one renewal timer armed at a time.
func (o *Orchestrator) scheduleRenewalIn(cfg Config, d time.Duration) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	if o.renewalTimer != nil {
		o.renewalTimer.Stop()
	}
	o.renewalTimer = time.AfterFunc(d, o.Init)
	o.mu.Unlock()

	at := time.Now().Add(d)
	o.ledger.SetRenewal(at)
	o.logger.Info("renewal scheduled", "at", humanize.Time(at), "in", d)
}

// updateCheckTick re-reads the artifacts every 24h and, if the parsed
// expiry is strictly later than the last-known expiry, fires
// certificateUpdated and adopts the new expiry, permitting manual
// out-of-band rotation without a restart.
func (o *Orchestrator) updateCheckTick() {
	cfg := o.cfgFunc()
	if !cfg.EnableClient {
		return
	}
	paths := cfg.Artifacts()
	chainExists, keyExists := BothExist(paths)
	if !chainExists || !keyExists {
		return
	}

	cert, err := o.store.Load(paths)
	if err != nil || cert.Empty() {
		return
	}
	newExpiry, err := o.store.ExpiryOf(cert)
	if err != nil {
		return
	}

	o.mu.Lock()
	last := o.lastKnownExpiry
	o.mu.Unlock()

	if last.IsZero() || newExpiry.After(last) {
		o.onCertificateUpdated(paths)
		o.mu.Lock()
		o.lastKnownExpiry = newExpiry
		o.mu.Unlock()
		o.ledger.SetExpiry(newExpiry)
		o.logger.Info("detected externally updated certificate", "new_expiry", humanize.Time(newExpiry))
	}
}
