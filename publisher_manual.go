package acme

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/domodwyer/mailyak/v3"
)

// LevelNotice sits between Info and Warn; slog has no built-in "notice"
// level.
const LevelNotice = slog.Level(2)

// ManualOperatorPublisher performs no publication of its own: it logs the
// challenge for an operator to satisfy by hand, and optionally emails it.
// Grounded on the "manual" variant (AcmeHttpChallengeManual) in
// original_source/domain-server/src/DomainServerAcmeClient.cpp.
type ManualOperatorPublisher struct {
	logger      *slog.Logger
	notifyEmail string

	// sendMail is overridable in tests; defaults to mailyak's SMTP send.
	sendMail func(domain, urlPath, content, to string) error
}

// NewManualOperatorPublisher constructs a ManualOperatorPublisher. If
// notifyEmail is non-empty, every challenge is also emailed there via
// mailyak, using localhost:25 as the outgoing relay (an operator running
// this handler is expected to have local mail delivery configured).
func NewManualOperatorPublisher(logger *slog.Logger, notifyEmail string) *ManualOperatorPublisher {
	return &ManualOperatorPublisher{
		logger:      logger,
		notifyEmail: notifyEmail,
		sendMail:    sendManualChallengeMail,
	}
}

func sendManualChallengeMail(domain, urlPath, content, to string) error {
	mail := mailyak.New("localhost:25", smtp.PlainAuth("", "", "", "localhost"))
	mail.To(to)
	mail.From("acme@" + domain)
	mail.Subject(fmt.Sprintf("ACME HTTP-01 challenge pending for %s", domain))
	mail.Plain().Set(fmt.Sprintf("Domain: %s\nLocation: %s\nContent: %s\n", domain, urlPath, content))
	return mail.Send()
}

// AddChallenge logs the challenge and, if configured, emails the operator.
func (p *ManualOperatorPublisher) AddChallenge(domain, urlPath, content string) error {
	p.logger.Log(context.Background(), LevelNotice, "manual ACME challenge pending",
		"domain", domain, "url_path", urlPath, "content", content)

	if p.notifyEmail == "" {
		return nil
	}
	if err := p.sendMail(domain, urlPath, content, p.notifyEmail); err != nil {
		p.logger.Warn("publisher(manual): failed to email operator", "to", p.notifyEmail, "error", err)
	}
	return nil
}

// SelfCheckDuration is 120s, giving the operator time to satisfy the
// challenge by hand.
func (p *ManualOperatorPublisher) SelfCheckDuration() time.Duration { return 120 * time.Second }

func (p *ManualOperatorPublisher) SelfCheckInterval() time.Duration { return time.Second }

// Dispose is a no-op: ManualOperatorPublisher owns no side-effecting state.
func (p *ManualOperatorPublisher) Dispose() error { return nil }
