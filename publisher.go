package acme

import (
	"fmt"
	"log/slog"
	"time"
)

// Publisher is the pluggable side-channel that makes an HTTP-01 challenge
// token reachable at http://{domain}{urlPath}. Once AddChallenge returns, a
// correctly configured Publisher guarantees the content is served until
// Dispose is called.
type Publisher interface {
	AddChallenge(domain, urlPath, content string) error
	SelfCheckDuration() time.Duration
	SelfCheckInterval() time.Duration
	Dispose() error
}

// NewPublisher constructs the configured Publisher variant. domainDirs
// supplies the per-domain directory FilesystemDrop writes under; it is
// ignored by the other two variants.
func NewPublisher(handlerType ChallengeHandlerType, domainDirs map[string]string, logger *slog.Logger, notifyEmail string) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch handlerType {
	case ChallengeHandlerServer, "":
		return NewEmbeddedServerPublisher(logger)
	case ChallengeHandlerFiles:
		return NewFilesystemDropPublisher(domainDirs, logger), nil
	case ChallengeHandlerManual:
		return NewManualOperatorPublisher(logger, notifyEmail), nil
	default:
		return nil, fmt.Errorf("publisher: unknown challenge handler type %q", handlerType)
	}
}
