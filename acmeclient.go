package acme

import (
	"crypto"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// AcmeError wraps a protocol-level failure at any step of the ACME
// exchange.
type AcmeError struct {
	Message string
	Cause   error
}

func (e *AcmeError) Error() string { return e.Message }
func (e *AcmeError) Unwrap() error { return e.Cause }

func wrapAcmeErr(step string, err error) *AcmeError {
	return &AcmeError{Message: fmt.Sprintf("acme: %s: %v", step, err), Cause: err}
}

// acmeUser implements lego's registration.User.
type acmeUser struct {
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return "" }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// AcmeSession drives the ACME account and issuance flow over
// github.com/go-acme/lego/v4: init(directory) -> createAccount ->
// orderCertificate(challengeSink) -> retrieveCertificate. lego's high-level
// Certificate.Obtain bundles order/challenge/finalize/retrieve into one
// call; CreateAccount and ObtainCertificate below are the two remaining
// distinguishable steps a caller drives explicitly.
type AcmeSession struct {
	client *lego.Client
	user   *acmeUser
}

// NewAcmeSession resolves the ACME directory and constructs a client bound
// to accountKey, implementing the "init(directory)" step. EAB is applied at
// registration time, not here, since the go-acme/lego wire format only
// needs it on the newAccount request.
func NewAcmeSession(accountKey crypto.PrivateKey, directoryURL string) (*AcmeSession, error) {
	user := &acmeUser{key: accountKey}
	cfg := lego.NewConfig(user)
	cfg.CADirURL = directoryURL
	cfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, wrapAcmeErr("resolve directory", err)
	}
	return &AcmeSession{client: client, user: user}, nil
}

// CreateAccount registers (or, per lego's semantics, re-derives) the ACME
// account bound to the session's key. eabKid/eabHmac are optional External
// Account Binding credentials.
func (s *AcmeSession) CreateAccount(eabKid, eabHmac string) error {
	var reg *registration.Resource
	var err error
	if eabKid != "" && eabHmac != "" {
		reg, err = s.client.Registration.RegisterWithExternalAccountBinding(registration.RegisterEABOptions{
			TermsOfServiceAgreed: true,
			Kid:                  eabKid,
			HmacEncoded:          eabHmac,
		})
	} else {
		reg, err = s.client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	}
	if err != nil {
		return wrapAcmeErr("create account", err)
	}
	s.user.registration = reg
	return nil
}

// SetChallengeProvider wires a challenge.Provider into the client's HTTP-01
// solver. The Orchestrator passes a challengeSinkProvider bridging whichever
// Publisher is configured (EmbeddedServer, FilesystemDrop or ManualOperator).
func (s *AcmeSession) SetChallengeProvider(p challenge.Provider) error {
	if err := s.client.Challenge.SetHTTP01Provider(p); err != nil {
		return wrapAcmeErr("configure http-01 provider", err)
	}
	return nil
}

// ObtainCertificate runs orderCertificate (which invokes the challenge
// provider's Present for every domain) followed by finalize/retrieve.
func (s *AcmeSession) ObtainCertificate(domains []string) (*certificate.Resource, error) {
	res, err := s.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		return nil, wrapAcmeErr("obtain certificate", err)
	}
	return res, nil
}

// challengeSinkProvider bridges a Publisher into lego's challenge.Provider
// contract. Present registers the challenge with the already-constructed
// Publisher and blocks on the Self-Check Poller before returning, so no
// later ACME phase observes the challenge before it is actually reachable.
type challengeSinkProvider struct {
	publisher     Publisher
	poller        *SelfCheckPoller
	logger        *slog.Logger
	selfCheckURLs *[]string

	// cache dedupes self-check URLs already polled during the Orchestrator's
	// lifetime; a URL is recorded once its poll completes, whether it
	// succeeded or timed out. A flapping ACME server that requests the same
	// challenge twice must not pay for a second poll.
	cache *ristretto.Cache[string, bool]
}

func (c *challengeSinkProvider) Present(domain, token, keyAuth string) error {
	urlPath := http01.ChallengePath(token)
	c.logger.Debug("got challenge", "domain", domain, "url_path", urlPath)

	if err := c.publisher.AddChallenge(domain, urlPath, keyAuth); err != nil {
		return err
	}

	record := ChallengeRecord{Domain: domain, URLPath: urlPath, KeyAuthorization: keyAuth}
	url := record.SelfCheckURL()
	*c.selfCheckURLs = append(*c.selfCheckURLs, url)

	if c.cache != nil {
		if _, alreadyChecked := c.cache.Get(url); alreadyChecked {
			c.logger.Debug("self-check already satisfied earlier this cycle", "url", url)
			return nil
		}
	}

	done := make(chan struct{})
	c.poller.Run([]string{url}, c.publisher.SelfCheckDuration(), c.publisher.SelfCheckInterval(), func() {
		close(done)
	})
	<-done

	if c.cache != nil {
		c.cache.Set(url, true, 1)
	}
	return nil
}

// CleanUp is intentionally a no-op: disposal of the Publisher is centralized
// in the Orchestrator after ObtainCertificate returns, since one Publisher
// instance serves every domain in the order, not just the one CleanUp names.
func (c *challengeSinkProvider) CleanUp(domain, token, keyAuth string) error {
	return nil
}
