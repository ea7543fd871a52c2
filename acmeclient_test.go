package acme

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAcmeErrPreservesCause(t *testing.T) {
	cause := errors.New("directory unreachable")
	wrapped := wrapAcmeErr("resolve directory", cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "resolve directory")
}

type challengePublisherStub struct {
	added []string
}

func (p *challengePublisherStub) AddChallenge(domain, urlPath, content string) error {
	p.added = append(p.added, domain+urlPath)
	return nil
}
func (p *challengePublisherStub) SelfCheckDuration() time.Duration { return time.Second }
func (p *challengePublisherStub) SelfCheckInterval() time.Duration { return 10 * time.Millisecond }
func (p *challengePublisherStub) Dispose() error                   { return nil }

func TestChallengeSinkProviderPresentPublishesAndPolls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stub := &challengePublisherStub{}
	var urls []string
	sink := &challengeSinkProvider{
		publisher:     stub,
		poller:        NewSelfCheckPoller(),
		logger:        discardLogger(),
		selfCheckURLs: &urls,
	}

	// Present resolves the URL as http://{domain}{urlPath}; use the loopback
	// test server's host:port as the domain to make the self-check reachable.
	domain := srv.Listener.Addr().String()
	err := sink.Present(domain, "token123", "key-auth-value")
	require.NoError(t, err)

	require.Len(t, stub.added, 1)
	assert.Len(t, urls, 1)
	assert.NoError(t, sink.CleanUp(domain, "token123", "key-auth-value"))
}

func TestChallengeSinkProviderDedupesViaCache(t *testing.T) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 100,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	require.NoError(t, err)
	defer cache.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError) // would time out if polled
	}))
	defer srv.Close()

	domain := srv.Listener.Addr().String()
	record := ChallengeRecord{Domain: domain, URLPath: "/.well-known/acme-challenge/token123"}
	cache.Set(record.SelfCheckURL(), true, 1)
	cache.Wait()

	stub := &challengePublisherStub{}
	var urls []string
	sink := &challengeSinkProvider{
		publisher:     stub,
		poller:        NewSelfCheckPoller(),
		logger:        discardLogger(),
		selfCheckURLs: &urls,
		cache:         cache,
	}

	done := make(chan error, 1)
	go func() { done <- sink.Present(domain, "token123", "value") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Present should return immediately for a cached URL")
	}
}
