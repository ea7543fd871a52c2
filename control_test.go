package acme

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestControlSurface(t *testing.T, authSecret string) (*ControlSurface, *Ledger, CertificateArtifacts, string) {
	t.Helper()
	dir := t.TempDir()
	paths := CertificateArtifacts{
		Chain: filepath.Join(dir, "cert.pem"),
		Key:   filepath.Join(dir, "cert.key"),
	}
	accountKeyPath := filepath.Join(dir, "account.pem")

	cfg := DefaultConfig(dir)
	cfg.CertificateDirectory = dir
	cfg.CertificateFilename = "cert.pem"
	cfg.CertificateKeyFilename = "cert.key"
	cfg.AccountKeyPath = accountKeyPath
	cfgFunc := func() Config { return cfg }

	ledger := NewLedger(discardLogger())
	store := NewStore()
	orchestrator, err := NewOrchestrator(cfgFunc, ledger, store, NopWriter{}, discardLogger(), nil)
	require.NoError(t, err)

	control := NewControlSurface(ledger, orchestrator, cfgFunc, discardLogger(), authSecret)
	return control, ledger, paths, accountKeyPath
}

func signHS256(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestControlSurfaceStatusRequiresAuth(t *testing.T) {
	control, _, _, _ := newTestControlSurface(t, "top-secret")
	srv := httptest.NewServer(control.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/acme/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestControlSurfaceStatusWithValidToken(t *testing.T) {
	control, _, _, _ := newTestControlSurface(t, "top-secret")
	srv := httptest.NewServer(control.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/acme/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, "top-secret"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestControlSurfaceUpdateConflictWhenPending(t *testing.T) {
	control, ledger, _, _ := newTestControlSurface(t, "")
	ledger.Set(SubDomainCertificate, StatusPending)

	srv := httptest.NewServer(control.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/acme/update", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestControlSurfaceUpdateOkWhenIdle(t *testing.T) {
	control, _, _, _ := newTestControlSurface(t, "")
	srv := httptest.NewServer(control.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/acme/update", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestControlSurfacePutThenDeleteCert(t *testing.T) {
	control, _, paths, _ := newTestControlSurface(t, "")
	srv := httptest.NewServer(control.Handler())
	defer srv.Close()

	putReq, err := http.NewRequest(http.MethodPut, srv.URL+"/acme/cert", strings.NewReader("chain-bytes"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(putReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := os.ReadFile(paths.Chain)
	require.NoError(t, err)
	assert.Equal(t, "chain-bytes", string(data))

	putAgainReq, err := http.NewRequest(http.MethodPut, srv.URL+"/acme/cert", strings.NewReader("other"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(putAgainReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "PUT must not overwrite an existing artifact")

	delReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/acme/cert", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, fileExists(paths.Chain))
}

func TestControlSurfaceUnknownTargetIs404(t *testing.T) {
	control, _, _, _ := newTestControlSurface(t, "")
	srv := httptest.NewServer(control.Handler())
	defer srv.Close()

	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodPut, srv.URL+"/acme/nope", strings.NewReader("x")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func mustRequest(t *testing.T, method, url string, body *strings.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	return req
}
