package acme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey int

const loggerCtxKey ctxKey = iota

func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerCtxKey).(*slog.Logger); ok {
		return logger
	}
	return fallback
}

// ControlSurface implements the operator-facing HTTP API: status, update,
// and per-artifact PUT/DELETE, plus a Prometheus /acme/metrics endpoint.
type ControlSurface struct {
	ledger       *Ledger
	orchestrator *Orchestrator
	cfgFunc      ConfigFunc
	logger       *slog.Logger
	authSecret   []byte
}

// NewControlSurface constructs a ControlSurface. authSecret verifies bearer
// JWTs on every request; an empty secret disables authentication, which
// callers should only do in tests.
func NewControlSurface(ledger *Ledger, orchestrator *Orchestrator, cfgFunc ConfigFunc, logger *slog.Logger, authSecret string) *ControlSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlSurface{
		ledger:       ledger,
		orchestrator: orchestrator,
		cfgFunc:      cfgFunc,
		logger:       logger,
		authSecret:   []byte(authSecret),
	}
}

// Handler returns the /acme-prefixed http.Handler, wrapped in request-id and
// bearer-auth middleware.
func (c *ControlSurface) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /acme/status", c.handleStatus)
	mux.HandleFunc("POST /acme/update", c.handleUpdate)
	mux.HandleFunc("PUT /acme/{target}", c.handlePut)
	mux.HandleFunc("DELETE /acme/{target}", c.handleDelete)
	mux.Handle("GET /acme/metrics", promhttp.Handler())

	return c.withRequestID(c.withAuth(mux))
}

func (c *ControlSurface) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		logger := c.logger.With("request_id", id)
		r = r.WithContext(withLogger(r.Context(), logger))
		next.ServeHTTP(w, r)
	})
}

func (c *ControlSurface) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/acme/metrics" || len(c.authSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("control: unexpected signing method %v", t.Header["alg"])
			}
			return c.authSecret, nil
		})
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *ControlSurface) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := c.ledger.Snapshot()
	body, err := json.Marshal(snapshot)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleUpdate implements POST /acme/update: 200 and a triggered init() if
// no sub-domain is pending, else 409.
func (c *ControlSurface) handleUpdate(w http.ResponseWriter, r *http.Request) {
	logger := loggerFromContext(r.Context(), c.logger)
	if c.ledger.AnyPending() {
		logger.Warn("update rejected, cycle already in flight")
		w.WriteHeader(http.StatusConflict)
		return
	}
	logger.Info("update requested")
	w.WriteHeader(http.StatusOK)
	go c.orchestrator.Init()
}

func (c *ControlSurface) targetPath(target string) (string, bool) {
	cfg := c.cfgFunc()
	paths := cfg.Artifacts()
	switch target {
	case "account-key":
		return cfg.AccountKeyPath, true
	case "cert":
		return paths.Chain, true
	case "cert-key":
		return paths.Key, true
	case "cert-authorities":
		return paths.TrustedAuthorities, true
	default:
		return "", false
	}
}

// handlePut implements PUT /acme/{target}: 409 if the file already exists
// (operators must DELETE first; PUT never overwrites), else writes the
// body and responds 200, or 500 on I/O failure.
func (c *ControlSurface) handlePut(w http.ResponseWriter, r *http.Request) {
	path, ok := c.targetPath(r.PathValue("target"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if fileExists(path) {
		w.WriteHeader(http.StatusConflict)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	mode := os.FileMode(0o644)
	if r.PathValue("target") == "account-key" || r.PathValue("target") == "cert-key" {
		mode = 0o600
	}
	if err := os.WriteFile(path, body, mode); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDelete implements DELETE /acme/{target}: 200 on removal, 500 on
// failure.
func (c *ControlSurface) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, ok := c.targetPath(r.PathValue("target"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
