// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jeremyhahn/go-tpmengine/pkg/correlation"
	"github.com/jeremyhahn/go-tpmengine/pkg/engine"
	"github.com/jeremyhahn/go-tpmengine/pkg/health"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/metrics"
	"github.com/jeremyhahn/go-tpmengine/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 10 * time.Second
	collectorInterval = 15 * time.Second
	readHeaderTimeout = 10 * time.Second

	// slowRandom marks the TPM check degraded
	slowRandom = time.Second
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve TPM random bytes, signatures and public keys over HTTP",
		Long: `Serve the engine over HTTP until interrupted.

  GET  /random?n=<count>[&encoding=hex|base64]
  POST /sign                    {"key_id": "...", "digest": "<hex>"}
  GET  /keys/{handle}/public    PEM encoded public key
  GET  /healthz                 TPM readiness report
  GET  /metrics                 Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				a.cfg.Server.Listen = listen
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "", "listen address (default from config, 127.0.0.1:8080)")
	return cmd
}

// serve runs the HTTP server until ctx is done, then drains it and
// stops the engine
func (a *app) serve(ctx context.Context) error {
	if a.cfg.Metrics.Enabled {
		metrics.Enable()
		collector := metrics.StartResourceCollector(ctx, collectorInterval)
		defer collector.Stop()
	} else {
		metrics.Disable()
	}

	unregister := a.engine.StopOnDone(ctx)
	defer unregister()

	srv := newServer(a)
	go srv.limiter.Run(ctx, 0)

	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Listen, err)
	}
	httpServer := &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	srv.checker.MarkStarted()
	a.logger.Info("serving", "addr", ln.Addr().String(), "engine", engine.ID)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	srv.checker.MarkStopping()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return a.engine.Destroy()
}

// server exposes the engine over HTTP
type server struct {
	engine    *engine.Engine
	logger    *logging.Logger
	checker   *health.Checker
	limiter   *ratelimit.Limiter
	maxRandom int
	metrics   string
	health    string
}

func newServer(a *app) *server {
	checker := health.NewChecker(a.cfg.TPM.Timeout)
	checker.Register("tpm", health.RandomCheck("tpm", a.engine.GetRandomBytesContext, slowRandom))

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	return &server{
		engine:    a.engine,
		logger:    a.logger,
		checker:   checker,
		limiter:   ratelimit.New(&a.cfg.Server.RateLimit),
		maxRandom: a.cfg.Server.MaxRandom,
		metrics:   metricsPath,
		health:    a.cfg.Server.HealthPath,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlation.Middleware)
	r.Use(metrics.HTTPMiddleware)

	r.Method(http.MethodGet, s.health, s.checker.Handler())
	if s.metrics != "" {
		r.Method(http.MethodGet, s.metrics, promhttp.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.limiter))
		r.Get("/random", s.handleRandom)
		r.Post("/sign", s.handleSign)
		r.Get("/keys/{handle}/public", s.handlePublicKey)
	})
	return r
}

type signRequest struct {
	KeyID  string `json:"key_id"`
	Digest string `json:"digest"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Type          string `json:"type"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *server) handleRandom(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || count < 0 || count > s.maxRandom {
		s.writeError(w, r, fmt.Errorf("n must be between 0 and %d", s.maxRandom), http.StatusBadRequest)
		return
	}
	encoding := r.URL.Query().Get("encoding")
	if _, err := encode(nil, encoding); err != nil {
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}

	buf := make([]byte, count)
	if err := s.engine.GetRandomBytesContext(r.Context(), buf); err != nil {
		s.writeError(w, r, err, statusFor(err))
		return
	}
	encoded, err := encode(buf, encoding)
	if err != nil {
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	if encoding == "" {
		encoding = "hex"
	}
	writeJSON(w, map[string]interface{}{
		"count":    count,
		"encoding": encoding,
		"bytes":    encoded,
	}, http.StatusOK)
}

func (s *server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if req.KeyID == "" {
		s.writeError(w, r, errors.New("key_id is required"), http.StatusBadRequest)
		return
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(req.Digest, "0x"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("invalid digest: %w", err), http.StatusBadRequest)
		return
	}

	der, err := s.engine.SignContext(r.Context(), digest, req.KeyID)
	if err != nil {
		s.writeError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, map[string]interface{}{
		"signature": base64.StdEncoding.EncodeToString(der),
	}, http.StatusOK)
}

// handlePublicKey answers with the PEM encoded public key of the handle.
// Reading a public area needs no authorization.
func (s *server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	pub, err := s.engine.ReadPublic(chi.URLParam(r, "handle") + ";")
	if err != nil {
		s.writeError(w, r, err, statusFor(err))
		return
	}
	der, err := pub.MarshalPKIX()
	if err != nil {
		s.writeError(w, r, err, statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_ = pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error, code int) {
	id := correlation.GetCorrelationID(r.Context())
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			correlation.LogKey, id,
			"path", r.URL.Path,
			"error", err.Error())
	}
	writeJSON(w, errorResponse{
		Error:         err.Error(),
		Type:          engine.ErrorType(err),
		Code:          code,
		CorrelationID: id,
	}, code)
}

// statusFor maps an engine error to an HTTP status code
func statusFor(err error) int {
	switch engine.ErrorType(err) {
	case engine.ErrorTypeMalformedIdentifier:
		return http.StatusBadRequest
	case engine.ErrorTypeDevice:
		return http.StatusBadGateway
	case engine.ErrorTypeTransport:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, engine.ErrRandomTooLarge), errors.Is(err, engine.ErrNoKeyLoaded):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotSupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
