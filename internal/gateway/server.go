// Package gateway hosts the single HTTP listener that serves the
// Meta-MCP endpoint, direct backend passthrough, and the aggregated
// health check, per spec.md §4.9.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/mcp-gateway/internal/backend"
	"github.com/giantswarm/mcp-gateway/internal/metamcp"
	"github.com/giantswarm/mcp-gateway/internal/transport"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// Config is the HTTP listener's own settings; backend/capability/config
// loading lives upstream in cmd/gateway.
type Config struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) requestTimeoutOrDefault() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout
}

func (c Config) shutdownTimeoutOrDefault() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ShutdownTimeout
}

// Server is the gateway's HTTP front door.
type Server struct {
	cfg      Config
	handler  *metamcp.Handler
	backends *backend.Registry
	http     *http.Server
}

func New(cfg Config, handler *metamcp.Handler, backends *backend.Registry) *Server {
	s := &Server{cfg: cfg, handler: handler, backends: backends}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.handleMCP)
	mux.HandleFunc("POST /mcp/{backend}", s.handleBackendPassthrough)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Run starts accepting connections and blocks until ctx is cancelled (by a
// caught SIGINT/SIGTERM upstream), at which point it stops accepting new
// connections, awaits in-flight handlers for ShutdownTimeout, and stops
// every backend.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway", "listening on %s", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("gateway", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.shutdownTimeoutOrDefault())
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)
	s.backends.StopAll()
	return err
}

// handleMCP is the Meta-MCP endpoint: JSON-RPC request/notification
// framing per spec.md §6, dispatched to the metamcp.Handler.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req metamcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, transport.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &transport.JSONRPCError{Code: -32700, Message: "parse error: " + err.Error()},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.requestTimeoutOrDefault())
	defer cancel()

	resp, err := s.handler.Handle(ctx, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if resp == nil {
		// Notification: acknowledged, no JSON-RPC response body.
		writeJSON(w, http.StatusAccepted, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBackendPassthrough forwards the JSON-RPC envelope verbatim to a
// named backend, bypassing the Meta-MCP tool surface entirely.
func (s *Server) handleBackendPassthrough(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("backend")
	b, err := s.backends.Get(name)
	if err != nil {
		writeJSON(w, http.StatusOK, transport.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &transport.JSONRPCError{Code: -32001, Message: fmt.Sprintf("backend not found: %s", name)},
		})
		return
	}

	var req metamcp.Request
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeJSON(w, http.StatusOK, transport.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &transport.JSONRPCError{Code: -32700, Message: "parse error: " + decodeErr.Error()},
		})
		return
	}

	if req.IsNotification() {
		b.Notify(r.Context(), req.Method, req.Params)
		writeJSON(w, http.StatusAccepted, map[string]any{})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.requestTimeoutOrDefault())
	defer cancel()

	resp, reqErr := b.Request(ctx, req.Method, req.Params)
	if reqErr != nil {
		http.Error(w, reqErr.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthReport is GET /health's JSON body.
type healthReport struct {
	Status   string           `json:"status"`
	Backends []backend.Status `json:"backends"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	backends := s.backends.All()
	statuses := make([]backend.Status, 0, len(backends))
	allClosed := true
	for _, b := range backends {
		status := b.Status()
		statuses = append(statuses, status)
		if status.BreakerState != "Closed" {
			allClosed = false
		}
	}

	report := healthReport{Backends: statuses}
	code := http.StatusOK
	if allClosed {
		report.Status = "ok"
	} else {
		report.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
