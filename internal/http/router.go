package httpx

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wollkey/go-service-template/internal/bootstrap"
)

// Probe checks one external collaborator for readiness.
type Probe func(context.Context) error

// Router is the scaffold's front controller. It exposes the fixed operational
// surface: the bootstrap trigger, liveness, readiness and metrics. There is
// deliberately no routing engine here; template users replace this with
// whatever dispatch layer their service needs.
type Router struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	runner  *bootstrap.Runner
	limiter RateLimiter
	probes  map[string]Probe

	rateLimit  int
	rateWindow time.Duration

	probeTimeout time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	bootstrapRuns      *prometheus.CounterVec
}

// NewRouter assembles the operational routes. Probes may be nil or empty when
// no optional collaborator is configured.
func NewRouter(logger *slog.Logger, runner *bootstrap.Runner, limiter RateLimiter, probes map[string]Probe, rateLimit int, rateWindow time.Duration, probeTimeout time.Duration) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       logger,
		runner:       runner,
		limiter:      limiter,
		probes:       probes,
		rateLimit:    rateLimit,
		rateWindow:   rateWindow,
		probeTimeout: probeTimeout,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.probeTimeout <= 0 {
		r.probeTimeout = 2 * time.Second
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/bootstrap", r.audit(r.withRateLimit("/bootstrap", r.rateLimit, r.rateWindow, r.handleBootstrap)))
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/readyz", r.audit(r.handleReadyz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleBootstrap(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}

	res, err := r.runner.Run()
	if err != nil {
		r.recordBootstrapRun("error")
		r.logger.Error("bootstrap run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "bootstrap failed")
		return
	}
	r.recordBootstrapRun("ok")
	writeJSON(w, http.StatusOK, map[string]string{
		"dir":  res.Dir,
		"file": res.File,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}

	failing := make([]string, 0, len(r.probes))
	for name, probe := range r.probes {
		ctx, cancel := context.WithTimeout(req.Context(), r.probeTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			r.logger.Warn("readiness probe failed", "collaborator", name, "error", err)
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"failing": failing,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http request", fields...)
		default:
			r.logger.Info("http request", fields...)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
	}
}

func clientIP(req *http.Request) string {
	if fwd := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.IndexRune(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
