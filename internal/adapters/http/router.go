package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ServerMetrics is the HTTP-facing part of the metrics layer.
type ServerMetrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	RecordRejected(reason string)
}

type Options struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	QueueWait        time.Duration
	AnswerTimeout    time.Duration
	MaxQuestionChars int
	ReadinessTimeout time.Duration
}

func (o Options) normalize() Options {
	if o.MaxQuestionChars <= 0 {
		o.MaxQuestionChars = 4000
	}
	if o.QueueWait <= 0 {
		o.QueueWait = 250 * time.Millisecond
	}
	if o.ReadinessTimeout <= 0 {
		o.ReadinessTimeout = 2 * time.Second
	}
	return o
}

type Router struct {
	answers   ports.AnswerService
	readiness []ReadinessCheck
	metrics   ServerMetrics
	mcp       http.Handler
	opts      Options
	logger    *slog.Logger
}

// NewRouter wires the answer API. metrics and mcp are optional.
func NewRouter(answers ports.AnswerService, readiness []ReadinessCheck, metrics ServerMetrics, mcp http.Handler, opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		answers:   answers,
		readiness: readiness,
		metrics:   metrics,
		mcp:       mcp,
		opts:      opts.normalize(),
		logger:    logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /readyz", rt.readyz)

	var rejections rejectionRecorder
	if rt.metrics != nil {
		rejections = rt.metrics
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	// Only answer traffic is throttled; health checks and scrapes are not.
	throttle := func(h http.Handler) http.Handler {
		h = backpressureMiddleware(h, rt.opts.MaxInFlight, rt.opts.QueueWait, rejections)
		return rateLimitMiddleware(h, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, rejections)
	}
	mux.Handle("POST /v1/answer", throttle(http.HandlerFunc(rt.postAnswer)))
	mux.Handle("GET /v1/answer/stream", throttle(http.HandlerFunc(rt.getAnswerStream)))
	if rt.mcp != nil {
		mux.Handle("/mcp", throttle(rt.mcp))
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.opts.ReadinessTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(rt.readiness))
	for _, check := range rt.readiness {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[check.Name] = err.Error()
			rt.logger.Warn("readiness_check_failed", "check", check.Name, "error", err)
			continue
		}
		checks[check.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
