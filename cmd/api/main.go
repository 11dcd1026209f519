package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/doc-qa-assistant/internal/adapters/http"
	"github.com/kirillkom/doc-qa-assistant/internal/bootstrap"
	"github.com/kirillkom/doc-qa-assistant/internal/config"
	"github.com/kirillkom/doc-qa-assistant/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	checks := make([]httpadapter.ReadinessCheck, 0, len(app.Checks))
	for _, c := range app.Checks {
		checks = append(checks, httpadapter.ReadinessCheck{Name: c.Name, Check: c.Fn})
	}
	router := httpadapter.NewRouter(app.Answers, checks, app.Metrics, app.MCP, httpadapter.Options{
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		QueueWait:      cfg.APIBackpressureWait,
		AnswerTimeout:  cfg.AnswerTimeout,
	}, logger).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Answers stream for up to AnswerTimeout.
		WriteTimeout: cfg.AnswerTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "mcp", app.MCP != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
	app.Close(shutdownCtx)
}
