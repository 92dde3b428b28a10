package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cshiyuan/browser-brain/agent"
	"github.com/Cshiyuan/browser-brain/api"
	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/executor"
	"github.com/Cshiyuan/browser-brain/linkcheck"
	"github.com/Cshiyuan/browser-brain/notify"
	"github.com/Cshiyuan/browser-brain/recovery"
	"github.com/Cshiyuan/browser-brain/session"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("browser-brain starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"headless", cfg.Browser.Headless,
		"model", cfg.Agent.Model,
	)

	// ── 3. Wire the orchestration core ──────────────────────────────
	// Sessions launch lazily, so the factory itself is cheap.
	factory := session.NewFactory(cfg.Browser)

	// The reasoning backend is chosen once, here; everything downstream
	// sees only the Capability interface.
	llm := agent.NewLLMClient(cfg.Agent, nil)
	capability := agent.NewBrowserAgent(llm)

	exec := executor.New(capability, executor.SlogSink{}, cfg.Executor)

	// Every task run goes through challenge recovery.
	rec := recovery.New(exec, cfg.Recovery)
	if cfg.Recovery.WebhookURL != "" {
		webhookURL := cfg.Recovery.WebhookURL
		webhookSecret := cfg.Recovery.WebhookSecret
		rec.Notify = func(sessionID string, remaining time.Duration) {
			slog.Info("challenge wait", "session", sessionID, "remaining", remaining)
			notify.DeliverAsync(webhookURL, webhookSecret, &notify.Event{
				Type:      notify.EventChallengeWait,
				SessionID: sessionID,
				Data:      map[string]any{"remaining_seconds": int(remaining.Seconds())},
			})
		}
	}

	checker := linkcheck.NewChecker(cfg.Browser.DefaultProxy)

	// ── 4. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(factory, rec, checker, cfg, startTime)

	// ── 5. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 6. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete. Handler defers
	// force-close any sessions their requests own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("browser-brain stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
