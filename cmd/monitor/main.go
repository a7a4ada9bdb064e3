// Futures Watch — a real-time monitor for one futures account.
//
// Architecture:
//
//	main.go                 — entry point: env + rules config, logger, signals
//	engine/engine.go        — orchestrator: stream → aggregator → dispatcher, validation loop
//	exchange/               — REST client (signed/unsigned), listen key, user-data stream
//	classify/               — client-order-id prefix → order category
//	aggregator/             — per-order state machine: dedup, partial-fill windows, emission
//	account/                — short-TTL cached account summary shared by emissions
//	notify/                 — webhook sinks, card rendering, life-cycle/fill dispatch
//	validate/               — rule battery, alert limiter, market metrics, digest loop
//
// What it does:
//
//	The monitor tails the account's user-data stream and turns raw order
//	updates into human-meaningful chat cards: one card per order outcome,
//	with partial fills coalesced inside a time window and stop-order
//	trigger chains collapsed to a single announcement. Independently, a
//	periodic audit checks every open position against a declarative
//	rule-set (whitelists, leverage, margin share, funding, market health)
//	and posts cooldown-limited alert digests.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/laodaluo/futures-watch/internal/config"
	"github.com/laodaluo/futures-watch/internal/engine"
)

func main() {
	// A local .env is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	rules, err := config.LoadRules(cfg.Monitor.RulesPath)
	if err != nil {
		slog.Error("failed to load position rules", "error", err, "path", cfg.Monitor.RulesPath)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, rules, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	errCh := eng.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		eng.Stop()
	case err := <-errCh:
		// Startup failure (e.g. listen key unobtainable) exits nonzero.
		logger.Error("engine failed", "error", err)
		eng.Stop()
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
