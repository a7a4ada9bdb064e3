// Package engine is the central orchestrator of the account monitor.
//
// It wires together all subsystems:
//
//  1. The user-data stream feeds normalized order events.
//  2. The aggregator's serial worker turns them into notifications.
//  3. The dispatcher splits notifications between the life-cycle and fill
//     webhooks; EXPIRED events go to it directly since the aggregator only
//     tears state down for them.
//  4. The validation service periodically audits positions against the
//     rule-set and posts digest cards to the alert webhook.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/laodaluo/futures-watch/internal/account"
	"github.com/laodaluo/futures-watch/internal/aggregator"
	"github.com/laodaluo/futures-watch/internal/config"
	"github.com/laodaluo/futures-watch/internal/exchange"
	"github.com/laodaluo/futures-watch/internal/notify"
	"github.com/laodaluo/futures-watch/internal/validate"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// Engine owns the lifecycle of every background worker.
type Engine struct {
	cfg        config.Config
	client     *exchange.Client
	stream     *exchange.UserStream
	aggregator *aggregator.Aggregator
	dispatcher *notify.Dispatcher
	validation *validate.Service
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, rules *config.RuleSet, logger *slog.Logger) (*Engine, error) {
	signer := exchange.NewSigner(cfg.API.Key, cfg.API.Secret)
	client := exchange.NewClient(cfg.API.RESTBaseURL, cfg.API.ApexBaseURL, signer, logger)
	stream := exchange.NewUserStream(client, cfg.API.WSBaseURL, cfg.Monitor.ListenKeyKeepAlive, logger)

	lifecycleSink := notify.NewWebhookSink(cfg.Webhooks.LifecycleURL, cfg.Webhooks.MaxRetry, logger)
	fillSink := notify.NewWebhookSink(cfg.Webhooks.FillURL, cfg.Webhooks.MaxRetry, logger)
	alertSink := notify.NewWebhookSink(cfg.Webhooks.AlertURL, cfg.Webhooks.MaxRetry, logger)

	dispatcher := notify.NewDispatcher(lifecycleSink, fillSink, cfg.Monitor.DedupTTL, logger)
	accounts := account.NewProvider(client, account.DefaultTTL, logger)

	ctx, cancel := context.WithCancel(context.Background())

	// Delivery runs off the aggregator's serial worker: webhook retries can
	// take seconds and must not stall event processing. Dedup inside the
	// dispatcher is synchronized, so concurrent dispatches send each event at
	// most once.
	agg := aggregator.New(accounts,
		func(n types.Notification) { go dispatcher.Dispatch(ctx, n) },
		aggregator.Options{
			Window:   cfg.Monitor.AggregationWindow,
			DedupTTL: cfg.Monitor.DedupTTL,
		},
		logger)

	metrics := validate.NewMetricsFetcher(client, validate.DefaultMetricsTTL, logger)
	ruleEngine := validate.NewEngine(rules, logger)
	limiter := validate.NewLimiter(0, logger)
	validation := validate.NewService(client, metrics, ruleEngine, limiter, alertSink,
		cfg.Monitor.ValidationInterval, logger)

	return &Engine{
		cfg:        cfg,
		client:     client,
		stream:     stream,
		aggregator: agg,
		dispatcher: dispatcher,
		validation: validation,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the stream reader, the aggregation worker, the event
// router, and the validation loop. The stream's initial connection happens
// asynchronously; a startup-time listen-key failure surfaces on errCh.
func (e *Engine) Start() <-chan error {
	errCh := make(chan error, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.stream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user stream terminated", "error", err)
			errCh <- err
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.routeEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.aggregator.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.validation.Run(e.ctx)
	}()

	e.logger.Info("monitor started",
		"window", e.cfg.Monitor.AggregationWindow,
		"validation_interval", e.cfg.Monitor.ValidationInterval,
	)
	return errCh
}

// routeEvents fans stream events to the aggregator and, for expiries, to the
// dispatcher's direct life-cycle path.
func (e *Engine) routeEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.stream.Events():
			if evt.Status == types.StatusExpired {
				go e.dispatcher.HandleExpiry(e.ctx, evt)
			}
			e.aggregator.Enqueue(evt)
		}
	}
}

// Stop cancels every worker and waits for them to exit. The stream destroys
// its listen key on the way out.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		e.logger.Warn("shutdown timed out waiting for workers")
	}
}
