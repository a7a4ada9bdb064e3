// service.go runs the periodic validation loop: fetch account context,
// resolve market metrics, evaluate the rule battery, feed the limiter, and —
// when anything fired — POST one digest card to the alert sink.
package validate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/internal/notify"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// AccountFetcher supplies the account context; satisfied by exchange.Client.
type AccountFetcher interface {
	FetchAccountContext(ctx context.Context) (*types.AccountContext, error)
}

// Service is the periodic validation loop.
type Service struct {
	fetcher  AccountFetcher
	metrics  *MetricsFetcher
	engine   *Engine
	limiter  *Limiter
	sink     notify.Sink
	interval time.Duration
	logger   *slog.Logger

	// running guards against overlapping ticks: a tick that starts while the
	// previous one is still fetching is dropped, not queued.
	running atomic.Bool
}

// NewService wires the validation pipeline.
func NewService(fetcher AccountFetcher, metrics *MetricsFetcher, engine *Engine, limiter *Limiter, sink notify.Sink, interval time.Duration, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		fetcher:  fetcher,
		metrics:  metrics,
		engine:   engine,
		limiter:  limiter,
		sink:     sink,
		interval: interval,
		logger:   logger.With("component", "validation"),
	}
}

// Run ticks until ctx is cancelled. The first evaluation happens immediately.
func (s *Service) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one validation pass. Concurrent calls beyond the first are
// dropped.
func (s *Service) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("previous validation tick still running, skipping")
		return
	}
	defer s.running.Store(false)

	acct, err := s.fetcher.FetchAccountContext(ctx)
	if err != nil {
		s.logger.Error("account fetch failed, aborting tick", "error", err)
		return
	}

	refPrices := make(map[string]decimal.Decimal, len(acct.Positions))
	for _, pos := range acct.Positions {
		refPrices[pos.Symbol] = pos.MarkPrice
	}
	metrics := s.metrics.Fetch(ctx, refPrices)

	issues := s.engine.Evaluate(acct, metrics)
	events := s.limiter.Process(issues, time.Now())
	if len(events) == 0 {
		return
	}

	s.logger.Info("validation digest", "issues", len(issues), "events", len(events))
	if err := s.sink.Send(ctx, notify.BuildDigestCard(events)); err != nil {
		s.logger.Error("digest delivery failed, dropping", "error", err)
	}
}
