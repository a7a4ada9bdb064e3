// Package account provides a short-TTL cached view of the account's funds and
// open positions for the order aggregator.
//
// The aggregator needs account totals on nearly every fill notification, but
// fills arrive in bursts (a partial-fill cascade can be a dozen events inside
// a second). The provider collapses that burst into at most one REST round
// trip per TTL: a fresh snapshot is served from memory, and concurrent
// callers during an in-flight refresh wait for that refresh rather than
// issuing their own. A failed refresh serves the last snapshot if one exists;
// the provider never returns an error, only a possibly-nil summary.
package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/pkg/types"
)

// DefaultTTL is how long a summary stays fresh.
const DefaultTTL = 2 * time.Second

// Summary is the aggregator's view of the account.
type Summary struct {
	// TotalFunds is the account's total margin balance, the denominator of
	// the cumulative-quote ratio shown on fill cards.
	TotalFunds decimal.Decimal
	FetchedAt  time.Time
	// Positions is keyed by `<symbol>:<direction>`.
	Positions map[string]types.PositionSnapshot
}

// Fetcher is the REST dependency; satisfied by exchange.Client.
type Fetcher interface {
	FetchAccountContext(ctx context.Context) (*types.AccountContext, error)
}

// Provider is the single shared cache between the aggregator and the rest of
// the system. Only the refresh path mutates it.
type Provider struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	summary  *Summary
	inflight chan struct{} // non-nil while a refresh is running
}

// NewProvider creates a provider with the given TTL (DefaultTTL if zero).
func NewProvider(fetcher Fetcher, ttl time.Duration, logger *slog.Logger) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger.With("component", "account"),
	}
}

// Summary returns the current account summary, refreshing if stale. Returns
// nil only when no fetch has ever succeeded.
func (p *Provider) Summary(ctx context.Context) *Summary {
	p.mu.Lock()

	if p.summary != nil && time.Since(p.summary.FetchedAt) < p.ttl {
		s := p.summary
		p.mu.Unlock()
		return s
	}

	// Join an in-flight refresh instead of double-fetching.
	if p.inflight != nil {
		done := p.inflight
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		p.mu.Lock()
		s := p.summary
		p.mu.Unlock()
		return s
	}

	done := make(chan struct{})
	p.inflight = done
	p.mu.Unlock()

	fresh := p.refresh(ctx)

	p.mu.Lock()
	if fresh != nil {
		p.summary = fresh
	}
	s := p.summary
	p.inflight = nil
	close(done)
	p.mu.Unlock()
	return s
}

// refresh fetches and reshapes the account context. Returns nil on failure;
// the caller keeps serving the previous snapshot.
func (p *Provider) refresh(ctx context.Context) *Summary {
	acct, err := p.fetcher.FetchAccountContext(ctx)
	if err != nil {
		p.logger.Warn("account refresh failed, serving stale summary", "error", err)
		return nil
	}

	s := &Summary{
		TotalFunds: acct.TotalMarginBalance,
		FetchedAt:  acct.FetchedAt,
		Positions:  make(map[string]types.PositionSnapshot, len(acct.Positions)),
	}
	for _, pos := range acct.Positions {
		s.Positions[pos.PositionKey()] = pos
	}
	return s
}

// LongShortNotional sums absolute notional per direction across the cached
// positions. Used for the long/short ratio on fill cards.
func (s *Summary) LongShortNotional() (long, short decimal.Decimal) {
	if s == nil {
		return decimal.Zero, decimal.Zero
	}
	for _, pos := range s.Positions {
		switch pos.Direction {
		case types.DirLong:
			long = long.Add(pos.Notional.Abs())
		case types.DirShort:
			short = short.Add(pos.Notional.Abs())
		}
	}
	return long, short
}
