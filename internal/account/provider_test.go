package account

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/pkg/types"
)

type stubFetcher struct {
	calls   atomic.Int64
	delay   time.Duration
	err     error
	balance decimal.Decimal
}

func (f *stubFetcher) FetchAccountContext(ctx context.Context) (*types.AccountContext, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.AccountContext{
		TotalMarginBalance: f.balance,
		FetchedAt:          time.Now(),
		Positions: []types.PositionSnapshot{
			{Symbol: "BTCUSDT", Direction: types.DirLong, Notional: decimal.NewFromInt(3000)},
			{Symbol: "ETHUSDT", Direction: types.DirShort, Notional: decimal.NewFromInt(1000)},
		},
	}, nil
}

func newTestProvider(f Fetcher, ttl time.Duration) *Provider {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewProvider(f, ttl, logger)
}

func TestSummaryServedFromCacheWithinTTL(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{balance: decimal.NewFromInt(100_000)}
	p := newTestProvider(f, time.Minute)

	s1 := p.Summary(context.Background())
	s2 := p.Summary(context.Background())

	if s1 == nil || s2 == nil {
		t.Fatal("nil summary")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if !s1.TotalFunds.Equal(decimal.NewFromInt(100_000)) {
		t.Errorf("TotalFunds = %s", s1.TotalFunds)
	}
	if len(s1.Positions) != 2 {
		t.Errorf("positions = %d", len(s1.Positions))
	}
}

func TestSummarySingleFlight(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{balance: decimal.NewFromInt(5), delay: 100 * time.Millisecond}
	p := newTestProvider(f, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s := p.Summary(context.Background()); s == nil {
				t.Error("nil summary from concurrent caller")
			}
		}()
	}
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1 (single flight)", got)
	}
}

func TestSummaryStaleOnError(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{balance: decimal.NewFromInt(7)}
	p := newTestProvider(f, time.Nanosecond) // every call refreshes

	if s := p.Summary(context.Background()); s == nil {
		t.Fatal("first fetch failed")
	}

	f.err = fmt.Errorf("rest down")
	s := p.Summary(context.Background())
	if s == nil {
		t.Fatal("expected stale summary, got nil")
	}
	if !s.TotalFunds.Equal(decimal.NewFromInt(7)) {
		t.Errorf("TotalFunds = %s", s.TotalFunds)
	}
}

func TestSummaryNilWhenNeverFetched(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{err: fmt.Errorf("rest down")}
	p := newTestProvider(f, time.Minute)

	if s := p.Summary(context.Background()); s != nil {
		t.Errorf("expected nil summary, got %+v", s)
	}
}

func TestLongShortNotional(t *testing.T) {
	t.Parallel()

	s := &Summary{Positions: map[string]types.PositionSnapshot{
		"BTCUSDT:long":  {Direction: types.DirLong, Notional: decimal.NewFromInt(3000)},
		"ETHUSDT:long":  {Direction: types.DirLong, Notional: decimal.NewFromInt(1500)},
		"SOLUSDT:short": {Direction: types.DirShort, Notional: decimal.NewFromInt(2000)},
	}}

	long, short := s.LongShortNotional()
	if !long.Equal(decimal.NewFromInt(4500)) {
		t.Errorf("long = %s", long)
	}
	if !short.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("short = %s", short)
	}

	var nilSummary *Summary
	long, short = nilSummary.LongShortNotional()
	if !long.IsZero() || !short.IsZero() {
		t.Error("nil summary should report zero notionals")
	}
}
