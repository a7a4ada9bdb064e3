// metrics.go fetches per-symbol market metrics (open interest, market cap,
// 24h volume, concentration) with a per-symbol TTL cache and bounded fetch
// concurrency. Endpoint failures are logged at warn and leave the affected
// fields nil; the rule engine turns nil observations into data_missing
// issues instead of this layer guessing.
package validate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/internal/exchange"
	"github.com/laodaluo/futures-watch/pkg/types"
)

const (
	// DefaultMetricsTTL is how long a symbol's metrics stay fresh.
	DefaultMetricsTTL = 180 * time.Second
	// metricsWorkers bounds concurrent per-symbol fetches.
	metricsWorkers = 5
)

// MetricsClient is the REST surface the fetcher needs; satisfied by
// exchange.Client.
type MetricsClient interface {
	GetOpenInterest(ctx context.Context, symbol string) (*exchange.OpenInterestResponse, error)
	GetTokenInfo(ctx context.Context, baseAsset string) (*exchange.TokenInfoData, error)
}

// MetricsFetcher resolves SymbolMetrics for sets of symbols.
type MetricsFetcher struct {
	client MetricsClient
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]types.SymbolMetrics
	now   func() time.Time
}

// NewMetricsFetcher creates a fetcher (DefaultMetricsTTL if ttl is zero).
func NewMetricsFetcher(client MetricsClient, ttl time.Duration, logger *slog.Logger) *MetricsFetcher {
	if ttl <= 0 {
		ttl = DefaultMetricsTTL
	}
	return &MetricsFetcher{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "metrics"),
		cache:  make(map[string]types.SymbolMetrics),
		now:    time.Now,
	}
}

// Fetch returns metrics for every symbol in refPrices (symbol → reference
// price used to value open interest). Cached entries inside the TTL are
// served as-is; the rest are fetched by a small worker pool.
func (f *MetricsFetcher) Fetch(ctx context.Context, refPrices map[string]decimal.Decimal) map[string]types.SymbolMetrics {
	result := make(map[string]types.SymbolMetrics, len(refPrices))
	var stale []string

	f.mu.Lock()
	for symbol := range refPrices {
		if m, ok := f.cache[symbol]; ok && f.now().Sub(m.FetchedAt) < f.ttl {
			result[symbol] = m
		} else {
			stale = append(stale, symbol)
		}
	}
	f.mu.Unlock()

	if len(stale) == 0 {
		return result
	}

	type fetched struct {
		symbol string
		m      types.SymbolMetrics
	}

	tasks := make(chan string)
	out := make(chan fetched, len(stale))
	var wg sync.WaitGroup

	workers := metricsWorkers
	if len(stale) < workers {
		workers = len(stale)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range tasks {
				out <- fetched{symbol, f.fetchSymbol(ctx, symbol, refPrices[symbol])}
			}
		}()
	}

	for _, symbol := range stale {
		tasks <- symbol
	}
	close(tasks)
	wg.Wait()
	close(out)

	f.mu.Lock()
	for item := range out {
		f.cache[item.symbol] = item.m
		result[item.symbol] = item.m
	}
	f.mu.Unlock()
	return result
}

// fetchSymbol pulls both endpoints for one symbol. Each failure is
// independent: losing token info still yields open-interest figures.
func (f *MetricsFetcher) fetchSymbol(ctx context.Context, symbol string, refPrice decimal.Decimal) types.SymbolMetrics {
	m := types.SymbolMetrics{FetchedAt: f.now()}

	if oi, err := f.client.GetOpenInterest(ctx, symbol); err != nil {
		f.logger.Warn("open interest fetch failed", "symbol", symbol, "error", err)
	} else if base, derr := decimal.NewFromString(oi.OpenInterest); derr != nil {
		f.logger.Warn("unparseable open interest", "symbol", symbol, "value", oi.OpenInterest)
	} else {
		m.OpenInterest = &base
		if refPrice.IsPositive() {
			m.ReferencePrice = &refPrice
			notional := base.Mul(refPrice)
			m.OpenInterestNotional = &notional
		}
	}

	if info, err := f.client.GetTokenInfo(ctx, types.BaseAsset(symbol)); err != nil {
		f.logger.Warn("token info fetch failed", "symbol", symbol, "error", err)
	} else {
		m.MarketCap = info.MarketCap.Value
		m.Volume24h = info.Volume24h.Value
		m.HHI = info.HHI.Value
	}

	return m
}
