package aggregator

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/internal/account"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// stubAccounts serves a fixed summary without touching the network.
type stubAccounts struct {
	mu      sync.Mutex
	calls   int
	summary *account.Summary
}

func (s *stubAccounts) Summary(ctx context.Context) *account.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.summary
}

type capture struct {
	mu            sync.Mutex
	notifications []types.Notification
}

func (c *capture) notify(n types.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
}

func (c *capture) all() []types.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Notification(nil), c.notifications...)
}

func testAggregator(t *testing.T, funds int64, positions ...types.PositionSnapshot) (*Aggregator, *capture, *stubAccounts) {
	t.Helper()
	posMap := make(map[string]types.PositionSnapshot, len(positions))
	for _, p := range positions {
		posMap[p.PositionKey()] = p
	}
	accounts := &stubAccounts{summary: &account.Summary{
		TotalFunds: decimal.NewFromInt(funds),
		FetchedAt:  time.Now(),
		Positions:  posMap,
	}}
	rec := &capture{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a := New(accounts, rec.notify, Options{Window: time.Hour}, logger)
	return a, rec, accounts
}

func mkEvent(clientID string, status types.OrderStatus, mut ...func(*types.OrderEvent)) *types.OrderEvent {
	evt := &types.OrderEvent{
		Symbol:        "BTCUSDT",
		OrderID:       1001,
		ClientOrderID: clientID,
		Side:          types.BUY,
		OrderType:     "LIMIT",
		ExecType:      "TRADE",
		Status:        status,
		OrigQty:       "1",
		CumQty:        "1",
		LastQty:       "1",
		AvgPrice:      "45000",
		OrderPrice:    "45000",
		TradeTime:     time.Now(),
		EventTime:     time.Now(),
	}
	for _, m := range mut {
		m(evt)
	}
	return evt
}

func TestGeneralSingleFill(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	a.processEvent(mkEvent("ORD-1", types.StatusFilled))

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	n := got[0]
	if n.Scenario != types.ScenarioGeneralSingle {
		t.Errorf("scenario = %s", n.Scenario)
	}
	if n.Title != "BTCUSDT-其他" {
		t.Errorf("title = %q", n.Title)
	}
	if n.DisplayPrice != "45000.00000000" {
		t.Errorf("display price = %q", n.DisplayPrice)
	}
	if n.CumulativeQuoteDisplay != "45000.00 USDT" {
		t.Errorf("cumulative quote = %q", n.CumulativeQuoteDisplay)
	}
	if n.CumulativeQuoteRatio != "45.00%" {
		t.Errorf("ratio = %q", n.CumulativeQuoteRatio)
	}
	if n.TradePnLDisplay != "0.00 USDT" {
		t.Errorf("pnl = %q", n.TradePnLDisplay)
	}
	if n.LongShortRatioDisplay != "" {
		t.Errorf("long/short should be omitted with no positions, got %q", n.LongShortRatioDisplay)
	}
}

func TestGeneralAggregatedPartialThenFill(t *testing.T) {
	t.Parallel()
	a, rec, accounts := testAggregator(t, 100_000)

	a.processEvent(mkEvent("ORD-2", types.StatusPartiallyFilled, func(e *types.OrderEvent) {
		e.CumQty, e.LastQty = "0.5", "0.5"
	}))
	a.processEvent(mkEvent("ORD-2", types.StatusFilled, func(e *types.OrderEvent) {
		e.CumQty, e.LastQty = "1", "0.5"
		e.TradeTime = e.TradeTime.Add(time.Second)
	}))

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(got))
	}
	if got[0].Scenario != types.ScenarioGeneralAggregated {
		t.Errorf("scenario = %s", got[0].Scenario)
	}
	if got[0].CumulativeQuoteDisplay != "45000.00 USDT" {
		t.Errorf("cumulative quote = %q", got[0].CumulativeQuoteDisplay)
	}
	if accounts.calls != 1 {
		t.Errorf("account summary fetched %d times, want 1", accounts.calls)
	}
}

func TestTimeoutThenRearm(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	evt := mkEvent("ORD-3", types.StatusPartiallyFilled, func(e *types.OrderEvent) {
		e.CumQty, e.LastQty = "0.4", "0.4"
	})
	a.processEvent(evt)
	a.processFlush(evt.Key(), types.ScenarioGeneralTimeout)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("notifications after first timeout = %d", len(got))
	}
	if got[0].Scenario != types.ScenarioGeneralTimeout {
		t.Errorf("scenario = %s", got[0].Scenario)
	}
	if got[0].StateLabel != "部分成交" {
		t.Errorf("state = %q", got[0].StateLabel)
	}
	if got[0].CumulativeQuoteDisplay != "18000.00 USDT" {
		t.Errorf("cumulative quote = %q", got[0].CumulativeQuoteDisplay)
	}

	// Context destroyed after the timed emission.
	if a.tracker.Get(evt.Key()) != nil {
		t.Fatal("context should be gone after timeout emission")
	}

	// A later partial for the same id re-creates the context and a second
	// timeout emits again; no duplicates from the first round.
	later := mkEvent("ORD-3", types.StatusPartiallyFilled, func(e *types.OrderEvent) {
		e.CumQty, e.LastQty = "0.2", "0.2"
		e.TradeTime = e.TradeTime.Add(time.Minute)
	})
	a.processEvent(later)
	a.processFlush(later.Key(), types.ScenarioGeneralTimeout)

	got = rec.all()
	if len(got) != 2 {
		t.Fatalf("notifications after re-arm = %d, want 2", len(got))
	}
}

func TestFlushAfterContextGoneIsNoop(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	evt := mkEvent("ORD-4", types.StatusPartiallyFilled, func(e *types.OrderEvent) {
		e.CumQty = "0.5"
	})
	a.processEvent(evt)
	a.processEvent(mkEvent("ORD-4", types.StatusFilled, func(e *types.OrderEvent) {
		e.TradeTime = e.TradeTime.Add(time.Second)
	}))

	// Stale flush from the timer that lost the race.
	a.processFlush(evt.Key(), types.ScenarioGeneralTimeout)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1 (flush must be a no-op)", len(got))
	}
	if got[0].Scenario != types.ScenarioGeneralAggregated {
		t.Errorf("scenario = %s", got[0].Scenario)
	}
}

func TestStopChildSuppressesParent(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	// Parent stop placement announces itself.
	a.processEvent(mkEvent("TP-TRIG", types.StatusNew, func(e *types.OrderEvent) {
		e.OrderType = "STOP_MARKET"
		e.ExecType = "NEW"
		e.StopPrice = "43000"
		e.AvgPrice, e.OrderPrice = "0", "0"
	}))

	// Child execution NEW: marks the parent suppressed, emits nothing.
	a.processEvent(mkEvent("EXEC-123", types.StatusNew, func(e *types.OrderEvent) {
		e.OrderID = 1002
		e.OrigClientOrderID = "TP-TRIG"
		e.OrderType = "MARKET"
		e.ExecType = "NEW"
	}))

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1 (parent NEW only)", len(got))
	}
	if got[0].Scenario != types.ScenarioSLTPNew {
		t.Errorf("scenario = %s", got[0].Scenario)
	}
	if got[0].StateLabel != "创建" {
		t.Errorf("state = %q", got[0].StateLabel)
	}
	if got[0].DisplayPrice != "43000.00000000" {
		t.Errorf("display price = %q (order source should fall back to stop price)", got[0].DisplayPrice)
	}

	// The parent's own FILLED is dropped; the child fill announces instead.
	a.processEvent(mkEvent("TP-TRIG", types.StatusFilled, func(e *types.OrderEvent) {
		e.OrderType = "STOP_MARKET"
		e.TradeTime = e.TradeTime.Add(time.Second)
	}))
	if n := len(rec.all()); n != 1 {
		t.Fatalf("suppressed parent fill emitted: %d notifications", n)
	}

	a.processEvent(mkEvent("EXEC-123", types.StatusFilled, func(e *types.OrderEvent) {
		e.OrderID = 1002
		e.OrigClientOrderID = "TP-TRIG"
		e.OrderType = "MARKET"
		e.TradeTime = e.TradeTime.Add(2 * time.Second)
	}))

	got = rec.all()
	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	// Child inherits the parent's presentation.
	if got[1].Title != "BTCUSDT-止盈" {
		t.Errorf("child title = %q, want inherited 止盈 title", got[1].Title)
	}
	if got[1].Scenario != types.ScenarioSLTPFilled {
		t.Errorf("child scenario = %s", got[1].Scenario)
	}
}

func TestStopLifecycleScenarios(t *testing.T) {
	t.Parallel()

	t.Run("partial then filled", func(t *testing.T) {
		t.Parallel()
		a, rec, _ := testAggregator(t, 100_000)
		a.processEvent(mkEvent("SL1", types.StatusPartiallyFilled, func(e *types.OrderEvent) { e.CumQty = "0.5" }))
		a.processEvent(mkEvent("SL1", types.StatusFilled, func(e *types.OrderEvent) {
			e.TradeTime = e.TradeTime.Add(time.Second)
		}))
		got := rec.all()
		if len(got) != 1 || got[0].Scenario != types.ScenarioSLTPPartialCompleted {
			t.Fatalf("got %+v", got)
		}
		if got[0].Title != "BTCUSDT-硬止损第1档" {
			t.Errorf("title = %q", got[0].Title)
		}
	})

	t.Run("canceled without partial", func(t *testing.T) {
		t.Parallel()
		a, rec, _ := testAggregator(t, 100_000)
		a.processEvent(mkEvent("SL1", types.StatusCanceled, func(e *types.OrderEvent) { e.CumQty = "0" }))
		got := rec.all()
		if len(got) != 1 || got[0].Scenario != types.ScenarioSLTPCanceled {
			t.Fatalf("got %+v", got)
		}
		if got[0].StateLabel != "取消" {
			t.Errorf("state = %q", got[0].StateLabel)
		}
	})

	t.Run("canceled with partial", func(t *testing.T) {
		t.Parallel()
		a, rec, _ := testAggregator(t, 100_000)
		a.processEvent(mkEvent("TP2", types.StatusPartiallyFilled, func(e *types.OrderEvent) { e.CumQty = "0.3" }))
		a.processEvent(mkEvent("TP2", types.StatusCanceled, func(e *types.OrderEvent) {
			e.TradeTime = e.TradeTime.Add(time.Second)
		}))
		got := rec.all()
		if len(got) != 1 || got[0].Scenario != types.ScenarioSLTPPartialCanceled {
			t.Fatalf("got %+v", got)
		}
	})
}

func TestGeneralCanceledWithoutPartialIsSilent(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	a.processEvent(mkEvent("ORD-9", types.StatusCanceled, func(e *types.OrderEvent) { e.CumQty = "0" }))

	if n := len(rec.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
	if a.tracker.Len() != 0 {
		t.Error("context should be dropped")
	}
}

func TestDuplicateEventDropped(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	evt := mkEvent("ORD-5", types.StatusFilled)
	a.processEvent(evt)
	a.processEvent(evt) // verbatim replay

	if n := len(rec.all()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestTerminalReplayAfterFinalizationDropped(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	a.processEvent(mkEvent("ORD-6", types.StatusFilled))
	// Same context key, different wire identity (dedup key misses), still a
	// terminal event after finalization.
	a.processEvent(mkEvent("ORD-6", types.StatusFilled, func(e *types.OrderEvent) {
		e.TradeTime = e.TradeTime.Add(time.Second)
	}))

	if n := len(rec.all()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestGeneralNewIsDropped(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	a.processEvent(mkEvent("ORD-7", types.StatusNew, func(e *types.OrderEvent) { e.ExecType = "NEW" }))

	if n := len(rec.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
	if a.tracker.Len() != 0 {
		t.Error("no context should be created for a general NEW")
	}
}

func TestLongShortRatioOnFill(t *testing.T) {
	t.Parallel()

	t.Run("both directions", func(t *testing.T) {
		t.Parallel()
		a, rec, _ := testAggregator(t, 100_000,
			types.PositionSnapshot{Symbol: "BTCUSDT", Direction: types.DirLong, Notional: decimal.NewFromInt(4620)},
			types.PositionSnapshot{Symbol: "ETHUSDT", Direction: types.DirShort, Notional: decimal.NewFromInt(2000)},
		)
		a.processEvent(mkEvent("ORD-8", types.StatusFilled))
		got := rec.all()
		if len(got) != 1 {
			t.Fatal("expected one notification")
		}
		if got[0].LongShortRatioDisplay != "2.31:1.00" {
			t.Errorf("display = %q", got[0].LongShortRatioDisplay)
		}
		if got[0].LongShortRatioRaw != "2.31:1" {
			t.Errorf("raw = %q", got[0].LongShortRatioRaw)
		}
	})

	t.Run("long only", func(t *testing.T) {
		t.Parallel()
		a, rec, _ := testAggregator(t, 100_000,
			types.PositionSnapshot{Symbol: "BTCUSDT", Direction: types.DirLong, Notional: decimal.NewFromInt(5000)},
		)
		a.processEvent(mkEvent("ORD-8", types.StatusFilled))
		got := rec.all()
		if got[0].LongShortRatioDisplay != "∞:1.00" {
			t.Errorf("display = %q", got[0].LongShortRatioDisplay)
		}
		if got[0].LongShortRatioRaw != "Infinity:1" {
			t.Errorf("raw = %q", got[0].LongShortRatioRaw)
		}
	})
}

func TestRealizedPnLSummedAcrossEvents(t *testing.T) {
	t.Parallel()
	a, rec, _ := testAggregator(t, 100_000)

	a.processEvent(mkEvent("ORD-10", types.StatusPartiallyFilled, func(e *types.OrderEvent) {
		e.CumQty, e.RealizedPnL = "0.5", "1.25"
	}))
	a.processEvent(mkEvent("ORD-10", types.StatusFilled, func(e *types.OrderEvent) {
		e.RealizedPnL = "2.75"
		e.TradeTime = e.TradeTime.Add(time.Second)
	}))

	got := rec.all()
	if len(got) != 1 {
		t.Fatal("expected one notification")
	}
	if got[0].TradePnLDisplay != "+4.00 USDT" {
		t.Errorf("pnl = %q", got[0].TradePnLDisplay)
	}
}

func TestSerialWorkerWindowTimeout(t *testing.T) {
	t.Parallel()

	accounts := &stubAccounts{summary: &account.Summary{
		TotalFunds: decimal.NewFromInt(100_000),
		FetchedAt:  time.Now(),
	}}
	rec := &capture{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a := New(accounts, rec.notify, Options{Window: 50 * time.Millisecond}, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(runCtx)

	a.Enqueue(mkEvent("ORD-T", types.StatusPartiallyFilled, func(e *types.OrderEvent) {
		e.CumQty = "0.4"
	}))

	deadline := time.After(2 * time.Second)
	for {
		if got := rec.all(); len(got) == 1 {
			if got[0].Scenario != types.ScenarioGeneralTimeout {
				t.Fatalf("scenario = %s", got[0].Scenario)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for window flush")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
