package types

import (
	"testing"
	"time"
)

func TestOrderEventKeys(t *testing.T) {
	t.Parallel()

	evt := &OrderEvent{
		Symbol:        "BTCUSDT",
		OrderID:       42,
		ClientOrderID: "TP1",
		Status:        StatusFilled,
		ExecType:      "TRADE",
		LastQty:       "0.5",
		CumQty:        "1",
		TradeTime:     time.UnixMilli(1700000000000),
	}

	if got := evt.Key(); got != "BTCUSDT:42:TP1" {
		t.Errorf("Key = %q", got)
	}
	want := "BTCUSDT|42|TP1|FILLED|TRADE|1700000000000|0.5|1"
	if got := evt.DedupKey(); got != want {
		t.Errorf("DedupKey = %q, want %q", got, want)
	}
}

func TestIsChildExecution(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		client string
		orig   string
		want   bool
	}{
		{"no original id", "EXEC-1", "", false},
		{"same as own id", "TP1", "TP1", false},
		{"child of parent", "EXEC-1", "TP1", true},
	}
	for _, tc := range cases {
		evt := &OrderEvent{ClientOrderID: tc.client, OrigClientOrderID: tc.orig}
		if got := evt.IsChildExecution(); got != tc.want {
			t.Errorf("%s: IsChildExecution = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OrderStatus{StatusFilled, StatusCanceled, StatusExpired, StatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []OrderStatus{StatusNew, StatusPartiallyFilled, StatusPendingCancel}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestQuoteAndBaseAsset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		symbol string
		quote  string
		base   string
	}{
		{"BTCUSDT", "USDT", "BTC"},
		{"ETHUSDC", "USDC", "ETH"},
		{"SOLBUSD", "BUSD", "SOL"},
		{"ETHBTC", "BTC", "ETH"},
		{"WEIRD", "USDT", "WEIRD"},
	}
	for _, tc := range cases {
		if got := QuoteAsset(tc.symbol); got != tc.quote {
			t.Errorf("QuoteAsset(%s) = %q, want %q", tc.symbol, got, tc.quote)
		}
		if got := BaseAsset(tc.symbol); got != tc.base {
			t.Errorf("BaseAsset(%s) = %q, want %q", tc.symbol, got, tc.base)
		}
	}
}

func TestIssueIdentityKey(t *testing.T) {
	t.Parallel()

	a := ValidationIssue{Rule: RuleLeverageLimit, BaseAsset: "ETH", Direction: DirLong}
	b := ValidationIssue{Rule: RuleLeverageLimit, BaseAsset: "ETH", Direction: DirShort}
	if a.IdentityKey() == b.IdentityKey() {
		t.Error("directions must yield distinct identities")
	}
	if a.IdentityKey() != (ValidationIssue{Rule: RuleLeverageLimit, BaseAsset: "ETH", Direction: DirLong}).IdentityKey() {
		t.Error("identical issues must share an identity")
	}
}

func TestPositionKey(t *testing.T) {
	t.Parallel()

	p := PositionSnapshot{Symbol: "BTCUSDT", Direction: DirLong}
	if got := p.PositionKey(); got != "BTCUSDT:long" {
		t.Errorf("PositionKey = %q", got)
	}
}
