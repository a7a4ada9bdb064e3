package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/pkg/types"
)

func TestBuildOrderCardFields(t *testing.T) {
	t.Parallel()

	n := types.Notification{
		Event: &types.OrderEvent{
			Symbol:    "BTCUSDT",
			Status:    types.StatusFilled,
			Side:      types.BUY,
			TradeTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Title:                  "BTCUSDT-其他",
		StateLabel:             "成交",
		Source:                 "其他",
		DisplayPrice:           "45000.00000000",
		CumulativeQuoteDisplay: "45000.00 USDT",
		CumulativeQuoteRatio:   "45.00%",
		TradePnLDisplay:        "0.00 USDT",
	}

	card := BuildOrderCard(n)
	if card.MsgType != "interactive" {
		t.Errorf("MsgType = %q", card.MsgType)
	}
	if card.Card.Header.Template != "green" {
		t.Errorf("header = %q, want green for filled", card.Card.Header.Template)
	}
	if got := card.Card.Header.Title.Content; got != "BTCUSDT-其他 成交" {
		t.Errorf("title = %q", got)
	}

	body := card.Card.Elements[0].Text.Content
	for _, want := range []string{"45000.00000000", "45000.00 USDT", "45.00%", "买入"} {
		if !strings.Contains(body, want) {
			t.Errorf("card body missing %q:\n%s", want, body)
		}
	}
	// Empty optional fields stay absent.
	if strings.Contains(body, "多空比") {
		t.Errorf("card body should omit absent long/short ratio:\n%s", body)
	}
}

func TestDigestColor(t *testing.T) {
	t.Parallel()

	alert := func(sev types.Severity) types.AlertEvent {
		return types.AlertEvent{Type: types.AlertFired, Issue: types.ValidationIssue{Severity: sev}}
	}
	recovery := types.AlertEvent{Type: types.AlertRecovered}

	cases := []struct {
		name   string
		events []types.AlertEvent
		want   string
	}{
		{"all recoveries", []types.AlertEvent{recovery, recovery}, "green"},
		{"critical wins", []types.AlertEvent{recovery, alert(types.SeverityWarning), alert(types.SeverityCritical)}, "red"},
		{"warning only", []types.AlertEvent{alert(types.SeverityWarning), recovery}, "orange"},
		{"empty", nil, "blue"},
	}

	for _, tc := range cases {
		if got := DigestColor(tc.events); got != tc.want {
			t.Errorf("%s: DigestColor = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestBuildDigestCard(t *testing.T) {
	t.Parallel()

	value := decimal.RequireFromString("5")
	threshold := decimal.NewFromInt(3)
	events := []types.AlertEvent{
		{
			Type: types.AlertFired,
			Issue: types.ValidationIssue{
				Rule:      types.RuleLeverageLimit,
				BaseAsset: "ETH",
				Direction: types.DirLong,
				Severity:  types.SeverityWarning,
				Message:   "ETH 多头杠杆 5 超过上限 3",
				Value:     &value,
				Threshold: &threshold,
			},
			FirstDetectedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			TriggeredAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			Type: types.AlertRecovered,
			Issue: types.ValidationIssue{
				Rule:      types.RuleMarginShareLimit,
				BaseAsset: "SOL",
				Direction: types.DirShort,
			},
			FirstDetectedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			TriggeredAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}

	card := BuildDigestCard(events)
	if card.Card.Header.Template != "orange" {
		t.Errorf("header = %q", card.Card.Header.Template)
	}

	body := card.Card.Elements[0].Text.Content
	for _, want := range []string{"[告警]", "[恢复]", "杠杆超限", "保证金占比超限", "当前值: 5 / 阈值: 3"} {
		if !strings.Contains(body, want) {
			t.Errorf("digest body missing %q:\n%s", want, body)
		}
	}
}

func TestRuleLabelFallsBackToRawName(t *testing.T) {
	t.Parallel()
	if got := RuleLabel(types.Rule("made_up")); got != "made_up" {
		t.Errorf("RuleLabel = %q", got)
	}
}
