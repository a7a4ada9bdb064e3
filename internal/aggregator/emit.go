// emit.go turns a finished aggregation context into a Notification: display
// price selection, cumulative quote and ratio, realized PnL, and the
// account's long/short notional ratio.
package aggregator

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/internal/account"
	"github.com/laodaluo/futures-watch/pkg/types"
)

const priceDecimals = 8

var oneHundred = decimal.NewFromInt(100)

// buildNotification assembles the complete payload for one scenario emission.
// The last event of the context's history is the event the card anchors on.
func (a *Aggregator) buildNotification(ctx *Context, scenario types.Scenario) types.Notification {
	spec := scenarioSpecs[scenario]
	evt := ctx.History[len(ctx.History)-1]

	n := types.Notification{
		Event:      evt,
		Scenario:   scenario,
		Title:      ctx.Presentation.Title,
		StateLabel: spec.stateLabel,
		Source:     ctx.Presentation.Source,
		EmittedAt:  time.Now(),
	}

	n.DisplayPrice = selectDisplayPrice(ctx, evt, spec.price)

	// One summary lookup serves both the ratio and the long/short line, so a
	// single emission costs at most one account fetch.
	var summary *account.Summary
	needsRatio := strings.Contains(spec.stateLabel, labelFilled)
	if needsRatio || spec.includeCumulative {
		summary = a.accounts.Summary(a.runCtx)
	}

	if spec.includeCumulative && ctx.CumQty.IsPositive() && ctx.CumQuote.IsPositive() {
		quote := types.QuoteAsset(evt.Symbol)
		n.CumulativeQty = ctx.CumQty.String()
		n.CumulativeQuoteDisplay = formatAmount(ctx.CumQuote) + " " + quote

		if summary != nil && summary.TotalFunds.IsPositive() {
			ratio := ctx.CumQuote.Div(summary.TotalFunds).Mul(oneHundred)
			n.CumulativeQuoteRatio = ratio.StringFixed(2) + "%"
		}

		n.TradePnLDisplay = formatSignedAmount(ctx.RealizedPnL()) + " " + quote
	}

	if needsRatio {
		n.LongShortRatioDisplay, n.LongShortRatioRaw = longShortRatio(summary)
	}

	return n
}

// selectDisplayPrice picks the card price per the scenario's source:
//
//   - average (and any MARKET order): averagePrice when positive, then the
//     context's backfilled average, then last price, order price, stop price.
//   - order: order price when positive, then stop price, average, last price.
//
// The result is rendered with 8 decimals to match exchange precision.
func selectDisplayPrice(ctx *Context, evt *types.OrderEvent, src priceSource) string {
	var candidates []decimal.Decimal
	if src == priceAverage || evt.OrderType == "MARKET" {
		candidates = []decimal.Decimal{
			parseDec(evt.AvgPrice),
			ctx.LastAvgPrice,
			parseDec(evt.LastPrice),
			parseDec(evt.OrderPrice),
			parseDec(evt.StopPrice),
		}
	} else {
		candidates = []decimal.Decimal{
			parseDec(evt.OrderPrice),
			parseDec(evt.StopPrice),
			parseDec(evt.AvgPrice),
			parseDec(evt.LastPrice),
		}
	}
	for _, p := range candidates {
		if p.IsPositive() {
			return p.StringFixed(priceDecimals)
		}
	}
	return decimal.Zero.StringFixed(priceDecimals)
}

// formatAmount renders a quote amount with 2 decimals, or 4 when the
// magnitude is below one but not zero (small alt positions lose everything
// at 2). Zero renders as "0.00".
func formatAmount(d decimal.Decimal) string {
	if !d.IsZero() && d.Abs().LessThan(decimal.NewFromInt(1)) {
		return d.StringFixed(4)
	}
	return d.StringFixed(2)
}

// formatSignedAmount renders a PnL figure with an explicit sign on gains.
func formatSignedAmount(d decimal.Decimal) string {
	s := formatAmount(d)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

// longShortRatio renders the account's long/short notional ratio.
// Both sides flat → omitted; long only → infinity forms; otherwise
// `<long/short>:1` rounded to two decimals.
func longShortRatio(summary *account.Summary) (display, raw string) {
	long, short := summary.LongShortNotional()
	switch {
	case long.IsZero() && short.IsZero():
		return "", ""
	case short.IsZero():
		return "∞:1.00", "Infinity:1"
	default:
		r := long.Div(short).Round(2)
		return r.StringFixed(2) + ":1.00", r.String() + ":1"
	}
}
