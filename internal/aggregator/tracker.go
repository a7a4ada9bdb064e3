// tracker.go maintains the per-order aggregation contexts.
//
// A Context accumulates the events of one order identified by the canonical
// `<symbol>:<orderId>:<clientOrderId>` key. The tracker is owned by the
// aggregator's serial worker: every mutation happens on that goroutine
// (timer callbacks only enqueue flush messages), so no locking is needed.
package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/internal/classify"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// Presentation is the cached card identity of an order: its category, the
// source label, and the full card title.
type Presentation struct {
	Category classify.Category
	Source   string
	Title    string // "<symbol>-<titleSuffix>"
}

// NewPresentation builds the presentation for a symbol + category pair.
func NewPresentation(symbol string, cat classify.Category) Presentation {
	return Presentation{
		Category: cat,
		Source:   cat.Source(),
		Title:    symbol + "-" + cat.TitleSuffix(),
	}
}

// Context is the mutable aggregation state of one order.
type Context struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Presentation  Presentation

	CumQty       decimal.Decimal
	CumQuote     decimal.Decimal
	LastAvgPrice decimal.Decimal

	LastStatus     types.OrderStatus
	LastEventTime  time.Time
	HadPartialFill bool

	// History holds every event that contributed, in arrival order.
	History []*types.OrderEvent

	// PendingScenario is the scenario a window timeout would emit; empty
	// when no deadline is armed. cancelTimer stops the armed deadline.
	PendingScenario types.Scenario
	cancelTimer     func()
}

// Key returns the canonical context key.
func (c *Context) Key() string {
	return contextKey(c.Symbol, c.OrderID, c.ClientOrderID)
}

func contextKey(symbol string, orderID int64, clientOrderID string) string {
	return (&types.OrderEvent{Symbol: symbol, OrderID: orderID, ClientOrderID: clientOrderID}).Key()
}

// CancelDeadline stops any armed window timer and clears the pending scenario.
func (c *Context) CancelDeadline() {
	if c.cancelTimer != nil {
		c.cancelTimer()
		c.cancelTimer = nil
	}
	c.PendingScenario = ""
}

// ArmDeadline replaces the context's deadline. At most one deadline is armed
// per context; arming cancels the previous one.
func (c *Context) ArmDeadline(scenario types.Scenario, cancel func()) {
	c.CancelDeadline()
	c.PendingScenario = scenario
	c.cancelTimer = cancel
}

// RealizedPnL sums the per-event realized PnL across the history. Events with
// an unparseable value contribute zero.
func (c *Context) RealizedPnL() decimal.Decimal {
	sum := decimal.Zero
	for _, evt := range c.History {
		if evt.RealizedPnL == "" {
			continue
		}
		d, err := decimal.NewFromString(evt.RealizedPnL)
		if err != nil {
			continue
		}
		sum = sum.Add(d)
	}
	return sum
}

// Tracker is the in-memory context store.
type Tracker struct {
	contexts map[string]*Context
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{contexts: make(map[string]*Context)}
}

// Update upserts the context for the event and folds the event in: the
// cumulative quantity adopts the exchange's cumulative figure (monotonic
// non-decreasing), the average price backfills from the previous value when
// the exchange reports zero mid-aggregation, and the cumulative quote is
// recomputed as price × quantity with the price falling back from average to
// last to order price.
func (t *Tracker) Update(evt *types.OrderEvent, pres Presentation) *Context {
	key := evt.Key()
	ctx, ok := t.contexts[key]
	if !ok {
		ctx = &Context{
			Symbol:        evt.Symbol,
			OrderID:       evt.OrderID,
			ClientOrderID: evt.ClientOrderID,
			Presentation:  pres,
		}
		t.contexts[key] = ctx
	} else if ctx.Presentation.Category.Kind == classify.KindOther && pres.Category.Kind != classify.KindOther {
		// Upgrade from the first recognizable classification.
		ctx.Presentation = pres
	}

	cumQty := parseDec(evt.CumQty)
	if cumQty.GreaterThan(ctx.CumQty) {
		ctx.CumQty = cumQty
	}

	avgPrice := parseDec(evt.AvgPrice)
	if avgPrice.IsPositive() {
		ctx.LastAvgPrice = avgPrice
	}
	// else: exchange reported 0 mid-aggregation, keep the backfilled value.

	price := ctx.LastAvgPrice
	if !price.IsPositive() {
		price = parseDec(evt.LastPrice)
	}
	if !price.IsPositive() {
		price = parseDec(evt.OrderPrice)
	}
	if price.IsPositive() && ctx.CumQty.IsPositive() {
		ctx.CumQuote = price.Mul(ctx.CumQty)
	}

	ctx.LastStatus = evt.Status
	ctx.LastEventTime = evt.EventTime
	if evt.Status == types.StatusPartiallyFilled {
		ctx.HadPartialFill = true
	}
	ctx.History = append(ctx.History, evt)
	return ctx
}

// Get returns the context for the key, or nil.
func (t *Tracker) Get(key string) *Context {
	return t.contexts[key]
}

// Delete removes a context, cancelling any pending deadline.
func (t *Tracker) Delete(key string) {
	if ctx, ok := t.contexts[key]; ok {
		ctx.CancelDeadline()
		delete(t.contexts, key)
	}
}

// Len reports the number of live contexts.
func (t *Tracker) Len() int {
	return len(t.contexts)
}

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
