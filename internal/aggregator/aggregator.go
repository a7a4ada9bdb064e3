// Package aggregator implements the order-event aggregation engine.
//
// Events from the user-data stream are processed strictly serially by one
// worker goroutine: the stream reader enqueues normalized events, window
// timers enqueue flush messages onto the same channel, and the worker is the
// only mutator of tracker state. That single-owner discipline is what keeps
// the state machine lock-free and its invariants easy to reason about:
//
//   - one notification per logical order outcome,
//   - replayed wire messages are dropped (60s dedup horizon),
//   - terminal events for an already-finalized order are dropped (60s),
//   - at most one armed window deadline per order.
//
// Stop-like orders (TP/SL/FT/TW client-id prefixes) get life-cycle
// notifications and parent/child suppression; everything else follows the
// general fill-aggregation path.
package aggregator

import (
	"context"
	"log/slog"
	"time"

	"github.com/laodaluo/futures-watch/internal/account"
	"github.com/laodaluo/futures-watch/internal/classify"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// AccountSource supplies the cached account summary for card aggregates.
// Satisfied by *account.Provider.
type AccountSource interface {
	Summary(ctx context.Context) *account.Summary
}

// NotifyFunc receives every emitted notification. The payload is complete:
// optional fields the scenario does not populate stay empty.
type NotifyFunc func(types.Notification)

// Options tunes the aggregator's windows. Zero fields take defaults.
type Options struct {
	// Window is the partial-fill coalescing deadline (default 10s).
	Window time.Duration
	// DedupTTL bounds wire replay and finalized-context suppression (default 60s).
	DedupTTL time.Duration
}

const (
	defaultWindow   = 10 * time.Second
	defaultDedupTTL = 60 * time.Second
)

// message is one unit of serial work: either a stream event or a timer flush.
type message struct {
	evt           *types.OrderEvent
	flushKey      string
	flushScenario types.Scenario
}

// Aggregator is the per-order aggregation state machine.
type Aggregator struct {
	tracker  *Tracker
	accounts AccountSource
	notify   NotifyFunc
	logger   *slog.Logger

	window   time.Duration
	dedupTTL time.Duration

	dedup     *TTLSet // wire-message replay suppression
	finalized *TTLSet // context keys with a terminal emission
	// suppressedParents holds `<symbol>|<clientOrderId>` of stop parents
	// whose child execution already carried the announcement.
	suppressedParents *TTLSet
	// parentPres caches presentations of recognized stop orders so child
	// executions with opaque client ids inherit them.
	parentPres *ttlMap[Presentation]

	msgCh  chan message
	runCtx context.Context
}

// New creates an aggregator delivering notifications to notify.
func New(accounts AccountSource, notify NotifyFunc, opts Options, logger *slog.Logger) *Aggregator {
	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &Aggregator{
		tracker:           NewTracker(),
		accounts:          accounts,
		notify:            notify,
		logger:            logger.With("component", "aggregator"),
		window:            window,
		dedupTTL:          ttl,
		dedup:             NewTTLSet(ttl),
		finalized:         NewTTLSet(ttl),
		suppressedParents: NewTTLSet(ttl),
		parentPres:        newTTLMap[Presentation](time.Hour),
		msgCh:             make(chan message, 256),
		runCtx:            context.Background(),
	}
}

// Enqueue hands a normalized event to the serial worker. Blocks when the
// worker is behind; stream ordering is preserved.
func (a *Aggregator) Enqueue(evt *types.OrderEvent) {
	a.msgCh <- message{evt: evt}
}

// Run processes events and flushes until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.msgCh:
			if msg.evt != nil {
				a.processEvent(msg.evt)
			} else {
				a.processFlush(msg.flushKey, msg.flushScenario)
			}
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Routing
// ————————————————————————————————————————————————————————————————————————

func (a *Aggregator) processEvent(evt *types.OrderEvent) {
	if a.dedup.Seen(evt.DedupKey()) {
		a.logger.Debug("duplicate event dropped", "key", evt.Key(), "status", evt.Status)
		return
	}

	pres := a.resolvePresentation(evt)

	// Untagged order placements are noise; nothing to aggregate yet.
	if pres.Source == classify.SourceOther && evt.Status == types.StatusNew {
		return
	}

	key := evt.Key()
	if evt.Status.IsTerminal() && a.finalized.Contains(key) {
		a.logger.Debug("event for finalized context dropped", "key", key, "status", evt.Status)
		return
	}

	ctx := a.tracker.Update(evt, pres)

	if ctx.Presentation.Source != classify.SourceOther {
		a.processStopLike(ctx, evt)
	} else {
		a.processGeneral(ctx, evt)
	}
}

// resolvePresentation classifies the event's client id, records parent
// suppression for child executions, and lets unrecognizable children inherit
// their parent's cached presentation.
func (a *Aggregator) resolvePresentation(evt *types.OrderEvent) Presentation {
	cat := classify.Classify(evt.ClientOrderID)
	pres := NewPresentation(evt.Symbol, cat)

	if evt.IsChildExecution() {
		parentKey := evt.Symbol + "|" + evt.OrigClientOrderID
		a.suppressedParents.Add(parentKey)
		if cat.Kind == classify.KindOther {
			if inherited, ok := a.parentPres.get(parentKey); ok {
				pres = inherited
			}
		}
	}

	if cat.Kind != classify.KindOther {
		a.parentPres.put(evt.Symbol+"|"+evt.ClientOrderID, pres)
	}
	return pres
}

func (a *Aggregator) processStopLike(ctx *Context, evt *types.OrderEvent) {
	switch evt.Status {
	case types.StatusNew:
		// The parent stop announces creation; MARKET/LIMIT NEWs here are
		// child executions whose parent already did.
		if evt.OrderType == "MARKET" || evt.OrderType == "LIMIT" {
			return
		}
		a.emit(ctx, types.ScenarioSLTPNew)

	case types.StatusPartiallyFilled:
		a.armDeadline(ctx, types.ScenarioSLTPPartialTimeout)

	case types.StatusFilled:
		ctx.CancelDeadline()
		if a.suppressedParents.Contains(evt.Symbol + "|" + evt.ClientOrderID) {
			a.logger.Debug("suppressed parent fill dropped", "key", ctx.Key())
			a.finalize(ctx)
			return
		}
		if ctx.HadPartialFill {
			a.emit(ctx, types.ScenarioSLTPPartialCompleted)
		} else {
			a.emit(ctx, types.ScenarioSLTPFilled)
		}
		a.finalize(ctx)

	case types.StatusCanceled:
		ctx.CancelDeadline()
		if ctx.HadPartialFill {
			a.emit(ctx, types.ScenarioSLTPPartialCanceled)
		} else {
			a.emit(ctx, types.ScenarioSLTPCanceled)
		}
		a.finalize(ctx)

	case types.StatusExpired, types.StatusRejected:
		ctx.CancelDeadline()
		a.finalize(ctx)
	}
}

func (a *Aggregator) processGeneral(ctx *Context, evt *types.OrderEvent) {
	switch evt.Status {
	case types.StatusPartiallyFilled:
		a.armDeadline(ctx, types.ScenarioGeneralTimeout)

	case types.StatusFilled:
		ctx.CancelDeadline()
		if ctx.HadPartialFill {
			a.emit(ctx, types.ScenarioGeneralAggregated)
		} else {
			a.emit(ctx, types.ScenarioGeneralSingle)
		}
		a.finalize(ctx)

	case types.StatusCanceled:
		ctx.CancelDeadline()
		if ctx.HadPartialFill {
			a.emit(ctx, types.ScenarioGeneralPartialCancel)
		}
		a.finalize(ctx)

	case types.StatusExpired, types.StatusRejected:
		ctx.CancelDeadline()
		a.finalize(ctx)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Window deadlines
// ————————————————————————————————————————————————————————————————————————

// armDeadline (re)schedules the context's single-shot window timer. Firing
// enqueues a flush on the serial channel, so the emission interleaves with
// real events instead of racing them.
func (a *Aggregator) armDeadline(ctx *Context, scenario types.Scenario) {
	key := ctx.Key()
	timer := time.AfterFunc(a.window, func() {
		select {
		case a.msgCh <- message{flushKey: key, flushScenario: scenario}:
		case <-a.runCtx.Done():
		}
	})
	ctx.ArmDeadline(scenario, func() { timer.Stop() })
}

// processFlush emits the pending scenario for a context whose window ran out.
// The context may have been destroyed (or re-armed for a different scenario)
// between the timer firing and the flush being dequeued; those flushes are
// no-ops.
func (a *Aggregator) processFlush(key string, scenario types.Scenario) {
	ctx := a.tracker.Get(key)
	if ctx == nil || ctx.PendingScenario != scenario {
		return
	}
	ctx.CancelDeadline()
	a.emit(ctx, scenario)
	// The context is gone after a timed emission; a late fill rebuilds it
	// from scratch rather than double-counting.
	a.tracker.Delete(key)
}

// ————————————————————————————————————————————————————————————————————————
// Emission
// ————————————————————————————————————————————————————————————————————————

func (a *Aggregator) emit(ctx *Context, scenario types.Scenario) {
	n := a.buildNotification(ctx, scenario)
	a.logger.Info("notification",
		"scenario", scenario,
		"title", n.Title,
		"state", n.StateLabel,
		"price", n.DisplayPrice,
	)
	a.notify(n)
}

// finalize destroys the context and remembers the key so terminal replays
// within the dedup horizon are dropped.
func (a *Aggregator) finalize(ctx *Context) {
	key := ctx.Key()
	a.finalized.Add(key)
	a.tracker.Delete(key)
}
