// dispatcher.go splits notifications between the life-cycle and fill sinks.
//
// The dispatcher keeps its own event-identity dedup, independent of the
// aggregator's: expiry announcements arrive here directly from the stream
// without passing through the state machine, and a replay must not produce a
// second card on either path.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/laodaluo/futures-watch/internal/classify"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// Dispatcher routes notifications to the two order sinks.
type Dispatcher struct {
	lifecycle Sink // NEW, CANCELED, EXPIRED
	fill      Sink // FILLED
	dedup     *dedupSet
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher whose dedup horizon is dedupTTL, or 60s
// when dedupTTL is not positive.
func NewDispatcher(lifecycle, fill Sink, dedupTTL time.Duration, logger *slog.Logger) *Dispatcher {
	if dedupTTL <= 0 {
		dedupTTL = 60 * time.Second
	}
	return &Dispatcher{
		lifecycle: lifecycle,
		fill:      fill,
		dedup:     newDedupSet(dedupTTL),
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch delivers an aggregator notification to the matching sink.
func (d *Dispatcher) Dispatch(ctx context.Context, n types.Notification) {
	if d.dedup.seen(n.Event.DedupKey()) {
		d.logger.Debug("duplicate notification dropped", "title", n.Title)
		return
	}

	sink := d.lifecycle
	if n.Event.Status == types.StatusFilled {
		sink = d.fill
	}
	d.send(ctx, sink, BuildOrderCard(n))
}

// HandleExpiry announces an EXPIRED order on the life-cycle sink. These
// events bypass the aggregator (it only destroys state for them), so the
// notification is assembled here.
func (d *Dispatcher) HandleExpiry(ctx context.Context, evt *types.OrderEvent) {
	if evt.Status != types.StatusExpired {
		return
	}
	if d.dedup.seen(evt.DedupKey()) {
		return
	}

	cat := classify.Classify(evt.ClientOrderID)
	n := types.Notification{
		Event:        evt,
		Title:        evt.Symbol + "-" + cat.TitleSuffix(),
		StateLabel:   "过期",
		Source:       cat.Source(),
		ExpiryReason: ExpiryReason(evt.ExecType),
		EmittedAt:    time.Now(),
	}
	d.send(ctx, d.lifecycle, BuildOrderCard(n))
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, card Card) {
	if err := sink.Send(ctx, card); err != nil {
		d.logger.Error("card delivery failed, dropping", "error", err)
	}
}

// ExpiryReason translates the raw execution type of an expired order.
func ExpiryReason(execType string) string {
	switch execType {
	case "EXPIRED_IN_MATCH":
		return "撮合过程中超时 (EXPIRED_IN_MATCH)"
	case "EXPIRED":
		return "超过有效期自动过期"
	case "":
		return "订单超时未成交"
	default:
		return "执行状态: " + execType
	}
}

// ————————————————————————————————————————————————————————————————————————
// Local dedup
// ————————————————————————————————————————————————————————————————————————

// dedupSet is a minimal expiring set; the dispatcher is called from both the
// aggregator worker and the stream reader, so it locks.
type dedupSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func newDedupSet(ttl time.Duration) *dedupSet {
	return &dedupSet{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *dedupSet) seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.entries[key]; ok && now.Before(expires) {
		return true
	}
	// Opportunistic prune keeps the map bounded without a sweeper.
	for k, expires := range s.entries {
		if now.After(expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = now.Add(s.ttl)
	return false
}
