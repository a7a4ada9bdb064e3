// limiter.go rate-limits alert delivery per issue identity and detects
// recoveries.
//
// State is keyed by (rule, baseAsset, direction). A new key alerts
// immediately; a persisting key re-alerts only after its cooldown elapses; a
// key absent from the current batch is dropped, emitting a recovery event
// when the issue asked for one.
package validate

import (
	"log/slog"
	"slices"
	"time"

	"github.com/laodaluo/futures-watch/pkg/types"
)

// alertState tracks one live issue between ticks.
type alertState struct {
	issue            types.ValidationIssue
	firstDetectedAt  time.Time
	lastSentAt       time.Time
	notifyOnRecovery bool
}

// Limiter applies cooldowns and recovery tracking. It is owned by the
// validation service's single worker, so it does not lock.
type Limiter struct {
	// cooldownFloor is the minimum effective cooldown regardless of the
	// issue's own setting; zero disables the floor.
	cooldownFloor time.Duration
	states        map[string]*alertState
	logger        *slog.Logger
}

// NewLimiter creates a limiter with an optional cooldown floor.
func NewLimiter(cooldownFloor time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		cooldownFloor: cooldownFloor,
		states:        make(map[string]*alertState),
		logger:        logger.With("component", "limiter"),
	}
}

// Process folds one tick's issues into the state and returns the events to
// publish: alerts in input order, then recoveries for every vanished key.
func (l *Limiter) Process(issues []types.ValidationIssue, now time.Time) []types.AlertEvent {
	var events []types.AlertEvent
	seen := make(map[string]bool, len(issues))

	for _, issue := range issues {
		key := issue.IdentityKey()
		seen[key] = true

		state, exists := l.states[key]
		if !exists {
			l.states[key] = &alertState{
				issue:            issue,
				firstDetectedAt:  now,
				lastSentAt:       now,
				notifyOnRecovery: issue.NotifyOnRecovery,
			}
			events = append(events, types.AlertEvent{
				Type:            types.AlertFired,
				Issue:           issue,
				FirstDetectedAt: now,
				TriggeredAt:     now,
			})
			continue
		}

		// Keep the latest observation so the eventual re-alert carries
		// current values.
		state.issue = issue
		state.notifyOnRecovery = issue.NotifyOnRecovery

		if now.Sub(state.lastSentAt) >= l.effectiveCooldown(issue) {
			state.lastSentAt = now
			events = append(events, types.AlertEvent{
				Type:            types.AlertFired,
				Issue:           issue,
				Repeat:          true,
				FirstDetectedAt: state.firstDetectedAt,
				TriggeredAt:     now,
			})
		} else {
			l.logger.Debug("alert suppressed by cooldown", "key", key)
		}
	}

	// Recoveries, in sorted key order for deterministic digests.
	gone := make([]string, 0)
	for key := range l.states {
		if !seen[key] {
			gone = append(gone, key)
		}
	}
	slices.Sort(gone)

	for _, key := range gone {
		state := l.states[key]
		delete(l.states, key)
		if !state.notifyOnRecovery {
			continue
		}
		events = append(events, types.AlertEvent{
			Type:            types.AlertRecovered,
			Issue:           state.issue,
			FirstDetectedAt: state.firstDetectedAt,
			TriggeredAt:     now,
		})
	}

	return events
}

func (l *Limiter) effectiveCooldown(issue types.ValidationIssue) time.Duration {
	cooldown := time.Duration(issue.CooldownMinutes) * time.Minute
	if cooldown < l.cooldownFloor {
		cooldown = l.cooldownFloor
	}
	return cooldown
}

// ActiveCount reports the number of issues currently in cooldown tracking.
func (l *Limiter) ActiveCount() int {
	return len(l.states)
}
