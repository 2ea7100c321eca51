// Package ttlworker implements the TTL worker: a batch scan that
// joins approval-gate state with elapsed expiry timers and emits
// denial events exactly once.
package ttlworker

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/demon-run/ritual-control/pkg/approval"
	"github.com/demon-run/ritual-control/pkg/eventlog"
	"github.com/demon-run/ritual-control/pkg/metrics"
)

// DefaultTTL is the approval gate expiry window absent
// APPROVAL_TTL_SECONDS.
const DefaultTTL = 3600 * time.Second

// ExpiryTimerKey builds the deterministic expiry-timer identity a gate
// is tracked under: "<runId>:expiry:<gateId>". This is distinct from
// the random UUID timerIds pkg/timers mints for
// ritual-authored timers — approval expiry needs a key derivable from
// the gate alone, with no side channel linking a gateId to a timerId.
func ExpiryTimerKey(runID, gateID string) string {
	return fmt.Sprintf("%s:expiry:%s", runID, gateID)
}

// TTLFromEnv resolves the approval TTL from APPROVAL_TTL_SECONDS,
// falling back to DefaultTTL when unset or malformed.
func TTLFromEnv(getenv func(string) string) time.Duration {
	raw := getenv("APPROVAL_TTL_SECONDS")
	if raw == "" {
		return DefaultTTL
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return DefaultTTL
	}
	return time.Duration(secs) * time.Second
}

// Worker re-scans the event log, derives gates past their expiry, and
// denies them idempotently. It keeps no state between batches: every
// pass re-derives the complete picture of outstanding gates, scheduled
// expiry timers, and fired timers from the log itself, so a gate
// observed before it was due is never lost the way it would be behind
// a consumer group's acked-and-gone pull. The zero value is not
// usable; construct with New.
type Worker struct {
	log      *eventlog.Log
	notifier *approval.Notifier
	ttl      time.Duration
	clock    func() time.Time
	logger   logr.Logger
	metrics  *metrics.Registry
}

// Option configures a Worker built by New.
type Option func(*Worker)

func WithNotifier(n *approval.Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(w *Worker) { w.metrics = m }
}

func withClock(f func() time.Time) Option {
	return func(w *Worker) { w.clock = f }
}

// New builds a Worker reading from l with the given default TTL and
// logger. ttl is only consulted when a gate has no timer.scheduled:v1
// event of its own yet, in which case the worker schedules one itself
// (dueAt = requestedAt + ttl) rather than leaving the gate to expire
// never.
func New(l *eventlog.Log, ttl time.Duration, logger logr.Logger, opts ...Option) *Worker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	w := &Worker{
		log:    l,
		ttl:    ttl,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type gateState struct {
	requested   bool
	resolved    bool
	ritualID    string
	requestedAt time.Time
}

// RunOneBatch re-scans the whole log and performs one pass of the
// join-and-deny algorithm, returning the number of gates newly
// denied. Exposed directly so tests can drive the worker without a
// loop.
func (w *Worker) RunOneBatch(ctx context.Context) (int, error) {
	events, err := w.log.ReadAll(ctx)
	if err != nil {
		return 0, err
	}

	gates := map[string]*gateState{}
	scheduled := map[string]time.Time{}
	fired := map[string]bool{}

	for _, ev := range events {
		switch ev.Kind {
		case eventlog.KindApprovalRequested:
			gateID, _ := ev.Fields["gateId"].(string)
			key := gateKey(ev.RunID, gateID)
			gates[key] = &gateState{requested: true, ritualID: ev.RitualID, requestedAt: ev.Ts}
		case eventlog.KindApprovalGranted, eventlog.KindApprovalDenied:
			gateID, _ := ev.Fields["gateId"].(string)
			key := gateKey(ev.RunID, gateID)
			if g, ok := gates[key]; ok {
				g.resolved = true
			} else {
				gates[key] = &gateState{resolved: true}
			}
		case eventlog.KindTimerScheduled:
			timerID, _ := ev.Fields["timerId"].(string)
			scheduledFor, _ := ev.Fields["scheduledFor"].(string)
			dueAt, err := time.Parse(time.RFC3339Nano, scheduledFor)
			if err != nil {
				continue
			}
			scheduled[ev.RunID+"|"+timerID] = dueAt
		case eventlog.KindTimerFired:
			timerID, _ := ev.Fields["timerId"].(string)
			fired[ev.RunID+"|"+timerID] = true
		}
	}

	now := w.clock()
	denied := 0
	for key, g := range gates {
		if !g.requested || g.resolved {
			continue
		}
		runID, gateID := splitGateKey(key)
		timerID := ExpiryTimerKey(runID, gateID)
		timerKey := runID + "|" + timerID
		if fired[timerKey] {
			continue
		}
		subject := eventlog.Subject(g.ritualID, runID)

		dueAt, ok := scheduled[timerKey]
		if !ok {
			// No expiry timer has been scheduled for this gate yet:
			// schedule one now so a future pass (or this one, once
			// computed) can act on it.
			dueAt = g.requestedAt.Add(w.ttl)
			scheduleEvent := eventlog.TimerScheduled(runID, g.ritualID, timerID, dueAt, now)
			if err := w.log.Publish(ctx, subject, scheduleEvent, eventlog.MsgIDTimerScheduled(runID, timerID)); err != nil {
				return denied, fmt.Errorf("ttlworker: publishing timer.scheduled for gate %s: %w", gateID, err)
			}
		}
		if dueAt.After(now) {
			continue
		}

		denyEvent := eventlog.ApprovalDenied(runID, g.ritualID, gateID, "system", "expired", now)
		if err := w.log.Publish(ctx, subject, denyEvent, eventlog.MsgIDApprovalResolution(runID, gateID)); err != nil {
			return denied, fmt.Errorf("ttlworker: publishing approval.denied for gate %s: %w", gateID, err)
		}
		firedEvent := eventlog.TimerFired(runID, g.ritualID, timerID, now)
		if err := w.log.Publish(ctx, subject, firedEvent, eventlog.MsgIDTimerFired(runID, timerID)); err != nil {
			return denied, fmt.Errorf("ttlworker: publishing timer.fired for gate %s: %w", gateID, err)
		}
		w.notifier.ExpiredDenied(ctx, runID, gateID)
		denied++
		if w.metrics != nil {
			w.metrics.TTLDenials.Inc()
			w.metrics.TimersFired.Inc()
		}
	}

	if w.metrics != nil {
		w.metrics.TTLBatches.Inc()
	}
	return denied, nil
}

// Run loops RunOneBatch with a jittered interval until ctx is
// cancelled. Errors from individual batches are logged, not fatal —
// the worker keeps retrying on its own schedule.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.RunOneBatch(ctx); err != nil {
			w.logger.Error(err, "ttl worker batch failed")
		}

		wait := interval + jitter(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func jitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	half := int64(interval) / 2
	if half <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(half))
}

func gateKey(runID, gateID string) string { return runID + "|" + gateID }

func splitGateKey(key string) (runID, gateID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
