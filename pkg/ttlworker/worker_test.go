package ttlworker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/demon-run/ritual-control/pkg/eventlog"
)

func newTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := eventlog.Open(context.Background(), rdb, "", time.Minute, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestRunOneBatchDeniesExpiredGate(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	requestedAt := time.Now()

	req := eventlog.ApprovalRequested("run-1", "echo-ritual", "gate-1", "alice", "needs review", requestedAt)
	if err := l.Publish(ctx, eventlog.Subject("echo-ritual", "run-1"), req, eventlog.MsgIDApprovalRequest("run-1", "gate-1")); err != nil {
		t.Fatal(err)
	}

	clock := requestedAt.Add(2 * time.Hour)
	w := New(l, time.Hour, logr.Discard(), withClock(func() time.Time { return clock }))

	denied, err := w.RunOneBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denied != 1 {
		t.Fatalf("denied = %d, want 1", denied)
	}

	events, err := l.ReadRun(ctx, "echo-ritual", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	var sawDenied, sawFired bool
	for _, e := range events {
		switch e.Kind {
		case eventlog.KindApprovalDenied:
			sawDenied = true
			if reason, _ := e.Fields["reason"].(string); reason != "expired" {
				t.Fatalf("denial reason = %q, want expired", reason)
			}
		case eventlog.KindTimerFired:
			sawFired = true
		}
	}
	if !sawDenied || !sawFired {
		t.Fatalf("expected both approval.denied and timer.fired, events=%+v", events)
	}
}

func TestRunOneBatchSkipsGateNotYetDue(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	requestedAt := time.Now()

	req := eventlog.ApprovalRequested("run-1", "echo-ritual", "gate-1", "alice", "needs review", requestedAt)
	if err := l.Publish(ctx, eventlog.Subject("echo-ritual", "run-1"), req, eventlog.MsgIDApprovalRequest("run-1", "gate-1")); err != nil {
		t.Fatal(err)
	}

	clock := requestedAt.Add(5 * time.Minute)
	w := New(l, time.Hour, logr.Discard(), withClock(func() time.Time { return clock }))

	denied, err := w.RunOneBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denied != 0 {
		t.Fatalf("denied = %d, want 0 (not yet due)", denied)
	}
}

func TestRunOneBatchSkipsResolvedGate(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	requestedAt := time.Now()
	subject := eventlog.Subject("echo-ritual", "run-1")

	req := eventlog.ApprovalRequested("run-1", "echo-ritual", "gate-1", "alice", "needs review", requestedAt)
	_ = l.Publish(ctx, subject, req, eventlog.MsgIDApprovalRequest("run-1", "gate-1"))
	grant := eventlog.ApprovalGranted("run-1", "echo-ritual", "gate-1", "bob", "", requestedAt.Add(time.Minute))
	if err := l.Publish(ctx, subject, grant, eventlog.MsgIDApprovalResolution("run-1", "gate-1")); err != nil {
		t.Fatal(err)
	}

	clock := requestedAt.Add(2 * time.Hour)
	w := New(l, time.Hour, logr.Discard(), withClock(func() time.Time { return clock }))

	denied, err := w.RunOneBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denied != 0 {
		t.Fatalf("denied = %d, want 0 (already granted)", denied)
	}
}

func TestRunOneBatchIsIdempotentAcrossBatches(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	requestedAt := time.Now()

	req := eventlog.ApprovalRequested("run-1", "echo-ritual", "gate-1", "alice", "needs review", requestedAt)
	if err := l.Publish(ctx, eventlog.Subject("echo-ritual", "run-1"), req, eventlog.MsgIDApprovalRequest("run-1", "gate-1")); err != nil {
		t.Fatal(err)
	}

	clock := requestedAt.Add(2 * time.Hour)
	w := New(l, time.Hour, logr.Discard(), withClock(func() time.Time { return clock }))

	if _, err := w.RunOneBatch(ctx); err != nil {
		t.Fatal(err)
	}
	// The denial and fired events are now in the stream too, visible
	// to the next full re-scan; they must not trigger a second denial
	// since the gate is no longer Requested and the expiry timer key
	// is now observed as fired.
	if denied, err := w.RunOneBatch(ctx); err != nil {
		t.Fatal(err)
	} else if denied != 0 {
		t.Fatalf("second batch denied = %d, want 0", denied)
	}

	events, err := l.ReadRun(ctx, "echo-ritual", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	deniedCount := 0
	for _, e := range events {
		if e.Kind == eventlog.KindApprovalDenied {
			deniedCount++
		}
	}
	if deniedCount != 1 {
		t.Fatalf("expected exactly one approval.denied event across batches, got %d", deniedCount)
	}
}

// TestRunOneBatchDeniesGateSeenEarlyOnceItBecomesDue reproduces a gate
// observed by an early pass, well before its TTL elapses: that pass
// must not make the gate unobservable to a later pass once it
// actually becomes due.
func TestRunOneBatchDeniesGateSeenEarlyOnceItBecomesDue(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	requestedAt := time.Now()

	req := eventlog.ApprovalRequested("run-1", "echo-ritual", "gate-1", "alice", "needs review", requestedAt)
	if err := l.Publish(ctx, eventlog.Subject("echo-ritual", "run-1"), req, eventlog.MsgIDApprovalRequest("run-1", "gate-1")); err != nil {
		t.Fatal(err)
	}

	clock := requestedAt.Add(time.Second)
	w := New(l, time.Hour, logr.Discard(), withClock(func() time.Time { return clock }))

	if denied, err := w.RunOneBatch(ctx); err != nil {
		t.Fatal(err)
	} else if denied != 0 {
		t.Fatalf("early pass denied = %d, want 0 (not yet due)", denied)
	}

	clock = requestedAt.Add(2 * time.Hour)
	denied, err := w.RunOneBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denied != 1 {
		t.Fatalf("pass after elapsed TTL denied = %d, want 1 (gate must still be visible)", denied)
	}
}

// TestRunOneBatchHonorsScheduledExpiryTimer checks that a gate's
// denial is driven off its timer.scheduled:v1 dueAt rather than
// requestedAt+ttl, so an externally scheduled short expiry timer
// fires even when the worker's configured TTL is much longer.
func TestRunOneBatchHonorsScheduledExpiryTimer(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	requestedAt := time.Now()
	subject := eventlog.Subject("echo-ritual", "run-1")

	req := eventlog.ApprovalRequested("run-1", "echo-ritual", "gate-1", "alice", "needs review", requestedAt)
	if err := l.Publish(ctx, subject, req, eventlog.MsgIDApprovalRequest("run-1", "gate-1")); err != nil {
		t.Fatal(err)
	}

	timerID := ExpiryTimerKey("run-1", "gate-1")
	dueAt := requestedAt.Add(2 * time.Second)
	sched := eventlog.TimerScheduled("run-1", "echo-ritual", timerID, dueAt, requestedAt)
	if err := l.Publish(ctx, subject, sched, eventlog.MsgIDTimerScheduled("run-1", timerID)); err != nil {
		t.Fatal(err)
	}

	clock := requestedAt.Add(3 * time.Second)
	w := New(l, time.Hour, logr.Discard(), withClock(func() time.Time { return clock }))

	denied, err := w.RunOneBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if denied != 1 {
		t.Fatalf("denied = %d, want 1 (scheduled dueAt has elapsed despite a much longer ttl)", denied)
	}
}
