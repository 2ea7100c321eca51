package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := Open(context.Background(), rdb, "", time.Minute, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestPublishAndReplayOrder(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	subject := Subject("echo-ritual", "run-1")
	now := time.Now()

	if err := l.Publish(ctx, subject, RitualStarted("run-1", "echo-ritual", now), MsgIDStart("run-1")); err != nil {
		t.Fatal(err)
	}
	if err := l.Publish(ctx, subject, RitualTransitioned("run-1", "echo-ritual", "start", "done", now), MsgIDTransition("run-1", 0)); err != nil {
		t.Fatal(err)
	}
	if err := l.Publish(ctx, subject, RitualCompleted("run-1", "echo-ritual", map[string]any{"message": "x"}, now), MsgIDComplete("run-1")); err != nil {
		t.Fatal(err)
	}

	events, err := l.ReadRun(ctx, "echo-ritual", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	wantKinds := []Kind{KindRitualStarted, KindRitualTransitioned, KindRitualCompleted}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Fatalf("event %d: kind = %s, want %s", i, events[i].Kind, k)
		}
	}
}

func TestDuplicatePublishSuppressed(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	subject := Subject("r", "run-1")
	now := time.Now()

	ev := PolicyDecision("run-1", "r", PolicyDecisionFields{TenantID: "acme", Capability: "capsule.http", Allowed: true, Limit: 1, Window: 60, Remaining: 0}, now)
	msgID := MsgIDDecision("run-1", "capsule.http", now.UnixNano())

	if err := l.Publish(ctx, subject, ev, msgID); err != nil {
		t.Fatal(err)
	}
	if err := l.Publish(ctx, subject, ev, msgID); err != nil {
		t.Fatal(err)
	}

	events, err := l.ReadRun(ctx, "r", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one record after duplicate publish, got %d", len(events))
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	subject := Subject("r", "run-1")
	now := time.Now()
	_ = l.Publish(ctx, subject, RitualStarted("run-1", "r", now), MsgIDStart("run-1"))
	_ = l.Publish(ctx, subject, RitualCompleted("run-1", "r", nil, now), MsgIDComplete("run-1"))

	first, err := l.ReadRun(ctx, "r", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.ReadRun(ctx, "r", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("replay lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Kind != second[i].Kind || first[i].RunID != second[i].RunID {
			t.Fatalf("replay %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestReplayFiltersBySubject(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	_ = l.Publish(ctx, Subject("r", "run-1"), RitualStarted("run-1", "r", now), MsgIDStart("run-1"))
	_ = l.Publish(ctx, Subject("r", "run-2"), RitualStarted("run-2", "r", now), MsgIDStart("run-2"))

	events, err := l.ReadRun(ctx, "r", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].RunID != "run-1" {
		t.Fatalf("expected only run-1's event, got %+v", events)
	}
}

func TestFetchBatchAndAck(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()
	_ = l.Publish(ctx, Subject("r", "run-1"), RitualStarted("run-1", "r", now), MsgIDStart("run-1"))

	batch, err := l.FetchBatch(ctx, "ttl-worker", "worker-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Events) != 1 {
		t.Fatalf("expected 1 event in batch, got %d", len(batch.Events))
	}
	if err := l.Ack(ctx, "ttl-worker", batch); err != nil {
		t.Fatal(err)
	}
}
