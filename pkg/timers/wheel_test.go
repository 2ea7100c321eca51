package timers

import (
	"testing"
	"time"
)

func TestTickReturnsOnlyDueUndelivered(t *testing.T) {
	w := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	due := w.ScheduleIn("run-1", "ritual-1", time.Second, now)
	notYet := w.ScheduleIn("run-1", "ritual-1", time.Hour, now)

	got := w.Tick(now.Add(2 * time.Second))
	if len(got) != 1 || got[0].TimerID != due.TimerID {
		t.Fatalf("expected only the due timer, got %+v (not-yet id %s)", got, notYet.TimerID)
	}
}

func TestMarkFiredIsIdempotentForTick(t *testing.T) {
	w := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := w.ScheduleIn("run-1", "ritual-1", time.Second, now)

	later := now.Add(time.Minute)
	if got := w.Tick(later); len(got) != 1 {
		t.Fatalf("expected the timer to be due, got %+v", got)
	}
	w.MarkFired(spec.TimerID)
	if got := w.Tick(later); len(got) != 0 {
		t.Fatalf("expected no due timers after MarkFired, got %+v", got)
	}
	// Idempotent: marking fired again changes nothing.
	w.MarkFired(spec.TimerID)
	if got := w.Tick(later); len(got) != 0 {
		t.Fatalf("expected MarkFired to remain idempotent, got %+v", got)
	}
}

func TestScheduleInAfterRestartYieldsFreshTimerID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w1 := New()
	original := w1.ScheduleIn("run-1", "ritual-1", time.Second, now)

	// Simulate a restart: rebuild a wheel from externally persisted
	// specs, then schedule a new timer.
	w2 := New()
	w2.Restore([]Spec{original})
	fresh := w2.ScheduleIn("run-1", "ritual-1", time.Second, now)

	if fresh.TimerID == original.TimerID {
		t.Fatal("expected a fresh timerId distinct from any prior one")
	}
	restored := w2.Tick(now.Add(time.Minute))
	found := false
	for _, s := range restored {
		if s.TimerID == original.TimerID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the restored timer to still be scheduled under its original id")
	}
}
