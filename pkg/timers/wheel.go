// Package timers implements an in-memory due-at timer wheel:
// schedule, tick for due timers, and idempotent firing.
package timers

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Spec describes one scheduled timer.
type Spec struct {
	TimerID   string
	RunID     string
	RitualID  string
	DueAt     time.Time
	Delivered bool
}

// Wheel is the in-memory timer store. The zero value is not usable;
// construct with New.
type Wheel struct {
	mu     sync.Mutex
	timers map[string]*Spec
}

// New builds an empty Wheel.
func New() *Wheel {
	return &Wheel{timers: map[string]*Spec{}}
}

// ScheduleIn registers a new timer due delay from now and returns its
// Spec. TimerID is a freshly minted, globally unique UUID.
func (w *Wheel) ScheduleIn(runID, ritualID string, delay time.Duration, now time.Time) Spec {
	spec := Spec{
		TimerID:  uuid.NewString(),
		RunID:    runID,
		RitualID: ritualID,
		DueAt:    now.Add(delay),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	stored := spec
	w.timers[spec.TimerID] = &stored
	return spec
}

// Restore reinstates externally persisted specs after a simulated
// process restart, preserving their original timerId.
func (w *Wheel) Restore(specs []Spec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range specs {
		stored := s
		w.timers[s.TimerID] = &stored
	}
}

// Tick returns every non-delivered timer whose DueAt is at or before
// now, ordered by TimerID for determinism.
func (w *Wheel) Tick(now time.Time) []Spec {
	w.mu.Lock()
	defer w.mu.Unlock()
	var due []Spec
	for _, s := range w.timers {
		if !s.Delivered && !s.DueAt.After(now) {
			due = append(due, *s)
		}
	}
	sortByTimerID(due)
	return due
}

// MarkFired flips a timer's Delivered flag. Calling it more than once
// for the same timerId is a no-op, which is what makes repeated Tick
// calls idempotent after firing.
func (w *Wheel) MarkFired(timerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.timers[timerID]; ok {
		s.Delivered = true
	}
}

func sortByTimerID(specs []Spec) {
	for i := 1; i < len(specs); i++ {
		for j := i; j > 0 && specs[j].TimerID < specs[j-1].TimerID; j-- {
			specs[j], specs[j-1] = specs[j-1], specs[j]
		}
	}
}
