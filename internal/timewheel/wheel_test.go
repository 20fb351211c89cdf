package timewheel

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestWheel(tick time.Duration, size int) (*Wheel, *time.Time) {
	w := New(tick, size, zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)
	w.nowFn = func() time.Time { return now }
	return w, &now
}

func TestScheduleFiresOnTick(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	fired := false
	w.Schedule("t1", 50*time.Millisecond, func() { fired = true })
	if !w.Has("t1") {
		t.Fatalf("expected t1 to be scheduled")
	}

	*now = now.Add(100 * time.Millisecond)
	w.tick()

	if !fired {
		t.Fatalf("expected callback to fire on first tick")
	}
	if w.Has("t1") {
		t.Fatalf("expected t1 to be removed after firing")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	fired := false
	w.Schedule("t1", 50*time.Millisecond, func() { fired = true })
	if !w.Cancel("t1") {
		t.Fatalf("expected cancel to report an existing entry")
	}
	if w.Cancel("t1") {
		t.Fatalf("expected second cancel to report no entry")
	}

	for i := 0; i < 512; i++ {
		*now = now.Add(100 * time.Millisecond)
		w.tick()
	}
	if fired {
		t.Fatalf("cancelled callback must never fire")
	}
}

func TestScheduleReplacesExistingID(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	var got string
	w.Schedule("t1", 100*time.Millisecond, func() { got = "first" })
	w.Schedule("t1", 100*time.Millisecond, func() { got = "second" })

	*now = now.Add(200 * time.Millisecond)
	for i := 0; i < 4; i++ {
		w.tick()
	}
	if got != "second" {
		t.Fatalf("expected replacement callback to fire, got %q", got)
	}
	stats := w.Stats()
	if stats.Fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", stats.Fired)
	}
}

func TestRemaining(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	if got := w.Remaining("missing"); got != -1 {
		t.Fatalf("expected -1 for unknown id, got %v", got)
	}

	w.Schedule("t1", 500*time.Millisecond, func() {})
	if got := w.Remaining("t1"); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms remaining, got %v", got)
	}

	*now = now.Add(time.Second)
	if got := w.Remaining("t1"); got != 0 {
		t.Fatalf("expected remaining clamped to zero, got %v", got)
	}
}

func TestLongDelayWrapsAndFires(t *testing.T) {
	tick := 10 * time.Millisecond
	size := 8
	w, now := newTestWheel(tick, size)

	// 25 ticks exceeds a full rotation of 8 slots three times over.
	fired := false
	firedAtTick := -1
	w.Schedule("t1", 25*tick, func() { fired = true })

	for i := 1; i <= 40; i++ {
		*now = now.Add(tick)
		w.tick()
		if fired && firedAtTick < 0 {
			firedAtTick = i
		}
	}
	if !fired {
		t.Fatalf("long-delay entry never fired")
	}
	if firedAtTick != 25 {
		t.Fatalf("expected firing on tick 25, got tick %d", firedAtTick)
	}
}

func TestFiringOrderWithinSlot(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	var order []string
	for _, id := range []string{"a", "b", "c"} {
		id := id
		w.Schedule(id, 50*time.Millisecond, func() { order = append(order, id) })
	}

	*now = now.Add(100 * time.Millisecond)
	w.tick()

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected insertion-order firing, got %v", order)
	}
}

func TestPanickingCallbackDoesNotStallTick(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	secondFired := false
	w.Schedule("bad", 50*time.Millisecond, func() { panic("boom") })
	w.Schedule("good", 50*time.Millisecond, func() { secondFired = true })

	*now = now.Add(100 * time.Millisecond)
	w.tick()

	if !secondFired {
		t.Fatalf("callback after a panicking one must still fire")
	}
}

func TestStopClearsAndRejectsSchedule(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	fired := false
	w.Schedule("t1", 50*time.Millisecond, func() { fired = true })
	w.Stop()

	if w.Has("t1") {
		t.Fatalf("expected entries cleared on stop")
	}

	w.Schedule("t2", 50*time.Millisecond, func() { fired = true })
	if w.Has("t2") {
		t.Fatalf("schedule after stop must be a no-op")
	}

	*now = now.Add(time.Second)
	w.Flush()
	if fired {
		t.Fatalf("no callback may fire after stop")
	}
}

func TestFlushFiresOnlyDueEntries(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	dueFired := false
	lateFired := false
	w.Schedule("due", 50*time.Millisecond, func() { dueFired = true })
	w.Schedule("late", 10*time.Second, func() { lateFired = true })

	*now = now.Add(100 * time.Millisecond)
	w.Flush()

	if !dueFired {
		t.Fatalf("due entry must fire on flush")
	}
	if lateFired {
		t.Fatalf("not-yet-due entry must not fire on flush")
	}
	if !w.Has("late") {
		t.Fatalf("not-yet-due entry must stay scheduled")
	}
}

func TestStatsCounters(t *testing.T) {
	w, now := newTestWheel(100*time.Millisecond, 256)

	w.Schedule("a", 50*time.Millisecond, func() {})
	w.Schedule("b", 50*time.Millisecond, func() {})
	w.Cancel("b")

	*now = now.Add(100 * time.Millisecond)
	w.tick()

	stats := w.Stats()
	if stats.Scheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %d", stats.Scheduled)
	}
	if stats.Fired != 1 {
		t.Fatalf("expected 1 fired, got %d", stats.Fired)
	}
	if stats.Cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %d", stats.Cancelled)
	}
	if stats.Active != 0 {
		t.Fatalf("expected no active entries, got %d", stats.Active)
	}
	if stats.Ticks != 1 {
		t.Fatalf("expected 1 tick, got %d", stats.Ticks)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	w := New(time.Millisecond, 16, zerolog.Nop())
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()

	fired := make(chan struct{}, 1)
	w.Schedule("t", time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatalf("wheel must not fire after stop")
	case <-time.After(20 * time.Millisecond):
	}
}
