package timewheel

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTickInterval = 100 * time.Millisecond
	defaultWheelSize    = 256
)

// entry is a scheduled timer. While it sits in a slot it is linked into that
// slot's singly-linked list via next; the wheel's entries map provides O(1)
// cancellation without slot traversal.
type entry struct {
	id        string
	expiresAt time.Time
	callback  func()
	cancelled bool
	next      *entry
}

// slot keeps head and tail so appends are O(1) and drain order matches
// insertion order.
type slot struct {
	head *entry
	tail *entry
}

func (s *slot) append(e *entry) {
	e.next = nil
	if s.tail == nil {
		s.head = e
		s.tail = e
		return
	}
	s.tail.next = e
	s.tail = e
}

// Stats is an observability snapshot. None of the counters participate in
// correctness.
type Stats struct {
	Active      int    `json:"active"`
	Scheduled   uint64 `json:"scheduled"`
	Fired       uint64 `json:"fired"`
	Cancelled   uint64 `json:"cancelled"`
	Ticks       uint64 `json:"ticks"`
	CurrentSlot int    `json:"current_slot"`
}

// Wheel is a fixed-size timer wheel advanced by a single periodic tick.
// Delays longer than size*tick wrap: the entry lands in a slot that is
// visited before its true expiry and is reinserted there against the later
// clock reading, so long delays cost extra reinsertions instead of extra
// wheel levels.
type Wheel struct {
	mu      sync.Mutex
	slots   []slot
	entries map[string]*entry
	current int

	tickInterval time.Duration
	size         int

	running bool
	stopped bool
	done    chan struct{}

	scheduled uint64
	fired     uint64
	cancelled uint64
	ticks     uint64

	nowFn  func() time.Time
	logger zerolog.Logger
}

// New creates a wheel. Non-positive tickInterval or size fall back to the
// defaults (100ms, 256 slots).
func New(tickInterval time.Duration, size int, logger zerolog.Logger) *Wheel {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	if size <= 0 {
		size = defaultWheelSize
	}
	return &Wheel{
		slots:        make([]slot, size),
		entries:      make(map[string]*entry),
		tickInterval: tickInterval,
		size:         size,
		nowFn:        time.Now,
		logger:       logger.With().Str("component", "timewheel").Logger(),
	}
}

// Start begins the tick loop. Idempotent. The loop goroutine exits on Stop
// and never keeps the process alive on its own.
func (w *Wheel) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	go w.run(w.done)
}

func (w *Wheel) run(done chan struct{}) {
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// Stop halts the tick loop, cancels every tracked entry and clears all
// slots. Schedule after Stop is a no-op.
func (w *Wheel) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.running {
		close(w.done)
		w.running = false
	}
	for _, e := range w.entries {
		e.cancelled = true
	}
	w.entries = make(map[string]*entry)
	for i := range w.slots {
		w.slots[i] = slot{}
	}
}

// Schedule inserts callback to fire after delay. An existing entry under the
// same id is replaced (last-write-wins). Returns id for chaining.
func (w *Wheel) Schedule(id string, delay time.Duration, callback func()) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return id
	}
	if old, ok := w.entries[id]; ok {
		old.cancelled = true
		delete(w.entries, id)
	}
	if delay < 0 {
		delay = 0
	}
	e := &entry{
		id:        id,
		expiresAt: w.nowFn().Add(delay),
		callback:  callback,
	}
	w.entries[id] = e
	w.placeLocked(e, w.nowFn())
	w.scheduled++
	return id
}

// placeLocked computes the target slot for e relative to the current cursor
// and appends it there. Slot membership is a hint: a wrapped long-delay
// entry is revisited early and reinserted by the tick handler.
func (w *Wheel) placeLocked(e *entry, now time.Time) {
	remaining := e.expiresAt.Sub(now)
	ticksAhead := int((remaining + w.tickInterval - 1) / w.tickInterval)
	if ticksAhead < 1 {
		ticksAhead = 1
	}
	target := (w.current + ticksAhead) % w.size
	w.slots[target].append(e)
}

// Cancel marks the entry cancelled and removes it from the lookup map.
// The entry is physically discarded the next time its slot drains.
func (w *Wheel) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	if !ok {
		return false
	}
	e.cancelled = true
	delete(w.entries, id)
	w.cancelled++
	return true
}

// Has reports whether an entry is scheduled under id.
func (w *Wheel) Has(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[id]
	return ok
}

// Remaining returns the time left before the entry fires, or -1 for unknown
// ids. Never returns a negative duration for a known id.
func (w *Wheel) Remaining(id string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	if !ok {
		return -1
	}
	remaining := e.expiresAt.Sub(w.nowFn())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stats returns a snapshot of the wheel's counters.
func (w *Wheel) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Active:      len(w.entries),
		Scheduled:   w.scheduled,
		Fired:       w.fired,
		Cancelled:   w.cancelled,
		Ticks:       w.ticks,
		CurrentSlot: w.current,
	}
}

// tick advances the cursor and drains the one slot it lands on. Entries not
// yet due (wrapped long delays) are reinserted against the later now; due
// entries are collected while the slot is reset and fired afterwards in
// insertion order.
func (w *Wheel) tick() {
	w.mu.Lock()
	w.ticks++
	w.current = (w.current + 1) % w.size
	now := w.nowFn()

	head := w.slots[w.current].head
	w.slots[w.current] = slot{}

	var due []*entry
	for e := head; e != nil; {
		next := e.next
		e.next = nil
		switch {
		case e.cancelled:
			// dropped without firing
		case e.expiresAt.After(now):
			w.placeLocked(e, now)
		default:
			delete(w.entries, e.id)
			w.fired++
			due = append(due, e)
		}
		e = next
	}
	w.mu.Unlock()

	for _, e := range due {
		w.fire(e)
	}
}

// fire runs one callback under a panic guard so a bad callback cannot stall
// the tick loop.
func (w *Wheel) fire(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("timer_id", e.id).Interface("panic", r).Msg("timer callback panicked")
		}
	}()
	e.callback()
}

// Flush synchronously fires every entry whose expiry has passed, regardless
// of slot position. Not-yet-due and cancelled entries are left untouched.
// Intended for deterministic tests.
func (w *Wheel) Flush() {
	w.mu.Lock()
	now := w.nowFn()
	var due []*entry
	for i := range w.slots {
		var kept slot
		for e := w.slots[i].head; e != nil; {
			next := e.next
			e.next = nil
			switch {
			case e.cancelled:
				// discard
			case e.expiresAt.After(now):
				kept.append(e)
			default:
				delete(w.entries, e.id)
				w.fired++
				due = append(due, e)
			}
			e = next
		}
		w.slots[i] = kept
	}
	w.mu.Unlock()

	for _, e := range due {
		w.fire(e)
	}
}
