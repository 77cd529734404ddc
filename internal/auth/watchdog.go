package auth

import (
	"sync"
	"time"

	"mssecurity.org/internal/clock"
)

// Watchdog signs a session out after a period without user interaction.
//
// The first interaction inside a debounce window moves the deadline to
// that interaction's time plus the timeout; later interactions in the same
// window are ignored. A generation counter makes a firing timer that lost
// a race with Touch or Cancel a no-op.
type Watchdog struct {
	clock    clock.Clock
	timeout  time.Duration
	debounce time.Duration

	mu        sync.Mutex
	active    bool
	gen       uint64
	timer     *clock.Timer
	deadline  time.Time
	windowEnd time.Time
	onExpire  func()
}

// NewWatchdog returns an inactive watchdog.
func NewWatchdog(c clock.Clock, timeout, debounce time.Duration) *Watchdog {
	if c == nil {
		c = clock.Real()
	}
	return &Watchdog{clock: c, timeout: timeout, debounce: debounce}
}

// Start arms the watchdog; onExpire runs at most once, without any
// watchdog lock held. Starting an active watchdog replaces its callback.
func (w *Watchdog) Start(onExpire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = true
	w.onExpire = onExpire
	w.windowEnd = time.Time{}
	w.armLocked(w.clock.Now())
}

// Touch reports an interaction. It returns true when the deadline moved.
func (w *Watchdog) Touch(InteractionKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return false
	}
	now := w.clock.Now()
	if now.Before(w.windowEnd) {
		return false
	}
	w.windowEnd = now.Add(w.debounce)
	w.armLocked(now)
	return true
}

// Cancel disarms the watchdog and forgets any debounce window.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = false
	w.gen++
	w.timer.Stop()
	w.timer = nil
	w.onExpire = nil
	w.deadline = time.Time{}
	w.windowEnd = time.Time{}
}

// Active reports whether the watchdog is armed.
func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Deadline returns the instant the session expires if no interaction
// arrives first.
func (w *Watchdog) Deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline, w.active
}

func (w *Watchdog) armLocked(now time.Time) {
	w.gen++
	gen := w.gen
	w.timer.Stop()
	w.deadline = now.Add(w.timeout)
	w.timer = w.clock.AfterFunc(w.timeout, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.active || gen != w.gen {
		w.mu.Unlock()
		return
	}
	fn := w.onExpire
	w.active = false
	w.timer = nil
	w.onExpire = nil
	w.deadline = time.Time{}
	w.windowEnd = time.Time{}
	w.mu.Unlock()

	if fn != nil {
		fn()
	}
}
