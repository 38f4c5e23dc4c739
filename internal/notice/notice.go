// Package notice implements a transient notice that dismisses itself
// after a fixed delay. A new notice cancels the pending dismissal of the
// previous one, so only the latest notice's timer ever fires.
package notice

import (
	"sync"
	"time"
)

// DefaultDelay matches the toast timing used by the site script.
const DefaultDelay = 1600 * time.Millisecond

type State int

const (
	Idle State = iota
	Showing
)

func (s State) String() string {
	if s == Showing {
		return "showing"
	}
	return "idle"
}

// Board owns the single dismiss timer.
type Board struct {
	Delay time.Duration
	// OnChange is called after every show and dismiss with the current
	// message ("" when idle).
	OnChange func(msg string, state State)

	mu        sync.Mutex
	state     State
	msg       string
	expiresAt time.Time
	timer     *time.Timer
	gen       uint64
}

func NewBoard(delay time.Duration) *Board {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Board{Delay: delay}
}

// Show displays msg and restarts the dismiss timer.
func (b *Board) Show(msg string) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.state = Showing
	b.msg = msg
	b.expiresAt = time.Now().Add(b.delay())
	b.timer = time.AfterFunc(b.delay(), func() { b.dismiss(gen) })
	cb := b.OnChange
	b.mu.Unlock()

	if cb != nil {
		cb(msg, Showing)
	}
}

// dismiss clears the notice unless a newer one replaced it. Stop does not
// guarantee a timer has not already fired, hence the generation check.
func (b *Board) dismiss(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.state != Showing {
		b.mu.Unlock()
		return
	}
	b.state = Idle
	b.msg = ""
	b.expiresAt = time.Time{}
	b.timer = nil
	cb := b.OnChange
	b.mu.Unlock()

	if cb != nil {
		cb("", Idle)
	}
}

// Current reports the visible notice, if any.
func (b *Board) Current() (msg string, state State, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msg, b.state, b.expiresAt
}

// Stop cancels any pending dismissal and leaves the board idle.
func (b *Board) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	b.state = Idle
	b.msg = ""
	b.expiresAt = time.Time{}
}

func (b *Board) delay() time.Duration {
	if b.Delay <= 0 {
		return DefaultDelay
	}
	return b.Delay
}
