package siegenia

import "time"

// heartbeat is a self-rescheduling one-shot timer.
//
// Every arm or stop bumps the generation, so a firing that was already in
// flight when the scheduler stopped is recognised as stale and ignored.
// Owned by the client loop.
type heartbeat struct {
	interval time.Duration
	timer    *time.Timer
	gen      uint64
	active   bool
}

// arm schedules the next tick. fire runs on the timer goroutine and must
// only post the generation back to the owner.
func (h *heartbeat) arm(fire func(gen uint64)) {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	h.active = true
	if h.interval <= 0 {
		return
	}
	gen := h.gen
	h.timer = time.AfterFunc(h.interval, func() { fire(gen) })
}

// stop cancels any pending tick. Safe to call repeatedly.
func (h *heartbeat) stop() {
	h.gen++
	h.active = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// current reports whether gen belongs to the running schedule.
func (h *heartbeat) current(gen uint64) bool {
	return h.active && gen == h.gen
}
