package siegenia

import (
	"slices"
	"time"
)

// completion receives the outcome of a request exactly once.
type completion func(*Response, error)

type pendingRequest struct {
	id      uint64
	command string
	sentAt  time.Time
	timer   *time.Timer
	done    completion
}

// pendingTable tracks requests awaiting a response.
//
// It is owned by the client loop and is not safe for concurrent use.
// Timers never touch the table directly: they post back into the loop,
// which calls expire.
type pendingTable struct {
	entries map[uint64]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint64]*pendingRequest)}
}

// register stores a request. onExpire is scheduled after timeout and must
// only post the expiry to the owner; a zero timeout disables the timer.
func (p *pendingTable) register(id uint64, command string, timeout time.Duration, done completion, onExpire func(id uint64)) {
	req := &pendingRequest{
		id:      id,
		command: command,
		sentAt:  time.Now(),
		done:    done,
	}
	if timeout > 0 && onExpire != nil {
		req.timer = time.AfterFunc(timeout, func() { onExpire(id) })
	}
	p.entries[id] = req
}

func (p *pendingTable) has(id uint64) bool {
	_, ok := p.entries[id]
	return ok
}

func (p *pendingTable) command(id uint64) string {
	if req, ok := p.entries[id]; ok {
		return req.command
	}
	return ""
}

// resolve completes and removes id. It returns false if id is unknown,
// which is the normal outcome for a response racing its own timeout.
func (p *pendingTable) resolve(id uint64, resp *Response, err error) bool {
	req, ok := p.entries[id]
	if !ok {
		return false
	}
	delete(p.entries, id)
	if req.timer != nil {
		req.timer.Stop()
	}
	req.done(resp, err)
	return true
}

// failAll completes every entry with err in id order and empties the table.
func (p *pendingTable) failAll(err error) int {
	ids := make([]uint64, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		p.resolve(id, nil, err)
	}
	return len(ids)
}

func (p *pendingTable) len() int {
	return len(p.entries)
}
