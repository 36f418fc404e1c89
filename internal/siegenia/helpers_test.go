package siegenia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testWait = 2 * time.Second

// wireRequest is the decoded form of a frame written by the client.
type wireRequest struct {
	Command  string         `json:"command"`
	Params   map[string]any `json:"params"`
	ID       uint64         `json:"id"`
	User     string         `json:"user"`
	Password string         `json:"password"`
	Token    string         `json:"token"`
	LongLife *bool          `json:"long_life"`
}

// fakeNetwork hands out fakeTransports and records every dial.
type fakeNetwork struct {
	mu       sync.Mutex
	failDial bool
	manual   bool // do not emit Opened automatically
	dials    chan *fakeTransport
	count    int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{dials: make(chan *fakeTransport, 64)}
}

func (n *fakeNetwork) newTransport() Transport {
	return &fakeTransport{net: n, sent: make(chan []byte, 64)}
}

func (n *fakeNetwork) setFailDial(fail bool) {
	n.mu.Lock()
	n.failDial = fail
	n.mu.Unlock()
}

func (n *fakeNetwork) dialCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// nextDial waits for the client to open a transport.
func (n *fakeNetwork) nextDial(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case ft := <-n.dials:
		return ft
	case <-time.After(testWait):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// expectNoDial fails if a dial happens within d.
func (n *fakeNetwork) expectNoDial(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-n.dials:
		t.Fatal("unexpected dial")
	case <-time.After(d):
	}
}

// fakeTransport is a scripted Transport. The test plays the device.
type fakeTransport struct {
	net  *fakeNetwork
	sent chan []byte

	mu     sync.Mutex
	sink   func(TransportEvent)
	url    string
	open   bool
	closed bool
}

func (f *fakeTransport) Open(_ context.Context, rawURL string, sink func(TransportEvent)) error {
	f.mu.Lock()
	f.sink = sink
	f.url = rawURL
	f.mu.Unlock()

	f.net.mu.Lock()
	f.net.count++
	fail := f.net.failDial
	manual := f.net.manual
	f.net.mu.Unlock()

	if fail {
		err := errors.New("connection refused")
		sink(TransportEvent{Kind: TransportError, Err: err})
		sink(TransportEvent{Kind: TransportClosed, Code: 1006, Reason: err.Error()})
		f.net.dials <- f
		return err
	}

	f.net.dials <- f
	if !manual {
		f.accept()
	}
	return nil
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	open := f.open && !f.closed
	f.mu.Unlock()
	if !open {
		return ErrNotConnected
	}
	f.sent <- append([]byte(nil), payload...)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) emit(ev TransportEvent) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(ev)
}

// accept completes the handshake.
func (f *fakeTransport) accept() {
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	f.emit(TransportEvent{Kind: TransportOpened})
}

// drop simulates the device closing the socket.
func (f *fakeTransport) drop(code int, reason string) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.emit(TransportEvent{Kind: TransportClosed, Code: code, Reason: reason})
}

func (f *fakeTransport) push(frame string) {
	f.emit(TransportEvent{Kind: TransportReceived, Payload: []byte(frame)})
}

func (f *fakeTransport) respond(id uint64, status, data string) {
	if data == "" {
		data = "{}"
	}
	f.push(fmt.Sprintf(`{"id":%d,"status":%q,"data":%s}`, id, status, data))
}

// nextRequest waits for the next frame the client writes.
func (f *fakeTransport) nextRequest(t *testing.T) wireRequest {
	t.Helper()
	select {
	case raw := <-f.sent:
		var req wireRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("client sent invalid JSON %q: %v", raw, err)
		}
		return req
	case <-time.After(testWait):
		t.Fatal("timed out waiting for request")
		return wireRequest{}
	}
}

// expectNoRequest fails if the client writes within d.
func (f *fakeTransport) expectNoRequest(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case raw := <-f.sent:
		t.Fatalf("unexpected request %s", raw)
	case <-time.After(d):
	}
}

// testOptions returns fast options wired to n.
func testOptions(n *fakeNetwork) Options {
	return Options{
		Host:              "10.0.0.5",
		HeartbeatInterval: time.Hour,
		ResponseTimeout:   time.Second,
		MaxRetries:        3,
		RetryBaseInterval: 10 * time.Millisecond,
		RetryMaxInterval:  50 * time.Millisecond,
		NewTransport:      n.newTransport,
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// connectTestClient connects and returns the open transport.
func connectTestClient(t *testing.T, c *Client, n *fakeNetwork, events <-chan Event) *fakeTransport {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ft := n.nextDial(t)
	waitEvent(t, events, EventConnected)
	return ft
}

// waitEvent skips events until one of kind arrives.
func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(testWait)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

// expectNoEvent fails if an event of kind arrives within d.
func expectNoEvent(t *testing.T, events <-chan Event, kind EventKind, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				t.Fatalf("unexpected %s event: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

// asyncSend runs a request in the background.
func asyncSend(c *Client, command string, params any) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := c.SendRequest(context.Background(), command, params)
		ch <- result{resp: resp, err: err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testWait):
		t.Fatal("timed out waiting for request result")
		return result{}
	}
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
