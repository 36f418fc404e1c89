package siegenia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultPort              = 443
	DefaultScheme            = "wss"
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultResponseTimeout   = 3 * time.Second
	DefaultMaxRetries        = 10
	DefaultRetryBaseInterval = 5 * time.Second
	DefaultRetryMaxInterval  = 60 * time.Second

	// defaultDialTimeout bounds a single Open attempt.
	defaultDialTimeout = 15 * time.Second

	// opQueueSize is the buffer of the loop's inbox.
	opQueueSize = 64

	// defaultSubscriberBuffer is used when Subscribe is given a non-positive size.
	defaultSubscriberBuffer = 32

	// websocketPath is fixed by the device firmware.
	websocketPath = "/WebSocket"
)

// ConnectionState is the session client's lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// EventKind identifies a session event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventReconnected
	EventClosed
	EventError
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnected:
		return "reconnected"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is broadcast to subscribers.
type Event struct {
	Kind    EventKind
	Code    int       // EventClosed
	Reason  string    // EventClosed
	Err     error     // EventError
	Message *Response // EventMessage
	Time    time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Client. Zero values take the package defaults.
// The options are copied by New and cannot change afterwards.
type Options struct {
	Host   string
	Port   int
	Scheme string // "wss" or "ws"

	HeartbeatInterval time.Duration
	ResponseTimeout   time.Duration

	// MaxRetries bounds both reconnect attempts and login retries.
	MaxRetries        int
	RetryBaseInterval time.Duration
	RetryMaxInterval  time.Duration

	// Logger is optional.
	Logger Logger

	// NewTransport builds the transport for each connection attempt.
	// Defaults to a WSTransport.
	NewTransport func() Transport
}

func (o *Options) applyDefaults() {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Scheme == "" {
		o.Scheme = DefaultScheme
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ResponseTimeout == 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBaseInterval == 0 {
		o.RetryBaseInterval = DefaultRetryBaseInterval
	}
	if o.RetryMaxInterval == 0 {
		o.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if o.NewTransport == nil {
		o.NewTransport = func() Transport { return NewWSTransport() }
	}
}

func (o *Options) validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.Scheme != "wss" && o.Scheme != "ws" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidOptions, o.Scheme)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Stats holds operational statistics.
type Stats struct {
	State             ConnectionState
	Pending           int
	ReconnectAttempt  int           // current reconnect counter
	ReconnectDelay    time.Duration // delay of the last scheduled reconnect
	RequestsSent      uint64
	ResponsesReceived uint64
	Timeouts          uint64
	MessagesReceived  uint64 // push messages
	MalformedFrames   uint64
	EventsDropped     uint64 // events dropped due to a full subscriber buffer
	ReconnectsTotal   uint64 // successful reconnections
	LoginRetries      uint64
	HeartbeatsSent    uint64
	LastActivity      time.Time
}

// Client is a session with one Siegenia controller.
//
// All mutable session state is owned by a single goroutine (run). Public
// methods, transport events and timer firings are posted to it as closures,
// so none of that state is ever locked.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscriber channels receive events in emission order.
type Client struct {
	opts   Options
	url    string
	logger Logger

	ops    chan func()
	done   *closeOnce // Close requested
	exited chan struct{}

	stateVal atomic.Int32

	// Loop-owned state.
	state          ConnectionState
	transport      Transport
	connGen        uint64
	dialing        bool
	dialCancel     context.CancelFunc
	wasConnected   bool
	stopped        bool
	retries        int
	reconnectDelay time.Duration
	reconnectTimer *time.Timer
	reconnectGen   uint64
	nextID         uint64
	pending        *pendingTable
	hb             heartbeat
	sessionStop    chan struct{}
	subs           map[int]chan Event
	nextSub        int

	// retryWait sleeps between login attempts; replaced in tests.
	retryWait func(ctx context.Context, d time.Duration, stop <-chan struct{}) error

	requestsSent      atomic.Uint64
	responsesReceived atomic.Uint64
	timeouts          atomic.Uint64
	messagesReceived  atomic.Uint64
	malformedFrames   atomic.Uint64
	eventsDropped     atomic.Uint64
	reconnectsTotal   atomic.Uint64
	loginRetries      atomic.Uint64
	heartbeatsSent    atomic.Uint64
	lastActivity      atomic.Int64
}

// New validates opts and starts the client loop. The client starts
// Disconnected; call Connect to open the session.
func New(opts Options) (*Client, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		opts:        opts,
		url:         deviceURL(opts.Scheme, opts.Host, opts.Port),
		logger:      opts.Logger,
		ops:         make(chan func(), opQueueSize),
		done:        newCloseOnce(),
		exited:      make(chan struct{}),
		state:       StateDisconnected,
		nextID:      1,
		pending:     newPendingTable(),
		hb:          heartbeat{interval: opts.HeartbeatInterval},
		sessionStop: make(chan struct{}),
		subs:        make(map[int]chan Event),
	}
	c.retryWait = c.waitRetry

	go c.run()
	return c, nil
}

// deviceURL builds scheme://host:port/WebSocket.
func deviceURL(scheme, host string, port int) string {
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + websocketPath
}

// URL returns the device endpoint.
func (c *Client) URL() string {
	return c.url
}

// run is the client loop.
func (c *Client) run() {
	defer close(c.exited)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done.Done():
			c.shutdown()
			return
		}
	}
}

// post queues fn for the loop. It returns false once the loop has exited.
func (c *Client) post(fn func()) bool {
	select {
	case <-c.done.Done():
		return false
	default:
	}
	select {
	case c.ops <- fn:
		return true
	case <-c.exited:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (c *Client) call(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClientClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.exited:
		return ErrClientClosed
	}
}

// Connect opens the session. It returns once the open attempt is issued;
// success is reported as EventConnected or EventReconnected.
//
// An explicit Connect clears a previous Disconnect and restarts the
// reconnect counter, including after retries were exhausted.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var result error
	if err := c.call(func() { result = c.connectLocked() }); err != nil {
		return err
	}
	return result
}

// ConnectAndWait connects and blocks until the session is open, retries
// are exhausted, or ctx ends.
func (c *Client) ConnectAndWait(ctx context.Context) error {
	events, cancel := c.Subscribe(defaultSubscriberBuffer)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		if !errors.Is(err, ErrAlreadyConnected) {
			return err
		}
		if c.IsConnected() {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrClientClosed
			}
			switch ev.Kind {
			case EventConnected, EventReconnected:
				return nil
			case EventError:
				if errors.Is(ev.Err, ErrConnectionFailed) {
					return ev.Err
				}
			}
		}
	}
}

func (c *Client) connectLocked() error {
	if c.state == StateConnected || c.dialing {
		return ErrAlreadyConnected
	}
	c.stopped = false
	c.retries = 0
	c.cancelReconnect()
	c.dial()
	return nil
}

// dial creates a fresh transport and opens it off the loop.
func (c *Client) dial() {
	c.connGen++
	gen := c.connGen
	t := c.opts.NewTransport()
	c.transport = t
	c.dialing = true
	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	c.dialCancel = cancel

	sink := func(ev TransportEvent) {
		c.post(func() { c.handleTransportEvent(gen, ev) })
	}

	c.logInfo("connecting to device", "url", c.url, "attempt", c.retries)
	go func() {
		defer cancel()
		if err := t.Open(ctx, c.url, sink); err != nil {
			c.logDebug("transport open returned", "error", err)
		}
	}()
}

// handleTransportEvent applies a transport event from connection gen.
// Events from a replaced or torn-down transport are dropped.
func (c *Client) handleTransportEvent(gen uint64, ev TransportEvent) {
	if gen != c.connGen || c.transport == nil {
		return
	}
	c.lastActivity.Store(time.Now().Unix())

	switch ev.Kind {
	case TransportOpened:
		c.handleOpened()
	case TransportReceived:
		c.handleReceived(ev.Payload)
	case TransportError:
		c.logWarn("transport error", "error", ev.Err)
		c.emit(Event{Kind: EventError, Err: ev.Err})
	case TransportClosed:
		c.handleClosed(ev.Code, ev.Reason)
	}
}

func (c *Client) handleOpened() {
	c.dialing = false
	c.retries = 0
	c.setState(StateConnected)
	c.hb.arm(c.postHeartbeat)

	if c.wasConnected {
		c.reconnectsTotal.Add(1)
		c.logInfo("session reopened", "url", c.url)
		c.emit(Event{Kind: EventReconnected})
		return
	}
	c.wasConnected = true
	c.logInfo("session opened", "url", c.url)
	c.emit(Event{Kind: EventConnected})
}

func (c *Client) handleClosed(code int, reason string) {
	c.dropTransport()
	c.hb.stop()
	failed := c.pending.failAll(ErrConnectionClosed)
	c.retries++

	c.logInfo("session closed",
		"code", code,
		"reason", reason,
		"failed_requests", failed,
		"attempt", c.retries,
	)

	if c.stopped {
		c.setState(StateDisconnected)
		c.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
		return
	}

	if c.retries > c.opts.MaxRetries {
		c.setState(StateDisconnected)
		c.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
		err := fmt.Errorf("%w after %d attempts", ErrConnectionFailed, c.retries)
		c.logError("giving up on device connection", err)
		c.emit(Event{Kind: EventError, Err: err})
		return
	}

	c.setState(StateConnecting)
	c.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
	c.scheduleReconnect(LinearBackoff(c.retries-1, c.opts.RetryBaseInterval, c.opts.RetryMaxInterval))
}

func (c *Client) scheduleReconnect(delay time.Duration) {
	c.cancelReconnect()
	gen := c.reconnectGen
	c.reconnectDelay = delay
	c.logInfo("reconnect scheduled", "attempt", c.retries, "delay", delay.String())
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.post(func() { c.handleReconnectTimer(gen) })
	})
}

func (c *Client) handleReconnectTimer(gen uint64) {
	if gen != c.reconnectGen || c.stopped || c.transport != nil {
		return
	}
	c.reconnectTimer = nil
	c.dial()
}

// cancelReconnect invalidates any scheduled reconnect.
func (c *Client) cancelReconnect() {
	c.reconnectGen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// dropTransport closes the current transport and orphans its events.
func (c *Client) dropTransport() {
	c.connGen++
	c.dialing = false
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.logDebug("transport close", "error", err)
		}
		c.transport = nil
	}
}

func (c *Client) handleReceived(payload []byte) {
	resp, err := parseFrame(payload)
	if err != nil {
		c.malformedFrames.Add(1)
		c.logWarn("discarding malformed frame", "error", err, "size", len(payload))
		return
	}

	if resp.ID != 0 && c.pending.has(resp.ID) {
		c.responsesReceived.Add(1)
		command := c.pending.command(resp.ID)
		if resp.Command == "" {
			resp.Command = command
		}
		if isAuthStatus(resp.Status) {
			c.pending.resolve(resp.ID, nil, &AuthError{Command: command, Status: resp.Status})
			return
		}
		c.pending.resolve(resp.ID, resp, nil)
		return
	}

	c.messagesReceived.Add(1)
	c.emit(Event{Kind: EventMessage, Message: resp})
}

// SendRequest sends command with optional params and waits for the
// matching response.
//
// A non-ok status is not an error here; use Response.Err to check it.
// Cancelling ctx abandons the wait but the request still completes
// internally by response, timeout or connection loss.
func (c *Client) SendRequest(ctx context.Context, command string, params any) (*Response, error) {
	return c.send(ctx, Request{Command: command, Params: params})
}

type result struct {
	resp *Response
	err  error
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan result, 1)
	if err := c.call(func() {
		c.sendLocked(req, func(resp *Response, err error) {
			ch <- result{resp: resp, err: err}
		})
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendLocked allocates an id, registers the completion and queues the frame
// on the transport.
// done must not block.
func (c *Client) sendLocked(req Request, done completion) {
	if c.state != StateConnected || c.transport == nil {
		done(nil, ErrNotConnected)
		return
	}

	c.nextID++
	req.ID = c.nextID

	payload, err := json.Marshal(req)
	if err != nil {
		done(nil, fmt.Errorf("siegenia: encoding %s: %w", req.Command, err))
		return
	}

	id := req.ID
	c.pending.register(id, req.Command, c.opts.ResponseTimeout, done, func(id uint64) {
		c.post(func() { c.expire(id) })
	})

	c.logDebug("sending request", "command", req.Command, "id", id)
	if err := c.transport.Send(payload); err != nil {
		c.pending.resolve(id, nil, fmt.Errorf("siegenia: sending %s: %w", req.Command, err))
		return
	}
	c.requestsSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
}

func (c *Client) expire(id uint64) {
	command := c.pending.command(id)
	if c.pending.resolve(id, nil, fmt.Errorf("%w: %s (id %d)", ErrTimeout, command, id)) {
		c.timeouts.Add(1)
		c.logWarn("request timed out", "command", command, "id", id)
	}
}

// postHeartbeat is the heartbeat timer callback.
func (c *Client) postHeartbeat(gen uint64) {
	c.post(func() { c.handleHeartbeat(gen) })
}

func (c *Client) handleHeartbeat(gen uint64) {
	if !c.hb.current(gen) || c.state != StateConnected {
		return
	}
	c.heartbeatsSent.Add(1)
	params := map[string]bool{"extend_session": true}
	c.sendLocked(Request{Command: CommandKeepAlive, Params: params}, func(resp *Response, err error) {
		// Runs on the loop.
		if !c.hb.current(gen) {
			return
		}
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			c.hb.stop()
			err = fmt.Errorf("%w: %w", ErrHeartbeatFailed, err)
			c.logError("heartbeat failed", err)
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		c.hb.arm(c.postHeartbeat)
	})
}

// Disconnect ends the session and suppresses reconnection. On return no
// timer of the old session can fire into it, every pending request has
// completed with ErrConnectionClosed and login retries are aborted.
func (c *Client) Disconnect() error {
	return c.call(c.disconnectLocked)
}

func (c *Client) disconnectLocked() {
	c.stopped = true
	c.cancelReconnect()
	c.hb.stop()

	hadTransport := c.transport != nil
	if hadTransport {
		c.setState(StateClosing)
	}
	c.dropTransport()
	failed := c.pending.failAll(ErrConnectionClosed)

	close(c.sessionStop)
	c.sessionStop = make(chan struct{})

	wasActive := c.state != StateDisconnected
	c.setState(StateDisconnected)
	if wasActive {
		c.logInfo("session disconnected", "failed_requests", failed)
	}
	if hadTransport {
		c.emit(Event{Kind: EventClosed, Code: 1000, Reason: "client disconnect"})
	}
}

// Close disconnects, stops the loop and closes all subscriber channels.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	<-c.exited
	return nil
}

func (c *Client) shutdown() {
	c.disconnectLocked()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// Subscribe registers for session events. Events are dropped, and counted
// in Stats, when the subscriber falls more than buffer events behind.
// The returned func unsubscribes and closes the channel.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	var id int
	if err := c.call(func() {
		c.nextSub++
		id = c.nextSub
		c.subs[id] = ch
	}); err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = c.call(func() {
				if sub, ok := c.subs[id]; ok {
					close(sub)
					delete(c.subs, id)
				}
			})
		})
	}
}

func (c *Client) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.eventsDropped.Add(1)
			c.logWarn("subscriber buffer full, dropping event", "event", ev.Kind.String())
		}
	}
}

func (c *Client) setState(s ConnectionState) {
	c.state = s
	c.stateVal.Store(int32(s))
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.stateVal.Load())
}

// IsConnected returns true while the session is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	s := Stats{
		State:             c.State(),
		RequestsSent:      c.requestsSent.Load(),
		ResponsesReceived: c.responsesReceived.Load(),
		Timeouts:          c.timeouts.Load(),
		MessagesReceived:  c.messagesReceived.Load(),
		MalformedFrames:   c.malformedFrames.Load(),
		EventsDropped:     c.eventsDropped.Load(),
		ReconnectsTotal:   c.reconnectsTotal.Load(),
		LoginRetries:      c.loginRetries.Load(),
		HeartbeatsSent:    c.heartbeatsSent.Load(),
	}
	if ts := c.lastActivity.Load(); ts > 0 {
		s.LastActivity = time.Unix(ts, 0)
	}
	_ = c.call(func() {
		s.Pending = c.pending.len()
		s.ReconnectAttempt = c.retries
		s.ReconnectDelay = c.reconnectDelay
	})
	return s
}

// HealthCheck reports ErrNotConnected unless the session is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if c.logger != nil {
		c.logger.Error(msg, "error", err)
	}
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}
