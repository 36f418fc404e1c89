package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

const (
	// commandTimeout bounds one device request issued by the bridge.
	commandTimeout = 10 * time.Second

	// eventBuffer is the session subscription buffer.
	eventBuffer = 64

	defaultPollInterval = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the subset of the MQTT client used by the bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Session is the device session. *siegenia.Client satisfies it.
type Session interface {
	SessionStatsSource
	Subscribe(buffer int) (<-chan siegenia.Event, func())
	IsConnected() bool
	LoginUser(ctx context.Context, user, password string) (*siegenia.Response, error)
	LoginToken(ctx context.Context, token string) (*siegenia.Response, error)
	GetDeviceInfo(ctx context.Context) (*siegenia.Response, error)
	GetDeviceParams(ctx context.Context) (*siegenia.Response, error)
	SetDeviceParams(ctx context.Context, params any) (*siegenia.Response, error)
}

// HistoryRecorder persists observed states. Optional.
type HistoryRecorder interface {
	RecordState(ctx context.Context, deviceID string, snap history.Snapshot, source string) error
}

// Telemetry receives time-series points. Optional; *influxdb.Client satisfies it.
type Telemetry interface {
	WriteWindowState(deviceID, state string, position int, moving bool)
	WriteSessionEvent(deviceID, event, detail string)
	WriteSessionStats(deviceID string, counters influxdb.SessionCounters)
}

// Credentials authenticate the bridge with the controller. A token takes
// precedence over username and password.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Options holds everything needed to create a bridge.
type Options struct {
	Config      config.BridgeConfig
	Credentials Credentials
	Version     string

	MQTT    MQTTClient
	Session Session

	History   HistoryRecorder
	Telemetry Telemetry
	Logger    Logger
}

// Bridge connects one window sash to MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg         config.BridgeConfig
	creds       Credentials
	mqtt        MQTTClient
	session     Session
	history     HistoryRecorder
	telemetry   Telemetry
	health      *HealthReporter
	logger      Logger
	pollEvery   time.Duration
	healthEvery time.Duration

	mu       sync.RWMutex
	state    WindowState
	hasState bool
	target   int
	info     siegenia.DeviceInfo
	hasInfo  bool

	listenersMu sync.RWMutex
	listeners   []func(WindowState, string)

	// loginCancel aborts the login run for the current connection.
	loginMu     sync.Mutex
	loginCancel context.CancelFunc
	loggedIn    atomic.Bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("device session is required")
	}
	if opts.Config.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	pollEvery := time.Duration(opts.Config.PollInterval) * time.Second
	if pollEvery <= 0 {
		pollEvery = defaultPollInterval
	}
	healthEvery := time.Duration(opts.Config.HealthInterval) * time.Second
	if healthEvery <= 0 {
		healthEvery = defaultHealthInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:         opts.Config,
		creds:       opts.Credentials,
		mqtt:        opts.MQTT,
		session:     opts.Session,
		history:     opts.History,
		telemetry:   opts.Telemetry,
		logger:      opts.Logger,
		pollEvery:   pollEvery,
		healthEvery: healthEvery,
		target:      PositionClosed,
		ctx:         ctx,
		cancel:      cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.ID,
		Version:   opts.Version,
		Interval:  healthEvery,
		Publisher: opts.MQTT,
		Session:   opts.Session,
		LoggedIn:  b.loggedIn.Load,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands and session events and begins polling.
// The session may be connected before or after Start.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandTopic(b.cfg.DeviceID)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	events, unsubscribe := b.session.Subscribe(eventBuffer)
	b.unsubscribe = unsubscribe

	b.wg.Add(2)
	go b.eventLoop(events)
	go b.pollLoop()

	b.health.Start(ctx)

	if b.session.IsConnected() {
		b.startLogin()
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"device_id", b.cfg.DeviceID,
		"sash", b.cfg.Sash,
		"poll_interval", b.pollEvery.String())
	return nil
}

// Stop shuts the bridge down. The session itself is left to its owner.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// Ready reports whether the session is connected and logged in.
func (b *Bridge) Ready() bool {
	return b.session.IsConnected() && b.loggedIn.Load()
}

// DeviceID returns the bridged device identifier.
func (b *Bridge) DeviceID() string {
	return b.cfg.DeviceID
}

// State returns the last observed window state.
func (b *Bridge) State() (WindowState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.hasState {
		return WindowState{}, ErrNoState
	}
	return b.state, nil
}

// Target returns the last requested target position.
func (b *Bridge) Target() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.target
}

// DeviceInfo returns the controller identity fetched after login.
func (b *Bridge) DeviceInfo() (siegenia.DeviceInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info, b.hasInfo
}

// OnStateChange registers fn to run after every state change with the
// state and its source (poll, push or command).
func (b *Bridge) OnStateChange(fn func(state WindowState, source string)) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

// SetTargetPosition moves the window to 0 (closed) or 100 (open).
func (b *Bridge) SetTargetPosition(ctx context.Context, position int) error {
	action, err := ActionForTarget(position)
	if err != nil {
		return err
	}
	return b.execute(ctx, action)
}

// Do runs a named action: open, close, stop, gap_vent or stop_over.
func (b *Bridge) Do(ctx context.Context, name string) error {
	action, err := ParseAction(name)
	if err != nil {
		return err
	}
	return b.execute(ctx, action)
}

// Refresh polls the device immediately and returns the resulting state.
func (b *Bridge) Refresh(ctx context.Context) (WindowState, error) {
	if !b.Ready() {
		return WindowState{}, ErrNotReady
	}
	if err := b.poll(ctx); err != nil {
		return WindowState{}, err
	}
	return b.State()
}

// execute sends one action and applies the optimistic state on success.
func (b *Bridge) execute(ctx context.Context, action string) error {
	if !b.Ready() {
		return ErrNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	resp, err := b.session.SetDeviceParams(ctx, paramsFor(b.cfg.Sash, action))
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		b.checkAuthLoss(err)
		return fmt.Errorf("sending %s: %w", action, err)
	}
	b.logInfo("window action sent", "device_id", b.cfg.DeviceID, "action", action)

	if state, target, ok := optimisticState(action); ok {
		b.mu.Lock()
		b.target = target
		b.mu.Unlock()
		b.applyState(state, history.SourceCommand)
	}
	return nil
}

// eventLoop consumes session events until Stop.
func (b *Bridge) eventLoop(events <-chan siegenia.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handleSessionEvent(ev)
		}
	}
}

func (b *Bridge) handleSessionEvent(ev siegenia.Event) {
	switch ev.Kind {
	case siegenia.EventConnected, siegenia.EventReconnected:
		b.logInfo("device session up", "event", ev.Kind.String())
		b.writeSessionEvent(ev.Kind.String(), "")
		b.startLogin()

	case siegenia.EventClosed:
		b.cancelLogin()
		b.logWarn("device session closed", "code", ev.Code, "reason", ev.Reason)
		b.writeSessionEvent(ev.Kind.String(), strconv.Itoa(ev.Code)+" "+ev.Reason)
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}

	case siegenia.EventError:
		detail := ""
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		b.logWarn("device session error", "error", detail)
		b.writeSessionEvent(ev.Kind.String(), detail)

	case siegenia.EventMessage:
		b.handlePush(ev.Message)
	}
}

// startLogin logs in for the current connection in the background.
// Any login still running for an earlier connection is cancelled.
func (b *Bridge) startLogin() {
	if b.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(b.ctx)

	b.loginMu.Lock()
	if b.loginCancel != nil {
		b.loginCancel()
	}
	b.loginCancel = cancel
	b.loggedIn.Store(false)
	b.loginMu.Unlock()

	b.wg.Add(1)
	go b.loginAndSync(ctx)
}

// cancelLogin stops the running login, including LoginUser retries, and
// marks the session as logged out.
func (b *Bridge) cancelLogin() {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	b.loggedIn.Store(false)
	if b.loginCancel != nil {
		b.loginCancel()
		b.loginCancel = nil
	}
}

// loginAndSync authenticates, then fetches device info and the first state.
// ctx is cancelled when the connection it was started for goes away.
func (b *Bridge) loginAndSync(ctx context.Context) {
	defer b.wg.Done()

	if err := b.login(ctx); err != nil {
		if ctx.Err() == nil {
			b.logError("device login failed", err)
			b.writeSessionEvent("login_failed", err.Error())
		}
		return
	}
	b.loginMu.Lock()
	current := ctx.Err() == nil
	if current {
		b.loggedIn.Store(true)
	}
	b.loginMu.Unlock()
	if !current {
		return // superseded by a newer connection
	}
	b.logInfo("logged in to device", "device_id", b.cfg.DeviceID)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
	if err := b.syncDeviceInfo(ctx); err != nil {
		b.logWarn("failed to read device info", "error", err)
	}
	// A rejection here is not treated as lost auth; the next poll retries.
	if err := b.readParams(ctx); err != nil {
		b.logWarn("initial poll failed", "error", err)
	}
}

func (b *Bridge) login(ctx context.Context) error {
	if b.creds.Token != "" {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		resp, err := b.session.LoginToken(ctx, b.creds.Token)
		if err != nil {
			return err
		}
		return resp.Err()
	}
	_, err := b.session.LoginUser(ctx, b.creds.Username, b.creds.Password)
	return err
}

// checkAuthLoss re-runs login when the device reports the session as
// unauthenticated. Only the first caller to notice triggers it.
func (b *Bridge) checkAuthLoss(err error) {
	if !errors.Is(err, siegenia.ErrAuthentication) {
		return
	}
	if b.loggedIn.CompareAndSwap(true, false) {
		b.logWarn("device session lost authentication, logging in again")
		b.startLogin()
	}
}

func (b *Bridge) syncDeviceInfo(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	resp, err := b.session.GetDeviceInfo(ctx)
	if err != nil {
		return err
	}
	info, err := siegenia.ParseDeviceInfo(resp)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.info = info
	b.hasInfo = true
	b.mu.Unlock()

	msg := newDiscoveryMessage(b.cfg.ID, b.cfg.DeviceID, b.session.URL(), info)
	return b.publishJSON(DiscoveryTopic(), msg, true)
}

// pollLoop polls device params and writes session statistics.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	poll := time.NewTicker(b.pollEvery)
	defer poll.Stop()
	stats := time.NewTicker(b.healthEvery)
	defer stats.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-poll.C:
			if !b.Ready() {
				continue
			}
			if err := b.poll(b.ctx); err != nil {
				b.logWarn("poll failed", "error", err)
			}
		case <-stats.C:
			b.writeSessionStats()
		}
	}
}

// poll reads the sash state and re-authenticates if the session was dropped.
func (b *Bridge) poll(ctx context.Context) error {
	err := b.readParams(ctx)
	if err != nil {
		b.checkAuthLoss(err)
	}
	return err
}

// readParams reads getDeviceParams and applies the sash state.
func (b *Bridge) readParams(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	resp, err := b.session.GetDeviceParams(ctx)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return fmt.Errorf("reading device params: %w", err)
	}

	params, err := siegenia.ParseDeviceParams(resp)
	if err != nil {
		return err
	}
	return b.applyParams(params, history.SourcePoll)
}

// handlePush applies pushed device params. Pushes without states are ignored.
func (b *Bridge) handlePush(msg *siegenia.Response) {
	if msg == nil || len(msg.Data) == 0 {
		return
	}
	params, err := siegenia.ParseDeviceParams(msg)
	if err != nil {
		b.logDebug("ignoring push message", "command", msg.Command, "error", err)
		return
	}
	if err := b.applyParams(params, history.SourcePush); err != nil {
		b.logWarn("push message", "error", err)
	}
}

func (b *Bridge) applyParams(params siegenia.DeviceParams, source string) error {
	raw, ok := params.State(b.cfg.Sash)
	if !ok {
		return fmt.Errorf("device params carry no state for sash %d", b.cfg.Sash)
	}
	b.applyState(raw, source)
	return nil
}

// applyState caches raw and fans out when the state or target changed.
func (b *Bridge) applyState(raw, source string) {
	b.mu.Lock()
	if b.hasState && b.state.State == raw && b.state.Target == b.target {
		b.mu.Unlock()
		return
	}
	state := NewWindowState(raw, b.target)
	b.state = state
	b.hasState = true
	b.mu.Unlock()

	b.logDebug("window state changed",
		"device_id", b.cfg.DeviceID,
		"state", state.State,
		"position", state.Position,
		"source", source)

	if err := b.publishJSON(StateTopic(b.cfg.DeviceID), newStateMessage(b.cfg.DeviceID, state, source), true); err != nil {
		b.logError("failed to publish state", err)
	}

	if b.history != nil {
		if err := b.history.RecordState(b.ctx, b.cfg.DeviceID, state.Snapshot(), source); err != nil {
			b.logError("failed to record history", err)
		}
	}
	if b.telemetry != nil {
		b.telemetry.WriteWindowState(b.cfg.DeviceID, state.State, state.Position, state.Moving())
	}

	b.listenersMu.RLock()
	listeners := append([]func(WindowState, string){}, b.listeners...)
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(state, source)
	}
}

// handleMQTTCommand executes a command and publishes its acknowledgement.
func (b *Bridge) handleMQTTCommand(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command: %w", err)
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ack := b.executeCommand(b.ctx, cmd)
	return b.publishJSON(AckTopic(b.cfg.DeviceID), ack, false)
}

func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage) AckMessage {
	if cmd.DeviceID != "" && cmd.DeviceID != b.cfg.DeviceID {
		return newAckError(cmd, b.cfg.DeviceID, ErrCodeInvalidCommand,
			fmt.Sprintf("command addressed to %s", cmd.DeviceID))
	}

	var err error
	switch cmd.Command {
	case CommandSetPosition:
		position, ok := intParam(cmd.Parameters, "position")
		if !ok {
			return newAckError(cmd, b.cfg.DeviceID, ErrCodeInvalidParameters, "position must be an integer")
		}
		err = b.SetTargetPosition(ctx, position)
	case CommandRefresh:
		_, err = b.Refresh(ctx)
	default:
		err = b.Do(ctx, cmd.Command)
	}

	if err != nil {
		return newAckError(cmd, b.cfg.DeviceID, ackErrorCode(err), err.Error())
	}
	return newAck(cmd, b.cfg.DeviceID, AckAccepted)
}

// ackErrorCode classifies a command failure.
func ackErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrUnsupportedPosition):
		return ErrCodeInvalidParameters
	case errors.Is(err, siegenia.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, siegenia.ErrCommandFailed):
		return ErrCodeDeviceRejected
	default:
		return ErrCodeDeviceUnreachable
	}
}

// intParam reads an integral JSON number.
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.mqtt.Publish(topic, payload, 1, retained)
}

func (b *Bridge) writeSessionEvent(event, detail string) {
	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent(b.cfg.DeviceID, event, detail)
	}
}

func (b *Bridge) writeSessionStats() {
	if b.telemetry == nil {
		return
	}
	s := b.session.Stats()
	b.telemetry.WriteSessionStats(b.cfg.DeviceID, influxdb.SessionCounters{
		RequestsSent:      s.RequestsSent,
		ResponsesReceived: s.ResponsesReceived,
		Timeouts:          s.Timeouts,
		MessagesReceived:  s.MessagesReceived,
		MalformedFrames:   s.MalformedFrames,
		EventsDropped:     s.EventsDropped,
		ReconnectsTotal:   s.ReconnectsTotal,
		Pending:           s.Pending,
	})
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
