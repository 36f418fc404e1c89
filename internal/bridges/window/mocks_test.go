package window

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

const testWait = 2 * time.Second

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// GetPublished returns messages published to topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload to the handler subscribed on topic.
func (m *MockMQTTClient) SimulateMessage(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

// fakeSession is an in-memory controller. openclose requests move the sash
// straight to the requested end state.
type fakeSession struct {
	mu          sync.Mutex
	connected   bool
	sashState   string
	info        siegenia.DeviceInfo
	setCalls    []map[string]any
	setErr      error
	paramsErr   error
	loginErr    error
	loginHold   chan struct{}
	loginAborts int
	logins      []string
	tokens      []string
	stats       siegenia.Stats
	events      chan siegenia.Event
	unsubbed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		connected: true,
		sashState: StateClosed,
		info:      siegenia.DeviceInfo{Type: 6, SerialNumber: "SN-42", DeviceName: "Office"},
		stats:     siegenia.Stats{State: siegenia.StateConnected},
		events:    make(chan siegenia.Event, 16),
	}
}

func (f *fakeSession) Subscribe(int) (<-chan siegenia.Event, func()) {
	return f.events, func() {
		f.mu.Lock()
		f.unsubbed = true
		f.mu.Unlock()
	}
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Stats() siegenia.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSession) URL() string { return "wss://192.168.1.50:443/WebSocket" }

// LoginUser blocks on loginHold when it is set, like a login that keeps
// retrying against an unresponsive device.
func (f *fakeSession) LoginUser(ctx context.Context, user, _ string) (*siegenia.Response, error) {
	f.mu.Lock()
	f.logins = append(f.logins, user)
	hold, err := f.loginHold, f.loginErr
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			f.mu.Lock()
			f.loginAborts++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return okResponse(`{}`), nil
}

func (f *fakeSession) LoginToken(_ context.Context, token string) (*siegenia.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return okResponse(`{}`), nil
}

func (f *fakeSession) GetDeviceInfo(context.Context) (*siegenia.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(f.info)
	return okResponse(string(raw)), nil
}

func (f *fakeSession) GetDeviceParams(context.Context) (*siegenia.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paramsErr != nil {
		return nil, f.paramsErr
	}
	return okResponse(`{"states":{"0":"` + f.sashState + `"}}`), nil
}

func (f *fakeSession) SetDeviceParams(_ context.Context, params any) (*siegenia.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := params.(map[string]any)
	f.setCalls = append(f.setCalls, p)
	if f.setErr != nil {
		return nil, f.setErr
	}
	if oc, ok := p["openclose"].(map[string]string); ok {
		switch action := oc["0"]; action {
		case siegenia.ActionClose:
			f.sashState = StateClosed
		default:
			f.sashState = action
		}
	}
	return okResponse(`{}`), nil
}

func (f *fakeSession) setSash(state string) {
	f.mu.Lock()
	f.sashState = state
	f.mu.Unlock()
}

func (f *fakeSession) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins) + len(f.tokens)
}

func (f *fakeSession) setCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

func okResponse(data string) *siegenia.Response {
	return &siegenia.Response{Status: siegenia.StatusOK, Data: json.RawMessage(data)}
}

// recordingHistory implements HistoryRecorder.
type recordingHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *recordingHistory) RecordState(_ context.Context, deviceID string, snap history.Snapshot, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, history.Entry{DeviceID: deviceID, Snapshot: snap, Source: source})
	return nil
}

func (r *recordingHistory) all() []history.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Entry(nil), r.entries...)
}

// recordingTelemetry implements Telemetry.
type recordingTelemetry struct {
	mu     sync.Mutex
	states []string
	events []string
	stats  int
}

func (r *recordingTelemetry) WriteWindowState(_ string, state string, _ int, _ bool) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recordingTelemetry) WriteSessionEvent(_ string, event, _ string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingTelemetry) WriteSessionStats(string, influxdb.SessionCounters) {
	r.mu.Lock()
	r.stats++
	r.mu.Unlock()
}

func (r *recordingTelemetry) eventList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		ID:             "siegenia-test",
		DeviceID:       "window-01",
		PollInterval:   3600,
		HealthInterval: 3600,
	}
}

type testRig struct {
	bridge    *Bridge
	mqtt      *MockMQTTClient
	session   *fakeSession
	history   *recordingHistory
	telemetry *recordingTelemetry
}

// newTestRig builds a started bridge. creds defaults to a user login.
func newTestRig(t *testing.T, creds Credentials) *testRig {
	t.Helper()
	if creds == (Credentials{}) {
		creds = Credentials{Username: "admin", Password: "secret"}
	}
	rig := &testRig{
		mqtt:      NewMockMQTTClient(),
		session:   newFakeSession(),
		history:   &recordingHistory{},
		telemetry: &recordingTelemetry{},
	}
	rig.session.connected = false

	b, err := NewBridge(Options{
		Config:      testBridgeConfig(),
		Credentials: creds,
		Version:     "test",
		MQTT:        rig.mqtt,
		Session:     rig.session,
		History:     rig.history,
		Telemetry:   rig.telemetry,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	rig.bridge = b
	return rig
}

// connect simulates the session opening and waits for the bridge to log in.
func (r *testRig) connect(t *testing.T, kind siegenia.EventKind) {
	t.Helper()
	r.session.mu.Lock()
	r.session.connected = true
	r.session.mu.Unlock()
	r.session.events <- siegenia.Event{Kind: kind}
	waitFor(t, "bridge ready", r.bridge.Ready)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testWait):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
