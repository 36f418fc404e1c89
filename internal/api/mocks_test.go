package api

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/bridges/window"
	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSession answers every command from a per-command table.
type fakeSession struct {
	mu        sync.Mutex
	responses map[string]*siegenia.Response
	errs      map[string]error
	calls     []string
	setParams any
	stats     siegenia.Stats
	events    chan siegenia.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		responses: make(map[string]*siegenia.Response),
		errs:      make(map[string]error),
		stats:     siegenia.Stats{State: siegenia.StateConnected},
		events:    make(chan siegenia.Event, 8),
	}
}

func (f *fakeSession) reply(command, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &siegenia.Response{ID: 1, Status: siegenia.StatusOK}
	if data != "" {
		resp.Data = json.RawMessage(data)
	}
	f.responses[command] = resp
}

func (f *fakeSession) fail(command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[command] = err
}

func (f *fakeSession) do(command string) (*siegenia.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	if err := f.errs[command]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[command]; ok {
		return resp, nil
	}
	return &siegenia.Response{ID: 1, Status: siegenia.StatusOK}, nil
}

func (f *fakeSession) State() siegenia.ConnectionState { return f.stats.State }
func (f *fakeSession) Stats() siegenia.Stats           { return f.stats }
func (f *fakeSession) URL() string                     { return "wss://192.0.2.10:443/WebSocket" }

func (f *fakeSession) Subscribe(int) (<-chan siegenia.Event, func()) {
	return f.events, func() {}
}

func (f *fakeSession) GetDeviceInfo(context.Context) (*siegenia.Response, error) {
	return f.do(siegenia.CommandGetDevice)
}

func (f *fakeSession) GetDeviceParams(context.Context) (*siegenia.Response, error) {
	return f.do(siegenia.CommandGetDeviceParams)
}

func (f *fakeSession) SetDeviceParams(_ context.Context, params any) (*siegenia.Response, error) {
	f.mu.Lock()
	f.setParams = params
	f.mu.Unlock()
	return f.do(siegenia.CommandSetDeviceParams)
}

func (f *fakeSession) GetDeviceState(context.Context) (*siegenia.Response, error) {
	return f.do(siegenia.CommandGetDeviceState)
}

func (f *fakeSession) RebootDevice(context.Context) (*siegenia.Response, error) {
	return f.do(siegenia.CommandRebootDevice)
}

func (f *fakeSession) ResetDevice(context.Context) (*siegenia.Response, error) {
	return f.do(siegenia.CommandResetDevice)
}

func (f *fakeSession) RenewCert(context.Context) (*siegenia.Response, error) {
	return f.do(siegenia.CommandRenewCert)
}

// fakeWindow records the commands it receives.
type fakeWindow struct {
	mu        sync.Mutex
	ready     bool
	state     *window.WindowState
	err       error
	positions []int
	actions   []string
	listeners []func(window.WindowState, string)
}

func (f *fakeWindow) DeviceID() string { return "window-office" }

func (f *fakeWindow) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeWindow) State() (window.WindowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return window.WindowState{}, window.ErrNoState
	}
	return *f.state, nil
}

func (f *fakeWindow) SetTargetPosition(_ context.Context, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, err := window.ActionForTarget(position); err != nil {
		return err
	}
	f.positions = append(f.positions, position)
	return nil
}

func (f *fakeWindow) Do(_ context.Context, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, err := window.ParseAction(action); err != nil {
		return err
	}
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeWindow) OnStateChange(fn func(window.WindowState, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeWindow) emit(state window.WindowState, source string) {
	f.mu.Lock()
	listeners := append([]func(window.WindowState, string){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(state, source)
	}
}

type fakeHistory struct {
	entries   []history.Entry
	err       error
	lastLimit int
}

func (f *fakeHistory) Recent(_ context.Context, deviceID string, limit int) ([]history.Entry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []history.Entry
	for _, e := range f.entries {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

type testDeps struct {
	session *fakeSession
	window  *fakeWindow
	history *fakeHistory
}

func newTestDeps() testDeps {
	return testDeps{
		session: newFakeSession(),
		window:  &fakeWindow{ready: true},
		history: &fakeHistory{},
	}
}

func (td testDeps) deps() Deps {
	return Deps{
		Config: config.APIConfig{
			Host:         "127.0.0.1",
			Timeouts:     config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			MaxBodyBytes: 4096,
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
			API: config.APIAuthConfig{Username: "operator", Password: "hunter22"},
		},
		Logger:  logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard),
		Session: td.session,
		Window:  td.window,
		History: td.history,
		Version: "test",
	}
}

// testServer builds a Server on fakes. Handlers are driven through
// buildRouter, so no listener is started.
func testServer(t *testing.T, mutate ...func(*Deps)) (*Server, testDeps) {
	t.Helper()

	td := newTestDeps()
	deps := td.deps()
	for _, fn := range mutate {
		fn(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, td
}

func testToken(t *testing.T) string {
	t.Helper()
	token, err := IssueToken([]byte(testSecret), "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return token
}
