package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-logic-siegenia/internal/bridges/window"
	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

// do sends a request through the router, authenticated unless token is "-".
func do(t *testing.T, srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "-" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no session", func(d *Deps) { d.Session = nil }},
		{"no window", func(d *Deps) { d.Window = nil }},
		{"no secret", func(d *Deps) { d.Security.JWT.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps().deps()
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestHealth_NoAuth(t *testing.T) {
	srv, td := testServer(t)
	td.session.stats.RequestsSent = 7

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "", "-")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body healthResponse
	decodeBody(t, rec, &body)
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("health = %+v", body)
	}
	if body.Session.State != "connected" || body.Session.RequestsSent != 7 {
		t.Errorf("session = %+v", body.Session)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	td.window.ready = false
	rec = do(t, srv, http.MethodGet, "/api/v1/health", "", "-")
	decodeBody(t, rec, &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q with window not ready, want degraded", body.Status)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestAuthToken(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"username":"operator","password":"hunter22"}`, http.StatusOK},
		{"wrong password", `{"username":"operator","password":"nope"}`, http.StatusUnauthorized},
		{"wrong user", `{"username":"admin","password":"hunter22"}`, http.StatusUnauthorized},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			rec := do(t, srv, http.MethodPost, "/api/v1/auth/token", tt.body, "-")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp tokenResponse
			decodeBody(t, rec, &resp)
			if resp.TokenType != "Bearer" || resp.ExpiresIn != 900 {
				t.Errorf("response = %+v", resp)
			}
			subject, err := ParseToken([]byte(testSecret), resp.AccessToken)
			if err != nil || subject != "operator" {
				t.Errorf("ParseToken() = %q, %v", subject, err)
			}
		})
	}
}

func TestAuthToken_NoConfiguredUser(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Security.API.Password = "" })
	rec := do(t, srv, http.MethodPost, "/api/v1/auth/token", `{"username":"operator","password":""}`, "-")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := IssueToken([]byte(testSecret), "operator", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	otherKey, err := IssueToken([]byte("another-secret"), "operator", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	for name, raw := range map[string]string{
		"expired":   expired,
		"other key": otherKey,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken([]byte(testSecret), raw); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ParseToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, td := testServer(t)
	td.window.state = &window.WindowState{State: window.StateClosed}
	token := testToken(t)

	if rec := do(t, srv, http.MethodGet, "/api/v1/window", "", "-"); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/v1/window", "", "bogus"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/v1/window", "", token); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}

	rec := do(t, srv, http.MethodGet, "/api/v1/window?access_token="+token, "", "-")
	if rec.Code != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", rec.Code)
	}
}

func TestGetDevice(t *testing.T) {
	srv, td := testServer(t)
	td.session.reply(siegenia.CommandGetDevice, `{"type":6,"serialnr":"SN-1","devicename":"Office"}`)

	rec := do(t, srv, http.MethodGet, "/api/v1/device", "", testToken(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var got deviceResponse
	decodeBody(t, rec, &got)
	want := deviceResponse{
		DeviceID:     "window-office",
		Model:        "MHS Family",
		Manufacturer: "Siegenia Office",
		DeviceInfo:   siegenia.DeviceInfo{Type: 6, SerialNumber: "SN-1", DeviceName: "Office"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("device mismatch (-want +got):\n%s", diff)
	}
}

func TestDevicePassThrough(t *testing.T) {
	srv, td := testServer(t)
	td.session.reply(siegenia.CommandGetDeviceParams, `{"states":{"0":"OPEN"}}`)
	token := testToken(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/device/params", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"states":{"0":"OPEN"}}` {
		t.Errorf("body = %s", got)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/device/state", "", token)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("state: %d %s, want 200 {}", rec.Code, rec.Body)
	}

	for _, path := range []string{"/api/v1/device/reboot", "/api/v1/device/reset", "/api/v1/device/renew-cert"} {
		if rec := do(t, srv, http.MethodPost, path, "", token); rec.Code != http.StatusOK {
			t.Errorf("POST %s: status = %d", path, rec.Code)
		}
	}

	want := []string{
		siegenia.CommandGetDeviceParams,
		siegenia.CommandGetDeviceState,
		siegenia.CommandRebootDevice,
		siegenia.CommandResetDevice,
		siegenia.CommandRenewCert,
	}
	if diff := cmp.Diff(want, td.session.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSetDeviceParams(t *testing.T) {
	srv, td := testServer(t)
	token := testToken(t)

	rec := do(t, srv, http.MethodPut, "/api/v1/device/params", `{"openclose":{"0":"OPEN"}}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	raw, err := json.Marshal(td.session.setParams)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"openclose":{"0":"OPEN"}}` {
		t.Errorf("forwarded params = %s", raw)
	}

	if rec := do(t, srv, http.MethodPut, "/api/v1/device/params", `{}`, token); rec.Code != http.StatusBadRequest {
		t.Errorf("empty params: status = %d, want 400", rec.Code)
	}
	if rec := do(t, srv, http.MethodPut, "/api/v1/device/params", `[1,2]`, token); rec.Code != http.StatusBadRequest {
		t.Errorf("array body: status = %d, want 400", rec.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Config.MaxBodyBytes = 16 })
	body := fmt.Sprintf(`{"openclose":{"0":%q}}`, strings.Repeat("x", 64))
	rec := do(t, srv, http.MethodPut, "/api/v1/device/params", body, testToken(t))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestDeviceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		resp   *siegenia.Response
		status int
		code   string
	}{
		{name: "not connected", err: siegenia.ErrNotConnected, status: http.StatusServiceUnavailable, code: ErrCodeUnavailable},
		{name: "client closed", err: siegenia.ErrClientClosed, status: http.StatusServiceUnavailable, code: ErrCodeUnavailable},
		{name: "timeout", err: fmt.Errorf("getDevice: %w", siegenia.ErrTimeout), status: http.StatusGatewayTimeout, code: ErrCodeDeviceTimeout},
		{name: "auth", err: &siegenia.AuthError{Command: siegenia.CommandGetDevice, Status: siegenia.StatusNotAuthenticated}, status: http.StatusBadGateway, code: ErrCodeDeviceError},
		{name: "non-ok status", resp: &siegenia.Response{Status: "error"}, status: http.StatusBadGateway, code: ErrCodeDeviceError},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError, code: ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, td := testServer(t)
			if tt.err != nil {
				td.session.fail(siegenia.CommandGetDevice, tt.err)
			} else {
				td.session.responses[siegenia.CommandGetDevice] = tt.resp
			}

			rec := do(t, srv, http.MethodGet, "/api/v1/device", "", testToken(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var body Error
			decodeBody(t, rec, &body)
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestGetWindow(t *testing.T) {
	srv, td := testServer(t)
	token := testToken(t)

	if rec := do(t, srv, http.MethodGet, "/api/v1/window", "", token); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no state: status = %d, want 503", rec.Code)
	}

	state := window.NewWindowState(window.StateGapVent, 0)
	td.window.state = &state
	rec := do(t, srv, http.MethodGet, "/api/v1/window", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got struct {
		DeviceID string             `json:"device_id"`
		Ready    bool               `json:"ready"`
		State    window.WindowState `json:"state"`
	}
	decodeBody(t, rec, &got)
	if got.DeviceID != "window-office" || !got.Ready {
		t.Errorf("window = %+v", got)
	}
	if got.State.State != window.StateGapVent || got.State.Position != 10 {
		t.Errorf("state = %+v, want GAP_VENT at 10", got.State)
	}
}

func TestSetWindow(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		windowErr error
		status    int
		positions []int
		actions   []string
	}{
		{name: "open by position", body: `{"position":100}`, status: http.StatusAccepted, positions: []int{100}},
		{name: "close by position", body: `{"position":0}`, status: http.StatusAccepted, positions: []int{0}},
		{name: "action", body: `{"action":"gap_vent"}`, status: http.StatusAccepted, actions: []string{"gap_vent"}},
		{name: "unsupported position", body: `{"position":50}`, status: http.StatusBadRequest},
		{name: "unknown action", body: `{"action":"fly"}`, status: http.StatusBadRequest},
		{name: "both", body: `{"position":100,"action":"open"}`, status: http.StatusBadRequest},
		{name: "neither", body: `{}`, status: http.StatusBadRequest},
		{name: "bad json", body: `{"position":`, status: http.StatusBadRequest},
		{name: "not ready", body: `{"action":"open"}`, windowErr: window.ErrNotReady, status: http.StatusServiceUnavailable},
		{name: "device timeout", body: `{"action":"stop"}`, windowErr: siegenia.ErrTimeout, status: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, td := testServer(t)
			td.window.err = tt.windowErr

			rec := do(t, srv, http.MethodPost, "/api/v1/window", tt.body, testToken(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if diff := cmp.Diff(tt.positions, td.window.positions); diff != "" {
				t.Errorf("positions mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.actions, td.window.actions); diff != "" {
				t.Errorf("actions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	srv, td := testServer(t)
	token := testToken(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	td.history.entries = []history.Entry{
		{ID: 2, DeviceID: "window-office", Snapshot: history.Snapshot{State: "OPEN", Position: 100}, Source: history.SourceCommand, RecordedAt: now},
		{ID: 1, DeviceID: "window-office", Snapshot: history.Snapshot{State: "CLOSED"}, Source: history.SourcePoll, RecordedAt: now.Add(-time.Minute)},
		{ID: 3, DeviceID: "other", Snapshot: history.Snapshot{State: "OPEN"}, Source: history.SourcePoll, RecordedAt: now},
	}

	rec := do(t, srv, http.MethodGet, "/api/v1/history?limit=10", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		DeviceID string          `json:"device_id"`
		History  []history.Entry `json:"history"`
		Count    int             `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 2 || body.DeviceID != "window-office" || td.history.lastLimit != 10 {
		t.Errorf("history = %+v, limit %d", body, td.history.lastLimit)
	}
	if diff := cmp.Diff(td.history.entries[:2], body.History); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	if rec := do(t, srv, http.MethodGet, "/api/v1/history?limit=999", "", token); rec.Code != http.StatusBadRequest {
		t.Errorf("limit 999: status = %d, want 400", rec.Code)
	}

	td.history.err = errors.New("disk gone")
	if rec := do(t, srv, http.MethodGet, "/api/v1/history", "", token); rec.Code != http.StatusInternalServerError {
		t.Errorf("repository error: status = %d, want 500", rec.Code)
	}
}

func TestGetHistory_Disabled(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.History = nil })
	if rec := do(t, srv, http.MethodGet, "/api/v1/history", "", testToken(t)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"1", 1, false},
		{"200", 200, false},
		{"201", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = %d, %v; want %d, err=%v", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}
}
