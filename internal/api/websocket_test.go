package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-siegenia/internal/bridges/window"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

// relayRig serves the router over a real listener with the relay running.
type relayRig struct {
	srv *Server
	td  testDeps
	ts  *httptest.Server
}

func newRelayRig(t *testing.T) *relayRig {
	t.Helper()
	srv, td := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	srv.startRelay(ctx)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		cancel()
		srv.wg.Wait()
		ts.Close()
	})
	return &relayRig{srv: srv, td: td, ts: ts}
}

func (rr *relayRig) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(rr.ts.URL, "http") + "/api/v1/ws?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) WSMessage {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatal(err)
	}
	return readWS(t, conn)
}

func TestWebSocket_RequiresToken(t *testing.T) {
	rr := newRelayRig(t)
	u := "ws" + strings.TrimPrefix(rr.ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("Dial() without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestWebSocket_RelaysWindowState(t *testing.T) {
	rr := newRelayRig(t)
	conn := rr.dial(t, testToken(t))

	if msg := subscribe(t, conn, ChannelWindowState); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	rr.td.window.emit(window.NewWindowState(window.StateOpen, window.PositionOpen), "command")

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelWindowState {
		t.Fatalf("event = %+v", msg)
	}
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		DeviceID string `json:"device_id"`
		State    string `json:"state"`
		Position int    `json:"position"`
		Source   string `json:"source"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.DeviceID != "window-office" || payload.State != "OPEN" || payload.Position != 100 || payload.Source != "command" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestWebSocket_RelaysSessionEvents(t *testing.T) {
	rr := newRelayRig(t)
	conn := rr.dial(t, testToken(t))
	subscribe(t, conn, ChannelSessionEvent, ChannelDeviceMessage)

	rr.td.session.events <- siegenia.Event{Kind: siegenia.EventClosed, Code: 4001, Reason: "bye", Time: time.Now()}
	msg := readWS(t, conn)
	if msg.EventType != ChannelSessionEvent {
		t.Fatalf("event type = %q, want %q", msg.EventType, ChannelSessionEvent)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["kind"] != "closed" || payload["code"] != float64(4001) {
		t.Errorf("payload = %#v", msg.Payload)
	}

	rr.td.session.events <- siegenia.Event{
		Kind:    siegenia.EventMessage,
		Message: &siegenia.Response{Command: siegenia.CommandGetDeviceParams, Data: json.RawMessage(`{"states":{"0":"MOVING"}}`)},
		Time:    time.Now(),
	}
	msg = readWS(t, conn)
	if msg.EventType != ChannelDeviceMessage {
		t.Fatalf("event type = %q, want %q", msg.EventType, ChannelDeviceMessage)
	}
}

func TestWebSocket_ClientMessages(t *testing.T) {
	rr := newRelayRig(t)
	conn := rr.dial(t, testToken(t))

	if msg := subscribe(t, conn, "device.secrets"); msg.Type != WSTypeError {
		t.Errorf("unknown channel reply = %+v, want error", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v", msg)
	}

	subscribe(t, conn, ChannelWindowState)
	err := conn.WriteJSON(WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{ChannelWindowState}}})
	if err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "u1" {
		t.Errorf("unsubscribe reply = %+v", msg)
	}

	if got := rr.srv.hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}
