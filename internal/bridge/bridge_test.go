package bridge_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/gorilla/websocket"

	"github.com/nugget/dbus-ws-bridge/internal/bridge"
	"github.com/nugget/dbus-ws-bridge/internal/busconn"
)

// testSignalOwner is the unique connection id the fake bus resolves
// "org.example" to. A real daemon never reports a well-known name as
// Signal.Sender, only the unique id of whoever currently owns it.
const testSignalOwner = ":1.42"

// fakeBus is a scriptable busconn.Conn standing in for a real D-Bus
// daemon, in the spirit of the corpus's own fake-dependency test
// doubles.
type fakeBus struct {
	sigs chan *dbus.Signal

	callFunc func(destination string, path dbus.ObjectPath, iface, method string, args []any) (busconn.CallResult, error)
	owners   map[string]string

	added   []busconn.MatchRule
	removed []busconn.MatchRule
	closed  bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{sigs: make(chan *dbus.Signal, 8), owners: map[string]string{"org.example": testSignalOwner}}
}

func (f *fakeBus) Call(ctx context.Context, destination string, path dbus.ObjectPath, iface, method string, args []any) (busconn.CallResult, error) {
	if destination == "org.freedesktop.DBus" && iface == "org.freedesktop.DBus" && method == "GetNameOwner" {
		name, _ := args[0].(string)
		owner, ok := f.owners[name]
		if !ok {
			return busconn.CallResult{IsError: true, Body: []any{"org.freedesktop.DBus.Error.NameHasNoOwner"}}, nil
		}
		return busconn.CallResult{Body: []any{owner}}, nil
	}
	if f.callFunc != nil {
		return f.callFunc(destination, path, iface, method, args)
	}
	return busconn.CallResult{}, nil
}

func (f *fakeBus) AddMatch(rule busconn.MatchRule) error {
	f.added = append(f.added, rule)
	return nil
}

func (f *fakeBus) RemoveMatch(rule busconn.MatchRule) error {
	f.removed = append(f.removed, rule)
	return nil
}

func (f *fakeBus) Signals() <-chan *dbus.Signal { return f.sigs }

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}

// wsClient is a minimal JSON-over-WebSocket test client: dial, send,
// WaitForMessage.
type wsClient struct {
	conn     *websocket.Conn
	messages chan map[string]json.RawMessage
}

func dialBridge(t *testing.T, ts *httptest.Server, query string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		extra := ""
		if resp != nil {
			extra = resp.Status
		}
		t.Fatalf("dial %s: %v (%s)", url, err, extra)
	}
	c := &wsClient{conn: conn, messages: make(chan map[string]json.RawMessage, 16)}
	go c.readLoop()
	return c
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			close(c.messages)
			return
		}
		var msg map[string]json.RawMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		c.messages <- msg
	}
}

func (c *wsClient) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) sendBinary(t *testing.T, data []byte) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write binary: %v", err)
	}
}

func (c *wsClient) waitForMessage(timeout time.Duration) map[string]json.RawMessage {
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return nil
		}
		return msg
	case <-time.After(timeout):
		return nil
	}
}

// newTestServer upgrades every /ws connection straight into a
// bridge.Connection backed by the given fake bus, bypassing the real
// HTTP upgrade surface's busconn.Connect dial to a live daemon.
func newTestServer(t *testing.T, bus *fakeBus) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := bridge.NewConnection(socket, bus, logger, "test", nil)
		conn.Run(context.Background())
	})
	return httptest.NewServer(mux)
}

func TestNoopEchoMethodCall(t *testing.T) {
	bus := newFakeBus()
	bus.callFunc = func(destination string, path dbus.ObjectPath, iface, method string, args []any) (busconn.CallResult, error) {
		if destination != "org.freedesktop.DBus" || iface != "org.freedesktop.DBus.Peer" || method != "Ping" {
			t.Errorf("unexpected call target: %s %s %s", destination, iface, method)
		}
		return busconn.CallResult{Body: nil}, nil
	}

	ts := newTestServer(t, bus)
	defer ts.Close()
	client := dialBridge(t, ts, "")
	defer client.conn.Close()

	client.send(t, json.RawMessage(`{"callMethod":{"requestId":1,"destination":"org.freedesktop.DBus","path":"/org/freedesktop/DBus","interface":"org.freedesktop.DBus.Peer","methodName":"Ping","args":[]}}`))

	msg := client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for methodReturn")
	}
	inner, ok := msg["methodReturn"]
	if !ok {
		t.Fatalf("expected methodReturn, got %v", msg)
	}
	var payload struct {
		RequestID *uint64           `json:"requestId"`
		Args      []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(inner, &payload); err != nil {
		t.Fatalf("decode methodReturn: %v", err)
	}
	if payload.RequestID == nil || *payload.RequestID != 1 {
		t.Errorf("requestId = %v, want 1", payload.RequestID)
	}
	if len(payload.Args) != 0 {
		t.Errorf("args = %v, want empty", payload.Args)
	}
}

func TestTypedArrayCallSucceeds(t *testing.T) {
	bus := newFakeBus()
	bus.callFunc = func(destination string, path dbus.ObjectPath, iface, method string, args []any) (busconn.CallResult, error) {
		if len(args) != 1 {
			t.Fatalf("expected one arg, got %d", len(args))
		}
		arr, ok := args[0].([]int32)
		if !ok {
			t.Fatalf("expected []int32, got %T", args[0])
		}
		if len(arr) != 2 || arr[0] != 1 || arr[1] != 2 {
			t.Fatalf("unexpected array contents: %v", arr)
		}
		return busconn.CallResult{}, nil
	}

	ts := newTestServer(t, bus)
	defer ts.Close()
	client := dialBridge(t, ts, "")
	defer client.conn.Close()

	client.send(t, json.RawMessage(`{"callMethod":{"requestId":2,"path":"/x","methodName":"F","args":[{"type":"array","value":[{"type":"i32","value":1},{"type":"i32","value":2}]}]}}`))

	msg := client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for reply")
	}
	if _, ok := msg["methodReturn"]; !ok {
		t.Fatalf("expected methodReturn, got %v", msg)
	}
}

func TestHeterogeneousArrayRejected(t *testing.T) {
	bus := newFakeBus()
	ts := newTestServer(t, bus)
	defer ts.Close()
	client := dialBridge(t, ts, "")
	defer client.conn.Close()

	client.send(t, json.RawMessage(`{"callMethod":{"requestId":3,"path":"/x","methodName":"F","args":[{"type":"array","value":[{"type":"i32","value":1},{"type":"string","value":"x"}]}]}}`))

	msg := client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for error")
	}
	inner, ok := msg["error"]
	if !ok {
		t.Fatalf("expected error, got %v", msg)
	}
	var payload struct {
		RequestID *uint64 `json:"requestId"`
		ErrorType string  `json:"errorType"`
		Message   string  `json:"message"`
	}
	if err := json.Unmarshal(inner, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.RequestID == nil || *payload.RequestID != 3 {
		t.Errorf("requestId = %v, want 3", payload.RequestID)
	}
	if payload.ErrorType != "dBusValueError" {
		t.Errorf("errorType = %q, want dBusValueError", payload.ErrorType)
	}
	if payload.Message != "The elements have different types" {
		t.Errorf("message = %q, want %q", payload.Message, "The elements have different types")
	}
}

func TestSubscribeReceiveUnsubscribe(t *testing.T) {
	bus := newFakeBus()
	ts := newTestServer(t, bus)
	defer ts.Close()
	client := dialBridge(t, ts, "")
	defer client.conn.Close()

	client.send(t, json.RawMessage(`{"subscribeSignal":{"requestId":10,"destination":"org.example","path":"/x","interface":"org.example.Iface","name":"Changed","args":[]}}`))

	msg := client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for subscribe success")
	}
	if _, ok := msg["success"]; !ok {
		t.Fatalf("expected success, got %v", msg)
	}

	bus.sigs <- &dbus.Signal{
		Sender: testSignalOwner,
		Path:   "/x",
		Name:   "org.example.Iface.Changed",
		Body:   []any{"new-value"},
	}

	msg = client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for signal delivery")
	}
	inner, ok := msg["signal"]
	if !ok {
		t.Fatalf("expected signal, got %v", msg)
	}
	var payload struct {
		Destination string `json:"destination"`
		Path        string `json:"path"`
		Interface   string `json:"interface"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal(inner, &payload); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if payload.Destination != "org.example" || payload.Path != "/x" || payload.Interface != "org.example.Iface" || payload.Name != "Changed" {
		t.Errorf("unexpected signal envelope: %+v", payload)
	}

	client.send(t, json.RawMessage(`{"unsubscribeSignal":{"requestId":11,"destination":"org.example","path":"/x","interface":"org.example.Iface","name":"Changed","args":[]}}`))

	msg = client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for unsubscribe success")
	}
	if _, ok := msg["success"]; !ok {
		t.Fatalf("expected success, got %v", msg)
	}

	bus.sigs <- &dbus.Signal{
		Sender: testSignalOwner,
		Path:   "/x",
		Name:   "org.example.Iface.Changed",
		Body:   []any{"ignored"},
	}

	if msg := client.waitForMessage(300 * time.Millisecond); msg != nil {
		t.Errorf("expected no further delivery after unsubscribe, got %v", msg)
	}
}

func TestBinaryFrameRejectedConnectionStaysOpen(t *testing.T) {
	bus := newFakeBus()
	bus.callFunc = func(destination string, path dbus.ObjectPath, iface, method string, args []any) (busconn.CallResult, error) {
		return busconn.CallResult{}, nil
	}
	ts := newTestServer(t, bus)
	defer ts.Close()
	client := dialBridge(t, ts, "")
	defer client.conn.Close()

	client.sendBinary(t, []byte{0x01, 0x02, 0x03})

	msg := client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("timed out waiting for error")
	}
	inner, ok := msg["error"]
	if !ok {
		t.Fatalf("expected error, got %v", msg)
	}
	var payload struct {
		RequestID *uint64 `json:"requestId"`
		ErrorType string  `json:"errorType"`
		Message   string  `json:"message"`
	}
	if err := json.Unmarshal(inner, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.RequestID != nil {
		t.Errorf("requestId = %v, want null", payload.RequestID)
	}
	if payload.ErrorType != "unsupportedFormat" {
		t.Errorf("errorType = %q, want unsupportedFormat", payload.ErrorType)
	}
	if payload.Message != "Binary messages are unsupported" {
		t.Errorf("message = %q", payload.Message)
	}

	// Connection remains open: a subsequent text frame still gets a reply.
	client.send(t, json.RawMessage(`{"callMethod":{"requestId":99,"path":"/x","methodName":"F","args":[]}}`))
	msg = client.waitForMessage(5 * time.Second)
	if msg == nil {
		t.Fatal("connection appears closed after binary frame rejection")
	}
	if _, ok := msg["methodReturn"]; !ok {
		t.Fatalf("expected methodReturn after recovery, got %v", msg)
	}
}
