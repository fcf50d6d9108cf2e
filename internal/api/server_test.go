package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/gateway"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tasmota-bridge/internal/mirror"
	"github.com/nerrad567/tasmota-bridge/internal/notify"
	"github.com/nerrad567/tasmota-bridge/internal/settings"
)

type controlCall struct {
	mac string
	cmd tasmota.Command
}

type mockBridge struct {
	mu           sync.Mutex
	state        tasmota.ConnState
	reconfigured []settings.Broker
	reconfigErr  error
	controls     []controlCall
	controlErr   error
}

func (b *mockBridge) ConnectionState() tasmota.ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *mockBridge) Reconfigure(_ context.Context, broker settings.Broker) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reconfigErr != nil {
		return b.reconfigErr
	}
	b.reconfigured = append(b.reconfigured, broker)
	return nil
}

func (b *mockBridge) Control(_ context.Context, mac string, cmd tasmota.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.controlErr != nil {
		return b.controlErr
	}
	b.controls = append(b.controls, controlCall{mac: mac, cmd: cmd})
	return nil
}

type mockMirror struct {
	mirrored map[string]string
	err      error
	synced   []string
	syncAll  int
}

func (m *mockMirror) Mirrored(context.Context) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.mirrored, nil
}

func (m *mockMirror) SyncOne(_ context.Context, mac string) error {
	if m.err != nil {
		return m.err
	}
	m.synced = append(m.synced, mac)
	return nil
}

func (m *mockMirror) SyncAll(context.Context) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.syncAll, nil
}

func (m *mockMirror) Unsync(context.Context, string) error {
	return m.err
}

type testEnv struct {
	srv      *Server
	router   http.Handler
	bridge   *mockBridge
	mirror   *mockMirror
	registry *device.Registry
	settings *settings.Store
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	defaults := &config.Config{
		MQTT: config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883}},
	}
	env := &testEnv{
		bridge:   &mockBridge{state: tasmota.StateConnected},
		mirror:   &mockMirror{mirrored: map[string]string{}},
		registry: device.NewRegistry(),
		settings: settings.NewStore(settings.NewMemoryRepository(), defaults),
	}

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   testLogger(),
		Registry: env.registry,
		Bridge:   env.bridge,
		Mirror:   env.mirror,
		Settings: env.settings,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// envelope decodes an operator response.
func envelope(t *testing.T, w *httptest.ResponseRecorder, data any) Code {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", w.Code)
	}
	var resp struct {
		Error Code            `json:"error"`
		Msg   string          `json:"msg"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, w.Body.String())
	}
	if resp.Msg == "" {
		t.Error("msg is empty")
	}
	if data != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
	}
	return resp.Error
}

func addSwitch(t *testing.T, r *device.Registry, mac string, channels int) {
	t.Helper()
	sw := &device.Switch{
		Identity: device.Identity{MAC: mac, Name: "Switch " + mac, Online: true},
		Channels: channels,
	}
	if _, err := r.Upsert(sw); err != nil {
		t.Fatal(err)
	}
}

func addUnsupported(t *testing.T, r *device.Registry, mac string) {
	t.Helper()
	if _, err := r.Upsert(&device.Unsupported{Identity: device.Identity{MAC: mac, Name: "Sensor"}}); err != nil {
		t.Fatal(err)
	}
}

func TestNew_RequiredDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
	if _, err := New(Deps{Logger: testLogger(), Registry: device.NewRegistry()}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	addSwitch(t, env.registry, "AABBCC", 1)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" || resp["mqtt"] != "connected" {
		t.Errorf("health = %v", resp)
	}
	if resp["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", resp["devices"])
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetBroker(t *testing.T) {
	env := newTestEnv(t)

	var data struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Connected bool   `json:"connected"`
	}
	if code := envelope(t, env.do(t, http.MethodGet, "/api/v1/mqtt", nil), &data); code != CodeSuccess {
		t.Fatalf("error = %d, want 0", code)
	}
	if data.Host != "localhost" || data.Port != 1883 || !data.Connected {
		t.Errorf("data = %+v", data)
	}
}

func TestSetBroker(t *testing.T) {
	env := newTestEnv(t)
	broker := settings.Broker{Host: "10.0.0.2", Port: 1883, Username: "u", Password: "p"}

	if code := envelope(t, env.do(t, http.MethodPost, "/api/v1/mqtt", broker), nil); code != CodeSuccess {
		t.Fatalf("error = %d, want 0", code)
	}
	if len(env.bridge.reconfigured) != 1 || env.bridge.reconfigured[0] != broker {
		t.Errorf("reconfigured = %+v", env.bridge.reconfigured)
	}
}

func TestSetBroker_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.reconfigErr = errors.New("connection refused")

	code := envelope(t, env.do(t, http.MethodPost, "/api/v1/mqtt", settings.Broker{Host: "nowhere", Port: 1883}), nil)
	if code != CodeBrokerUnreachable {
		t.Errorf("error = %d, want %d", code, CodeBrokerUnreachable)
	}

	if code := envelope(t, env.do(t, http.MethodPost, "/api/v1/mqtt", "{"), nil); code != CodeInternal {
		t.Errorf("invalid JSON error = %d, want %d", code, CodeInternal)
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)
	addSwitch(t, env.registry, "AABBCC", 1)
	addUnsupported(t, env.registry, "DDEEFF")
	env.mirror.mirrored["AABBCC"] = "s-1"

	var devices []DeviceInfo
	if code := envelope(t, env.do(t, http.MethodGet, "/api/v1/devices", nil), &devices); code != CodeSuccess {
		t.Fatalf("error = %d, want 0", code)
	}

	want := []DeviceInfo{
		{Name: "Switch AABBCC", Category: "switch", ID: "AABBCC", Online: true, Synced: true},
		{Name: "Sensor", Category: "unknown", ID: "DDEEFF", Online: false, Synced: false},
	}
	if len(devices) != len(want) {
		t.Fatalf("devices = %+v, want %+v", devices, want)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("devices[%d] = %+v, want %+v", i, devices[i], want[i])
		}
	}
}

func TestListDevices_GatewayErrors(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{gateway.ErrUnauthorized, CodeGatewayTokenInvalid},
		{gateway.ErrUnreachable, CodeGatewayUnreachable},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t)
			env.mirror.err = tt.err
			if code := envelope(t, env.do(t, http.MethodGet, "/api/v1/devices", nil), nil); code != tt.want {
				t.Errorf("error = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestSyncDevice(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"ok", nil, CodeSuccess},
		{"unknown", mirror.ErrUnknownDevice, CodeSyncDeviceNotFound},
		{"unsupported", mirror.ErrUnsupportedDevice, CodeSyncDeviceNotAllowed},
		{"token", gateway.ErrUnauthorized, CodeGatewayTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mirror.err = tt.err
			if code := envelope(t, env.do(t, http.MethodPost, "/api/v1/device/AABBCC", nil), nil); code != tt.want {
				t.Errorf("error = %d, want %d", code, tt.want)
			}
			if tt.err == nil && (len(env.mirror.synced) != 1 || env.mirror.synced[0] != "AABBCC") {
				t.Errorf("synced = %v", env.mirror.synced)
			}
		})
	}
}

func TestSyncAllDevices(t *testing.T) {
	env := newTestEnv(t)
	env.mirror.syncAll = 3

	var data map[string]int
	if code := envelope(t, env.do(t, http.MethodPost, "/api/v1/devices", nil), &data); code != CodeSuccess {
		t.Fatalf("error = %d, want 0", code)
	}
	if data["synced"] != 3 {
		t.Errorf("synced = %d, want 3", data["synced"])
	}
}

func TestUnsyncDevice(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"ok", nil, CodeSuccess},
		{"unknown", mirror.ErrUnknownDevice, CodeUnsyncNotFound},
		{"not mirrored", mirror.ErrNotMirrored, CodeUnsyncNotSynced},
		{"gone upstream", gateway.ErrNotFound, CodeUnsyncNotSynced},
		{"token", gateway.ErrUnauthorized, CodeGatewayTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mirror.err = tt.err
			if code := envelope(t, env.do(t, http.MethodPut, "/api/v1/device/AABBCC/un-sync", nil), nil); code != tt.want {
				t.Errorf("error = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestSetAutoSync(t *testing.T) {
	env := newTestEnv(t)

	if code := envelope(t, env.do(t, http.MethodPut, "/api/v1/auto-sync", `{"autoSync": true}`), nil); code != CodeSuccess {
		t.Fatalf("error = %d, want 0", code)
	}
	enabled, err := env.settings.AutoSync(context.Background())
	if err != nil || !enabled {
		t.Errorf("AutoSync() = (%v, %v), want (true, nil)", enabled, err)
	}

	if code := envelope(t, env.do(t, http.MethodPut, "/api/v1/auto-sync", `{}`), nil); code != CodeInternal {
		t.Errorf("missing autoSync error = %d, want %d", code, CodeInternal)
	}
}

func TestOpenControl(t *testing.T) {
	env := newTestEnv(t)

	body := `{"directive":{
		"header":{"name":"UpdateDeviceStates","message_id":"m-1","version":"1"},
		"endpoint":{"serial_number":"s-1","third_serial_number":"112233"},
		"payload":{"state":{"toggle":{"2":{"toggleState":"on"}}}}
	}}`
	w := env.do(t, http.MethodPost, "/api/v1/open/device/112233", body)

	var reply controlReply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Event.Header.Name != replyUpdateStates || reply.Event.Header.MessageID != "m-1" {
		t.Errorf("header = %+v", reply.Event.Header)
	}
	if len(env.bridge.controls) != 1 {
		t.Fatalf("controls = %+v", env.bridge.controls)
	}
	got := env.bridge.controls[0]
	if got.mac != "112233" || got.cmd.Toggle[2] != "on" {
		t.Errorf("control = %+v", got)
	}
}

func TestOpenControl_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantType string
	}{
		{"not found", tasmota.ErrDeviceNotFound, "", errorTypeNoSuchEndpoint},
		{"invalid", tasmota.ErrInvalidCommand, "", errorTypeInvalid},
		{"broker down", tasmota.ErrNotConnected, "", errorTypeUnreachable},
		{"other", errors.New("boom"), "", errorTypeInternal},
		{"bad json", nil, "{", errorTypeInvalid},
		{"other directive", nil, `{"directive":{"header":{"name":"ConfigureDevice","message_id":"m"}}}`, errorTypeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.bridge.controlErr = tt.err
			body := tt.body
			if body == "" {
				body = `{"directive":{"header":{"name":"UpdateDeviceStates","message_id":"m"},"payload":{"state":{"power":{"powerState":"on"}}}}}`
			}

			w := env.do(t, http.MethodPost, "/api/v1/open/device/AABBCC", body)
			var reply controlReply
			if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if reply.Event.Header.Name != replyError {
				t.Errorf("header name = %q, want %q", reply.Event.Header.Name, replyError)
			}
			if reply.Event.Payload["type"] != tt.wantType {
				t.Errorf("type = %q, want %q", reply.Event.Payload["type"], tt.wantType)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.srv.registry = nil // health handler dereferences it

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if code := envelope(t, w, nil); code != CodeInternal {
		t.Errorf("error = %d, want %d", code, CodeInternal)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestClient(hub *Hub, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}
	hub.Register(client)
	return client
}

func TestHub_NotifyBroadcasts(t *testing.T) {
	hub := testHub(t)
	client := newTestClient(hub, notify.EventNewDevice)

	hub.Notify(notify.Event{Name: notify.EventNewDevice, Data: notify.DeviceReport{ID: "AABBCC", Name: "Plug"}})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != notify.EventNewDevice {
			t.Errorf("message = %+v", wsMsg)
		}
		payload, _ := wsMsg.Payload.(map[string]any)
		if payload["id"] != "AABBCC" {
			t.Errorf("payload = %v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_Wildcard(t *testing.T) {
	hub := testHub(t)
	all := newTestClient(hub, WSChannelAll)
	other := newTestClient(hub, notify.EventNewDevice)

	hub.Notify(notify.Event{Name: notify.EventMQTTDisconnected})

	select {
	case <-all.send:
	case <-time.After(time.Second):
		t.Error("wildcard client did not receive the event")
	}
	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SubscribeMessages(t *testing.T) {
	hub := testHub(t)
	client := newTestClient(hub)

	client.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["mqtt_connected_report"]}}`))
	<-client.send // response
	if !client.isSubscribed(notify.EventMQTTConnected) {
		t.Error("client not subscribed after subscribe message")
	}

	client.handleMessage([]byte(`{"type":"unsubscribe","id":"2","payload":{"channels":["mqtt_connected_report"]}}`))
	<-client.send
	if client.isSubscribed(notify.EventMQTTConnected) {
		t.Error("client still subscribed after unsubscribe message")
	}

	client.handleMessage([]byte(`{"type":"bogus","id":"3"}`))
	var wsMsg WSMessage
	if err := json.Unmarshal(<-client.send, &wsMsg); err != nil {
		t.Fatal(err)
	}
	if wsMsg.Type != WSTypeError || wsMsg.ID != "3" {
		t.Errorf("reply = %+v, want error for id 3", wsMsg)
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)
	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newTestClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}
