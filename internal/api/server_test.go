package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/blesim-core/internal/device"
	"github.com/nerrad567/blesim-core/internal/infrastructure/config"
	"github.com/nerrad567/blesim-core/internal/infrastructure/logging"
	"github.com/nerrad567/blesim-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/blesim-core/internal/simulation"
)

type disconnectCall struct {
	id         string
	durationMS int
	teardown   bool
}

type fakeBridge struct {
	mu          sync.Mutex
	connected   bool
	err         error
	configured  map[string]device.DeviceType
	values      map[string]device.Values
	disconnects []disconnectCall
	cleared     []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		connected:  true,
		configured: make(map[string]device.DeviceType),
		values:     make(map[string]device.Values),
	}
}

func (f *fakeBridge) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBridge) ConfigureDevice(id string, t device.DeviceType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.configured[id] = t
	return nil
}

func (f *fakeBridge) SetDeviceValues(id string, v device.Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values[id] = v
	return nil
}

func (f *fakeBridge) TriggerDisconnect(id string, durationMS int, teardown bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.disconnects = append(f.disconnects, disconnectCall{id, durationMS, teardown})
	return nil
}

func (f *fakeBridge) ClearDeviceRetained(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
}

type fakeSimulator struct {
	mu     sync.Mutex
	states map[string]simulation.State
}

func newFakeSimulator() *fakeSimulator {
	return &fakeSimulator{states: make(map[string]simulation.State)}
}

func (f *fakeSimulator) state(id string) simulation.State {
	if st, ok := f.states[id]; ok {
		return st
	}
	return simulation.State{Target: simulation.DefaultTarget, Current: simulation.DefaultTarget}
}

func (f *fakeSimulator) Enable(id string, target *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state(id)
	st.Enabled = true
	if target != nil {
		st.Target = *target
	}
	f.states[id] = st
}

func (f *fakeSimulator) Disable(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[id]; ok {
		st.Enabled = false
		f.states[id] = st
	}
}

func (f *fakeSimulator) SetTarget(id string, target int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state(id)
	st.Target = target
	f.states[id] = st
}

func (f *fakeSimulator) State(id string) simulation.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state(id)
}

// recordingSubscriber captures hub deliveries.
type recordingSubscriber struct {
	mu      sync.Mutex
	msgs    [][]byte
	failing bool
	closed  int
}

func (r *recordingSubscriber) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return ErrSendBufferFull
	}
	r.msgs = append(r.msgs, data)
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recordingSubscriber) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(m, &env)
		out = append(out, env.Type)
	}
	return out
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	registry *device.Registry
	bridge   *fakeBridge
	sim      *fakeSimulator
	hub      *Hub
	watcher  *recordingSubscriber
}

// newTestEnv creates a Server over a real registry and hub with fake
// bridge and simulator. watcher is connected to the hub.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logging.Discard()
	env := &testEnv{
		registry: device.NewRegistry(),
		bridge:   newFakeBridge(),
		sim:      newFakeSimulator(),
		hub:      NewHub(log),
		watcher:  &recordingSubscriber{},
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     16,
		},
		Logger:    log,
		Registry:  env.registry,
		Bridge:    env.bridge,
		Simulator: env.sim,
		Hub:       env.hub,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	env.handler = srv.Handler()
	env.hub.Connect(env.watcher)

	ctx, cancel := context.WithCancel(context.Background())
	go env.hub.Run(ctx)
	t.Cleanup(cancel)

	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}

func expectErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	e := decodeBody[Error](t, w)
	if e.Code != code {
		t.Errorf("error code = %q, want %q", e.Code, code)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Discard()
	full := Deps{
		Logger:    log,
		Registry:  device.NewRegistry(),
		Bridge:    newFakeBridge(),
		Simulator: newFakeSimulator(),
		Hub:       NewHub(log),
	}

	tests := []struct {
		name   string
		mutate func(d *Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"registry", func(d *Deps) { d.Registry = nil }},
		{"bridge", func(d *Deps) { d.Bridge = nil }},
		{"simulator", func(d *Deps) { d.Simulator = nil }},
		{"hub", func(d *Deps) { d.Hub = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := full
			tt.mutate(&d)
			if _, err := New(d); err == nil {
				t.Errorf("New() without %s succeeded", tt.name)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register("hr-1", nil)
	env.bridge.connected = false

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	expectStatus(t, w, http.StatusOK)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	body := decodeBody[map[string]any](t, w)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["mqtt_connected"] != false {
		t.Errorf("mqtt_connected = %v, want false", body["mqtt_connected"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if body["devices"] != float64(1) || body["clients"] != float64(1) {
		t.Errorf("devices = %v clients = %v, want 1 1", body["devices"], body["clients"])
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-id" {
		t.Errorf("X-Request-ID = %q, want client-id", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	expectStatus(t, w, http.StatusOK)
	empty := decodeBody[map[string]json.RawMessage](t, w)
	if string(empty["devices"]) != "[]" {
		t.Errorf("devices = %s, want []", empty["devices"])
	}

	env.registry.Register("b", nil)
	env.registry.Register("a", nil)

	w = env.do(t, http.MethodGet, "/api/v1/devices", "")
	body := decodeBody[struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}](t, w)
	if body.Count != 2 || body.Devices[0].ID != "a" || body.Devices[1].ID != "b" {
		t.Errorf("body = %+v, want a, b", body)
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)
	ht := device.TypeHeartRate
	env.registry.Register("hr-1", &device.Update{Type: &ht})

	w := env.do(t, http.MethodGet, "/api/v1/devices/hr-1", "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody[map[string]any](t, w)
	if body["id"] != "hr-1" || body["type"] != "heart_rate" {
		t.Errorf("body = %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/missing", "")
	expectErrorCode(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1", `{"type":"bike","ip":"10.0.0.2"}`)
	expectStatus(t, w, http.StatusCreated)

	d, err := env.registry.Get("esp-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Type != device.TypeBike || d.IP == nil || *d.IP != "10.0.0.2" {
		t.Errorf("device = %+v", d)
	}
	if got := env.watcher.types(); len(got) != 1 || got[0] != device.EventDeviceUpdate {
		t.Errorf("broadcasts = %v, want [device_update]", got)
	}
}

func TestRegisterDevice_EmptyBody(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1", "")
	expectStatus(t, w, http.StatusCreated)
	if env.registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1", env.registry.Count())
	}
}

func TestRegisterDevice_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(e *testEnv)
		body   string
		status int
		code   string
	}{
		{"malformed json", nil, `{"type":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown type", nil, `{"type":"rower"}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"tombstoned", func(e *testEnv) { e.registry.Remove("esp-1") }, `{}`, http.StatusConflict, ErrCodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1", tt.body)
			expectErrorCode(t, w, tt.status, tt.code)
			if env.registry.Count() != 0 {
				t.Errorf("Count() = %d, want 0", env.registry.Count())
			}
		})
	}
}

func TestDeviceRoutes_RejectTopicUnsafeIDs(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"values with plus", http.MethodPost, "/api/v1/devices/a+b/values", `{"heart_rate":80}`},
		{"delete with hash", http.MethodDelete, "/api/v1/devices/x%23y", ""},
		{"configure with hash", http.MethodPost, "/api/v1/devices/x%23y/configure", `{"device_type":"bike"}`},
		{"register with plus", http.MethodPost, "/api/v1/devices/a+b", ""},
		{"enable simulation with plus", http.MethodPost, "/api/v1/devices/a+b/simulation/enable", ""},
		{"disconnect with plus", http.MethodPost, "/api/v1/devices/a+b/disconnect", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, tt.method, tt.path, tt.body)
			expectErrorCode(t, w, http.StatusUnprocessableEntity, ErrCodeValidation)

			env.bridge.mu.Lock()
			published := len(env.bridge.values) + len(env.bridge.configured) +
				len(env.bridge.disconnects) + len(env.bridge.cleared)
			env.bridge.mu.Unlock()
			if published != 0 {
				t.Errorf("bridge received %d calls, want 0", published)
			}
			if env.registry.Count() != 0 || len(env.registry.Tombstones()) != 0 {
				t.Error("registry mutated for rejected id")
			}
			if env.sim.State("a+b").Enabled {
				t.Error("simulation enabled for rejected id")
			}
		})
	}
}

func TestGetDevice_IDNamedStats(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register("stats", nil)

	w := env.do(t, http.MethodGet, "/api/v1/devices/stats", "")
	expectStatus(t, w, http.StatusOK)
	d := decodeBody[device.Device](t, w)
	if d.ID != "stats" {
		t.Errorf("ID = %q, want stats", d.ID)
	}
}

func TestUpdateDevice(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Update("esp-1", device.Update{Values: device.Values{"speed": 5.0}})

	w := env.do(t, http.MethodPatch, "/api/v1/devices/esp-1", `{"online":false,"values":{"incline":2}}`)
	expectStatus(t, w, http.StatusOK)

	d, _ := env.registry.Get("esp-1")
	if d.Online {
		t.Error("Online = true, want false")
	}
	if d.Values["speed"] != 5.0 || d.Values["incline"] != float64(2) {
		t.Errorf("Values = %v, want merged speed and incline", d.Values)
	}
}

func TestUpdateDevice_Tombstoned(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Remove("esp-1")

	w := env.do(t, http.MethodPatch, "/api/v1/devices/esp-1", `{"online":true}`)
	expectErrorCode(t, w, http.StatusConflict, ErrCodeConflict)
}

func TestDeleteDevice(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register("esp-1", nil)
	env.sim.Enable("esp-1", nil)

	w := env.do(t, http.MethodDelete, "/api/v1/devices/esp-1", "")
	expectStatus(t, w, http.StatusOK)

	body := decodeBody[map[string]any](t, w)
	if body["existed"] != true {
		t.Errorf("existed = %v, want true", body["existed"])
	}
	if !env.registry.IsTombstoned("esp-1") {
		t.Error("device not tombstoned")
	}
	if env.sim.State("esp-1").Enabled {
		t.Error("simulation still enabled after delete")
	}
	if len(env.bridge.cleared) != 1 || env.bridge.cleared[0] != "esp-1" {
		t.Errorf("cleared = %v, want [esp-1]", env.bridge.cleared)
	}
	if got := env.watcher.types(); len(got) != 1 || got[0] != device.EventDeviceDeleted {
		t.Errorf("broadcasts = %v, want [device_deleted]", got)
	}
}

func TestDeleteDevice_Unknown(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodDelete, "/api/v1/devices/ghost", "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody[map[string]any](t, w)
	if body["existed"] != false {
		t.Errorf("existed = %v, want false", body["existed"])
	}
	if !env.registry.IsTombstoned("ghost") {
		t.Error("unknown ID not tombstoned")
	}
}

func TestRestoreDevice(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register("esp-1", nil)
	env.registry.Remove("esp-1")

	w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1/restore", "")
	expectStatus(t, w, http.StatusOK)

	if env.registry.IsTombstoned("esp-1") {
		t.Error("tombstone not cleared")
	}
	if _, err := env.registry.Get("esp-1"); err != nil {
		t.Errorf("Get() error = %v, want restored device", err)
	}
}

func TestTombstones(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Remove("a")
	env.registry.Remove("b")

	w := env.do(t, http.MethodGet, "/api/v1/tombstones", "")
	expectStatus(t, w, http.StatusOK)
	list := decodeBody[struct {
		Tombstones []string `json:"tombstones"`
	}](t, w)
	if len(list.Tombstones) != 2 {
		t.Errorf("tombstones = %v, want 2", list.Tombstones)
	}

	w = env.do(t, http.MethodPost, "/api/v1/tombstones/clear", "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody[map[string]any](t, w)
	if body["cleared"] != float64(2) {
		t.Errorf("cleared = %v, want 2", body["cleared"])
	}
	if env.registry.IsTombstoned("a") {
		t.Error("tombstone a survived clear")
	}
}

func TestDeviceStats(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register("a", nil)
	env.registry.Register("b", nil)
	env.registry.MarkOffline("b")
	env.registry.Remove("c")

	w := env.do(t, http.MethodGet, "/api/v1/stats", "")
	expectStatus(t, w, http.StatusOK)
	stats := decodeBody[device.Stats](t, w)
	if stats.Devices != 2 || stats.Online != 1 || stats.Tombstones != 1 {
		t.Errorf("stats = %+v, want 2/1/1", stats)
	}
}

func TestConfigureDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1/configure", `{"device_type":"treadmill"}`)
	expectStatus(t, w, http.StatusOK)

	body := decodeBody[map[string]any](t, w)
	if body["status"] != "ok" || body["device_id"] != "esp-1" || body["type"] != "treadmill" {
		t.Errorf("body = %v", body)
	}
	if env.bridge.configured["esp-1"] != device.TypeTreadmill {
		t.Errorf("configured = %v", env.bridge.configured)
	}
	d, err := env.registry.Get("esp-1")
	if err != nil || d.Type != device.TypeTreadmill {
		t.Errorf("registry type = %v (err %v), want treadmill", d, err)
	}
}

func TestSetDeviceValues(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1/values", `{"speed":12.5,"incline":3}`)
	expectStatus(t, w, http.StatusOK)

	sent := env.bridge.values["esp-1"]
	if sent["speed"] != 12.5 || sent["incline"] != float64(3) {
		t.Errorf("sent = %v", sent)
	}
	d, _ := env.registry.Get("esp-1")
	if d == nil || d.Values["speed"] != 12.5 {
		t.Errorf("registry values = %v", d)
	}
}

func TestBoardCommands_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(e *testEnv)
		path   string
		body   string
		status int
		code   string
	}{
		{
			name:   "configure unknown type",
			path:   "/configure",
			body:   `{"device_type":"rowing"}`,
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeValidation,
		},
		{
			name:   "configure missing type",
			path:   "/configure",
			body:   ``,
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeValidation,
		},
		{
			name:   "values out of range",
			path:   "/values",
			body:   `{"heart_rate":250}`,
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeValidation,
		},
		{
			name:   "values unknown key",
			path:   "/values",
			body:   `{"altitude":5}`,
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeValidation,
		},
		{
			name:   "values empty",
			path:   "/values",
			body:   `{}`,
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeValidation,
		},
		{
			name:   "values malformed",
			path:   "/values",
			body:   `{"speed":`,
			status: http.StatusBadRequest,
			code:   ErrCodeBadRequest,
		},
		{
			name:   "disconnect negative duration",
			path:   "/disconnect",
			body:   `{"duration_ms":-1}`,
			status: http.StatusUnprocessableEntity,
			code:   ErrCodeValidation,
		},
		{
			name:   "broker down",
			setup:  func(e *testEnv) { e.bridge.connected = false },
			path:   "/values",
			body:   `{"heart_rate":80}`,
			status: http.StatusServiceUnavailable,
			code:   ErrCodeServiceUnavailable,
		},
		{
			name:   "connection dropped mid publish",
			setup:  func(e *testEnv) { e.bridge.err = fmt.Errorf("publish: %w", mqtt.ErrNotConnected) },
			path:   "/configure",
			body:   `{"device_type":"bike"}`,
			status: http.StatusServiceUnavailable,
			code:   ErrCodeServiceUnavailable,
		},
		{
			name:   "publish failure",
			setup:  func(e *testEnv) { e.bridge.err = errors.New("boom") },
			path:   "/disconnect",
			body:   ``,
			status: http.StatusInternalServerError,
			code:   ErrCodeInternal,
		},
		{
			name:   "deleted device",
			setup:  func(e *testEnv) { e.registry.Remove("esp-1") },
			path:   "/configure",
			body:   `{"device_type":"bike"}`,
			status: http.StatusConflict,
			code:   ErrCodeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1"+tt.path, tt.body)
			expectErrorCode(t, w, tt.status, tt.code)

			if len(env.bridge.configured)+len(env.bridge.values)+len(env.bridge.disconnects) != 0 {
				t.Error("command reached the bridge")
			}
		})
	}
}

func TestDisconnectDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/esp-1/disconnect", `{"duration_ms":4000,"teardown":true}`)
	expectStatus(t, w, http.StatusOK)

	want := []disconnectCall{{"esp-1", 4000, true}}
	if len(env.bridge.disconnects) != 1 || env.bridge.disconnects[0] != want[0] {
		t.Errorf("disconnects = %+v, want %+v", env.bridge.disconnects, want)
	}
}

func TestSimulationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	type simResponse struct {
		DeviceID   string           `json:"device_id"`
		Simulation simulation.State `json:"simulation"`
	}

	w := env.do(t, http.MethodGet, "/api/v1/devices/hr-1/simulation", "")
	expectStatus(t, w, http.StatusOK)
	got := decodeBody[simResponse](t, w)
	if got.Simulation.Enabled || got.Simulation.Target != 70 {
		t.Errorf("default state = %+v", got.Simulation)
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices/hr-1/simulation/enable", `{"target":120}`)
	expectStatus(t, w, http.StatusOK)
	got = decodeBody[simResponse](t, w)
	if !got.Simulation.Enabled || got.Simulation.Target != 120 {
		t.Errorf("after enable = %+v", got.Simulation)
	}

	w = env.do(t, http.MethodPut, "/api/v1/devices/hr-1/simulation/target", `{"target":90}`)
	expectStatus(t, w, http.StatusOK)
	got = decodeBody[simResponse](t, w)
	if got.Simulation.Target != 90 {
		t.Errorf("after set target = %+v", got.Simulation)
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices/hr-1/simulation/disable", "")
	expectStatus(t, w, http.StatusOK)
	got = decodeBody[simResponse](t, w)
	if got.Simulation.Enabled || got.Simulation.Target != 90 {
		t.Errorf("after disable = %+v", got.Simulation)
	}
}

func TestSimulationEndpoints_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"enable target too low", http.MethodPost, "/simulation/enable", `{"target":10}`, http.StatusUnprocessableEntity},
		{"set target missing", http.MethodPut, "/simulation/target", `{}`, http.StatusUnprocessableEntity},
		{"set target too high", http.MethodPut, "/simulation/target", `{"target":300}`, http.StatusUnprocessableEntity},
		{"set target malformed", http.MethodPut, "/simulation/target", `{"target":"x"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, tt.method, "/api/v1/devices/hr-1"+tt.path, tt.body)
			expectStatus(t, w, tt.status)
			if st := env.sim.State("hr-1"); st.Enabled || st.Target != 70 {
				t.Errorf("state changed to %+v", st)
			}
		})
	}
}

func TestSimulationEnable_Tombstoned(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Remove("hr-1")

	w := env.do(t, http.MethodPost, "/api/v1/devices/hr-1/simulation/enable", "")
	expectErrorCode(t, w, http.StatusConflict, ErrCodeConflict)
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
