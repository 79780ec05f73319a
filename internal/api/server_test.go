package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
)

const testWebRoot = "/srv/www"

// fakeEngine records requests and answers with canned results.
type fakeEngine struct {
	mu sync.Mutex

	asyncReqs []engine.Request
	syncReqs  []engine.Request
	webPaths  []string

	asyncErr   error
	syncCode   int
	syncErr    error
	syncOutput string
	scripts    []string
	listErr    error
	authorized map[string]bool
	stats      engine.Stats
}

func (f *fakeEngine) ExecuteAsync(_ context.Context, req engine.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asyncReqs = append(f.asyncReqs, req)
	return f.asyncErr
}

func (f *fakeEngine) ExecuteSync(_ context.Context, req engine.Request) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncReqs = append(f.syncReqs, req)
	if req.Output != nil && f.syncOutput != "" {
		io.WriteString(req.Output, f.syncOutput) //nolint:errcheck // test output
	}
	return f.syncCode, f.syncErr
}

func (f *fakeEngine) ExecuteWebRequest(_ context.Context, path string, w http.ResponseWriter, _ *http.Request) int {
	f.mu.Lock()
	f.webPaths = append(f.webPaths, path)
	f.mu.Unlock()

	if strings.Contains(path, "missing") {
		return -1
	}
	w.Header().Set("Content-Type", "text/html")
	io.WriteString(w, "<p>hello</p>") //nolint:errcheck // test output
	return 0
}

func (f *fakeEngine) SupportsScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}

func (f *fakeEngine) CheckSessionID(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized[id]
}

func (f *fakeEngine) ListScripts() ([]string, error) {
	return f.scripts, f.listErr
}

func (f *fakeEngine) Stats() engine.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type testEnv struct {
	srv      *Server
	handler  http.Handler
	engine   *fakeEngine
	registry *device.Registry
	router   *events.Router
}

// testServer creates a Server with a fake engine and a real device registry
// backed by in-memory SQLite.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	registry := device.NewRegistry(device.NewSQLiteRepository(db))
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	eng := &fakeEngine{stats: engine.Stats{Max: 100, SoftThreshold: 80}}
	router := events.NewRouter()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			DrainInterval:  50,
		},
		WebRoot: testWebRoot,
		Logger:  log,
		Engine:  eng,
		Router:  router,
		Devices: registry,
		DB:      db,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:      srv,
		handler:  srv.buildRouter(),
		engine:   eng,
		registry: registry,
		router:   router,
	}
}

// setupTestDB creates an in-memory SQLite database with the devices schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id INTEGER PRIMARY KEY CHECK (id > 0),
			name TEXT NOT NULL DEFAULT '',
			family TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// drainEvents collects the pending events of a router subscription.
func drainEvents(sub *events.Subscription) []events.Event {
	var got []events.Event
	for ev := range sub.Drain() {
		got = append(got, ev)
	}
	return got
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Default()
	eng := &fakeEngine{}
	router := events.NewRouter()
	registry := device.NewRegistry(device.NewSQLiteRepository(setupTestDB(t)))

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Engine: eng, Router: router, Devices: registry}},
		{"no engine", Deps{Logger: log, Router: router, Devices: registry}},
		{"no router", Deps{Logger: log, Engine: eng, Devices: registry}},
		{"no devices", Deps{Logger: log, Engine: eng, Router: router}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["mqtt"] != "disabled" {
		t.Errorf("mqtt = %v, want disabled", resp["mqtt"])
	}
}

func TestHealth_MQTTStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"connected", nil, "connected"},
		{"disconnected", errors.New("not connected"), "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.srv.mqtt = fakeHealth{err: tt.err}

			resp := decodeBody(t, env.do(t, http.MethodGet, "/api/v1/health", ""))
			if resp["mqtt"] != tt.want {
				t.Errorf("mqtt = %v, want %s", resp["mqtt"], tt.want)
			}
		})
	}
}

func TestHealth_ShuttingDown(t *testing.T) {
	env := testServer(t)
	env.engine.stats.ShuttingDown = true

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decodeBody(t, w); resp["status"] != "shutting_down" {
		t.Errorf("status = %v, want shutting_down", resp["status"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRequestID_Context(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID(empty ctx) = %q, want empty", got)
	}

	env := testServer(t)
	var seen string
	handler := env.srv.requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("RequestID() in handler = %q, want abc", seen)
	}
}

func TestRecovery_Panic(t *testing.T) {
	env := testServer(t)
	handler := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != codeInternal {
		t.Errorf("error code = %q, want %q", body.Error.Code, codeInternal)
	}
}

func TestErrorResponse_Shape(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/999", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != codeNotFound || body.Error.Message == "" {
		t.Errorf("error = %+v, want code %q with a message", body.Error, codeNotFound)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scripts/execute", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := testServer(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Script Tests ──────────────────────────────────────────────────

func TestListScripts(t *testing.T) {
	env := testServer(t)
	env.engine.scripts = []string{"lights/evening.lua", "report.sh"}

	w := env.do(t, http.MethodGet, "/api/v1/scripts/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

func TestListScripts_Empty(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/scripts/", "")
	if !strings.Contains(w.Body.String(), `"scripts":[]`) {
		t.Errorf("body = %s, want empty scripts array", w.Body.String())
	}
}

func TestListScripts_ShuttingDown(t *testing.T) {
	env := testServer(t)
	env.engine.listErr = engine.ErrShuttingDown

	w := env.do(t, http.MethodGet, "/api/v1/scripts/", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestExecuteScript_Async(t *testing.T) {
	env := testServer(t)

	body := `{"script":"lights/evening.lua","args":"--level 40","device_id":7,"keep_alive":true,"interval_ms":2000}`
	w := env.do(t, http.MethodPost, "/api/v1/scripts/execute", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	if len(env.engine.asyncReqs) != 1 {
		t.Fatalf("async requests = %d, want 1", len(env.engine.asyncReqs))
	}
	got := env.engine.asyncReqs[0]
	if got.Path != filepath.FromSlash("lights/evening.lua") {
		t.Errorf("Path = %q, want lights/evening.lua", got.Path)
	}
	if got.Args != "--level 40" || got.DeviceID != 7 || !got.KeepAlive {
		t.Errorf("request = %+v, want args, device 7 and keep-alive", got)
	}
	if got.Interval != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", got.Interval)
	}
}

func TestExecuteScript_Sync(t *testing.T) {
	env := testServer(t)
	env.engine.syncCode = 3
	env.engine.syncOutput = "done\n"

	w := env.do(t, http.MethodPost, "/api/v1/scripts/execute", `{"source":"print('done') return 3","wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", resp.ExitCode)
	}
	if resp.Output != "done\n" {
		t.Errorf("Output = %q, want %q", resp.Output, "done\n")
	}
	if env.engine.syncReqs[0].Source == "" {
		t.Error("Source was not passed to the engine")
	}
}

func TestExecuteScript_SyncScriptError(t *testing.T) {
	env := testServer(t)
	env.engine.syncCode = 1
	env.engine.syncErr = errors.New("lua: attempt to call a nil value")

	w := env.do(t, http.MethodPost, "/api/v1/scripts/execute", `{"script":"broken.lua","wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["exit_code"] != float64(1) {
		t.Errorf("exit_code = %v, want 1", resp["exit_code"])
	}
	if resp["error"] == nil {
		t.Error("expected error field for failing script")
	}
}

func TestExecuteScript_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty", `{}`},
		{"script and source", `{"script":"a.lua","source":"return 0"}`},
		{"escaping path", `{"script":"../etc/passwd"}`},
		{"absolute path", `{"script":"/etc/passwd"}`},
		{"waited keep-alive", `{"script":"a.lua","keep_alive":true,"wait":true}`},
		{"negative interval", `{"script":"a.lua","interval_ms":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			w := env.do(t, http.MethodPost, "/api/v1/scripts/execute", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if len(env.engine.asyncReqs)+len(env.engine.syncReqs) != 0 {
				t.Error("engine was called for an invalid request")
			}
		})
	}
}

func TestExecuteScript_EngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"admission refused", engine.ErrAdmissionRefused, http.StatusServiceUnavailable},
		{"shutting down", engine.ErrShuttingDown, http.StatusServiceUnavailable},
		{"not found", fmt.Errorf("%w: a.lua", engine.ErrScriptNotFound), http.StatusNotFound},
		{"invalid", engine.ErrInvalidRequest, http.StatusBadRequest},
		{"internal", engine.ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.engine.asyncErr = tt.err
			env.engine.syncErr = tt.err

			if w := env.do(t, http.MethodPost, "/api/v1/scripts/execute", `{"script":"a.lua"}`); w.Code != tt.want {
				t.Errorf("async status = %d, want %d", w.Code, tt.want)
			}
			if w := env.do(t, http.MethodPost, "/api/v1/scripts/execute", `{"script":"a.lua","wait":true}`); w.Code != tt.want {
				t.Errorf("sync status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Errorf("Write() = %d, %v, want 6, nil", n, err)
	}
	out, truncated := b.snapshot()
	if out != "abcd" || !truncated {
		t.Errorf("snapshot() = %q, %v, want %q, true", out, truncated, "abcd")
	}
}

func TestEngineStats(t *testing.T) {
	env := testServer(t)
	env.engine.stats.Live = 4

	resp := decodeBody(t, env.do(t, http.MethodGet, "/api/v1/engine/stats", ""))
	if resp["live"] != float64(4) {
		t.Errorf("live = %v, want 4", resp["live"])
	}
	if resp["max"] != float64(100) {
		t.Errorf("max = %v, want 100", resp["max"])
	}
}

func TestCheckSession(t *testing.T) {
	env := testServer(t)
	env.engine.authorized = map[string]bool{"good": true}

	tests := []struct {
		body     string
		wantCode int
		wantAuth any
	}{
		{`{"session_id":"good"}`, http.StatusOK, true},
		{`{"session_id":"bad"}`, http.StatusOK, false},
		{`{"session_id":""}`, http.StatusBadRequest, nil},
		{`nope`, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/check", tt.body)
		if w.Code != tt.wantCode {
			t.Errorf("check(%s) status = %d, want %d", tt.body, w.Code, tt.wantCode)
			continue
		}
		if tt.wantAuth != nil {
			if got := decodeBody(t, w)["authorized"]; got != tt.wantAuth {
				t.Errorf("check(%s) authorized = %v, want %v", tt.body, got, tt.wantAuth)
			}
		}
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices_Empty(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeBody(t, w); resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestPutDevice_CreateThenUpdate(t *testing.T) {
	env := testServer(t)
	sub := env.router.Subscribe("test", nil)

	w := env.do(t, http.MethodPut, "/api/v1/devices/12", `{"name":"Hall dimmer","family":"dimmer","address":"1/2/3"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if !env.registry.Exists(12) {
		t.Error("device 12 not in registry after create")
	}

	w = env.do(t, http.MethodPut, "/api/v1/devices/12", `{"name":"Hall dimmer 2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeBody(t, w); resp["name"] != "Hall dimmer 2" {
		t.Errorf("name = %v, want Hall dimmer 2", resp["name"])
	}

	got := drainEvents(sub)
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Kind != events.KindDeviceAdded || len(got[0].DeviceIDs) != 1 || got[0].DeviceIDs[0] != 12 {
		t.Errorf("first event = %+v, want newDevices [12]", got[0])
	}
	if got[1].Kind != events.KindDeviceUpdated || got[1].DeviceID != 12 {
		t.Errorf("second event = %+v, want updateDevice 12", got[1])
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)
	if _, err := env.registry.AddDevice(context.Background(), &device.Device{ID: 5, Name: "Porch"}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/devices/5", http.StatusOK},
		{"/api/v1/devices/6", http.StatusNotFound},
		{"/api/v1/devices/abc", http.StatusBadRequest},
		{"/api/v1/devices/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := env.do(t, http.MethodGet, tt.path, ""); w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestPutDevice_InvalidJSON(t *testing.T) {
	env := testServer(t)

	if w := env.do(t, http.MethodPut, "/api/v1/devices/3", `{"name":`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestDeleteDevice(t *testing.T) {
	env := testServer(t)
	if _, err := env.registry.AddDevice(context.Background(), &device.Device{ID: 9}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	sub := env.router.Subscribe("test", []uint64{})

	w := env.do(t, http.MethodDelete, "/api/v1/devices/9", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if env.registry.Exists(9) {
		t.Error("device 9 still exists after delete")
	}

	// Removal is broadcast even to listeners filtering on nothing.
	got := drainEvents(sub)
	if len(got) != 1 || got[0].Kind != events.KindDeviceRemoved {
		t.Errorf("events = %+v, want one deleteDevices", got)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/devices/9", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Web Script Tests ──────────────────────────────────────────────

func TestWeb(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCode int
		wantPath string
	}{
		{"script", "/web/status.lua", http.StatusOK, filepath.Join(testWebRoot, "status.lua")},
		{"nested", "/web/rooms/hall.lua", http.StatusOK, filepath.Join(testWebRoot, "rooms", "hall.lua")},
		{"root index", "/web/", http.StatusOK, filepath.Join(testWebRoot, "index.lua")},
		{"directory index", "/web/rooms/", http.StatusOK, filepath.Join(testWebRoot, "rooms", "index.lua")},
		{"missing", "/web/missing.lua", http.StatusNotFound, filepath.Join(testWebRoot, "missing.lua")},
		{"escape", "/web/../etc/passwd.lua", http.StatusNotFound, ""},
		{"unsupported type", "/web/style.css", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			w := env.do(t, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}

			var gotPath string
			if len(env.engine.webPaths) > 0 {
				gotPath = env.engine.webPaths[0]
			}
			if gotPath != tt.wantPath {
				t.Errorf("engine path = %q, want %q", gotPath, tt.wantPath)
			}
		})
	}
}

func TestWeb_Redirect(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/web", "")
	if w.Code != http.StatusMovedPermanently {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMovedPermanently)
	}
	if loc := w.Header().Get("Location"); loc != "/web/" {
		t.Errorf("Location = %q, want /web/", loc)
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.engine.stats.Live = 2
	env.srv.mqtt = fakeHealth{}
	for _, d := range []*device.Device{{ID: 1, Family: "dimmer"}, {ID: 2, Family: "dimmer"}, {ID: 3}} {
		if _, err := env.registry.AddDevice(context.Background(), d); err != nil {
			t.Fatalf("AddDevice: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Engine.LiveSlots != 2 || m.Engine.MaxSlots != 100 {
		t.Errorf("engine = %+v, want live 2 max 100", m.Engine)
	}
	if !m.MQTT.Enabled || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v, want enabled and connected", m.MQTT)
	}
	if m.Devices.Total != 3 || m.Devices.ByFamily["dimmer"] != 2 || m.Devices.ByFamily["unknown"] != 1 {
		t.Errorf("devices = %+v, want 3 total with 2 dimmers", m.Devices)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("expected goroutine count")
	}
}

// ─── Server Lifecycle ──────────────────────────────────────────────

func TestServer_HealthCheck(t *testing.T) {
	env := testServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start, want error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := env.srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() = nil with cancelled context, want error")
	}
}

func TestServer_CloseNotStarted(t *testing.T) {
	env := testServer(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

// connectWebSocket dials the event stream and waits for its router
// subscription to be registered.
func connectWebSocket(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events" + query
	before := env.router.Len()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for env.router.Len() == before {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never subscribed to the router")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

func readWSMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocket_EventStream(t *testing.T) {
	env := testServer(t)
	ws := connectWebSocket(t, env, "?devices=7")

	env.router.PublishValues(8, 0, map[string]any{"level": 10})
	env.router.PublishValues(7, 1, map[string]any{"level": 55})

	msg := readWSMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != "event" {
		t.Fatalf("message = %+v, want value event", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want object", msg.Payload)
	}
	if payload["device_id"] != float64(7) || payload["variable"] != "level" || payload["value"] != float64(55) {
		t.Errorf("payload = %v, want device 7 level 55", payload)
	}
}

func TestWebSocket_BroadcastEvents(t *testing.T) {
	env := testServer(t)
	ws := connectWebSocket(t, env, "?devices=1")

	env.router.Publish(events.Event{Kind: events.KindDeviceAdded, DeviceIDs: []uint64{42}})

	msg := readWSMessage(t, ws)
	if msg.EventType != "newDevices" {
		t.Errorf("event_type = %q, want newDevices", msg.EventType)
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	env := testServer(t)
	ws := connectWebSocket(t, env, "?devices=")

	// An empty devices parameter means all devices; narrow it explicitly.
	if err := ws.WriteJSON(WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{DeviceIDs: []uint64{1}}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readWSMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "u1" {
		t.Fatalf("unsubscribe reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{DeviceIDs: []uint64{3}}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	msg := readWSMessage(t, ws)
	if msg.Type != WSTypeResponse || msg.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if devices, _ := payload["devices"].([]any); len(devices) != 1 || devices[0] != float64(3) {
		t.Errorf("devices = %v, want [3]", payload["devices"])
	}

	env.router.PublishValues(1, 0, map[string]any{"on": true})
	env.router.PublishValues(3, 0, map[string]any{"on": false})

	ev := readWSMessage(t, ws)
	if p, _ := ev.Payload.(map[string]any); p["device_id"] != float64(3) {
		t.Errorf("event payload = %v, want device 3 only", ev.Payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := testServer(t)
	ws := connectWebSocket(t, env, "")

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readWSMessage(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", msg)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	env := testServer(t)
	ws := connectWebSocket(t, env, "")

	for _, raw := range []string{"not json", `{"type":"dance"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
		if msg := readWSMessage(t, ws); msg.Type != WSTypeError {
			t.Errorf("reply to %q = %+v, want error", raw, msg)
		}
	}
}

func TestWebSocket_BadDeviceFilter(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/events?devices=a,b", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWebSocket_DisconnectUnsubscribes(t *testing.T) {
	env := testServer(t)
	ws := connectWebSocket(t, env, "")

	if env.srv.hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", env.srv.hub.ClientCount())
	}
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.router.Len() != 0 || env.srv.hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("after close: listeners = %d, clients = %d, want 0", env.router.Len(), env.srv.hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseDeviceList(t *testing.T) {
	tests := []struct {
		raw     string
		want    []uint64
		wantErr bool
	}{
		{"", nil, false},
		{"7", []uint64{7}, false},
		{"1, 2,3", []uint64{1, 2, 3}, false},
		{"1,x", nil, true},
	}
	for _, tt := range tests {
		got, err := parseDeviceList(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDeviceList(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !slices.Equal(got, tt.want) {
			t.Errorf("parseDeviceList(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
