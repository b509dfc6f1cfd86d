package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voicefront/voicefront/internal/app"
	"github.com/voicefront/voicefront/internal/config"
	consumermock "github.com/voicefront/voicefront/internal/consumer/mock"
	"github.com/voicefront/voicefront/internal/observe"
	"github.com/voicefront/voicefront/pkg/audio"
	audiomock "github.com/voicefront/voicefront/pkg/audio/mock"
	sttmock "github.com/voicefront/voicefront/pkg/provider/stt/mock"
	"github.com/voicefront/voicefront/pkg/types"
)

const testYAML = `
server:
  log_level: info
providers:
  stt:
    name: mock
capture:
  frame_size: 160
backend:
  chat_url: http://127.0.0.1:1
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type harness struct {
	app      *app.App
	base     string
	stt      *sttmock.Provider
	mic      *audiomock.Device
	consumer *consumermock.Consumer
	level    *slog.LevelVar
}

// newHarness builds an App over mocks and runs it on a loopback listener
// until the test ends.
func newHarness(t *testing.T, mutate func(*config.Config, *audiomock.Device)) *harness {
	t.Helper()
	cfg := testConfig(t)
	h := &harness{
		stt:      &sttmock.Provider{},
		mic:      &audiomock.Device{DeviceName: "microphone", AvailableResult: true},
		consumer: &consumermock.Consumer{Submitted: make(chan types.Utterance, 8)},
		level:    new(slog.LevelVar),
	}
	if mutate != nil {
		mutate(cfg, h.mic)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, err := app.New(cfg, &app.Providers{STT: app.NamedSTT{Name: "mock", Provider: h.stt}},
		app.WithMetrics(testMetrics(t)),
		app.WithMicrophone(h.mic),
		app.WithConsumer(h.consumer),
		app.WithLevelVar(h.level),
		app.WithListener(ln),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.app = a
	h.base = "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
		_ = a.Shutdown(context.Background())
	})
	h.waitReady(t)
	return h
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(h.base + "/healthz")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not come up")
}

type apiReply struct {
	State string `json:"state"`
	Error string `json:"error"`
}

func (h *harness) post(t *testing.T, path string) (int, apiReply) {
	t.Helper()
	resp, err := http.Post(h.base+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body apiReply
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func (h *harness) state(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(h.base + "/v1/state")
	if err != nil {
		t.Fatalf("GET /v1/state: %v", err)
	}
	defer resp.Body.Close()
	var body apiReply
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return body.State
}

// settle waits until the transcription session's transcripts were consumed.
func settle(t *testing.T, s *sttmock.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Transcripts()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("transcripts were not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresSTT(t *testing.T) {
	t.Parallel()
	_, err := app.New(testConfig(t), &app.Providers{}, app.WithMicrophone(&audiomock.Device{}))
	if err == nil {
		t.Fatal("expected error without an STT provider, got nil")
	}
}

func TestNew_BuildsHTTPConsumers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"chat responder", testYAML},
		{"voice responder with moments", testYAML + `
  voice_url: http://127.0.0.1:2
  moments_url: http://127.0.0.1:3
  responder: voice
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err != nil {
				t.Fatalf("LoadFromReader: %v", err)
			}
			a, err := app.New(cfg, &app.Providers{STT: app.NamedSTT{Name: "mock", Provider: &sttmock.Provider{}}},
				app.WithMetrics(testMetrics(t)),
				app.WithMicrophone(&audiomock.Device{AvailableResult: true}),
			)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("readyz status = %d, want 200; body %s", rec.Code, rec.Body)
			}
		})
	}
}

// ─── Control API ─────────────────────────────────────────────────────────────

func TestAPI_CaptureLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if got := h.state(t); got != "idle" {
		t.Fatalf("initial state = %q, want idle", got)
	}

	code, body := h.post(t, "/v1/capture/start?mode=chat")
	if code != http.StatusOK || body.State != "capturing" {
		t.Fatalf("start: got %d %+v, want 200 capturing", code, body)
	}

	code, body = h.post(t, "/v1/capture/start")
	if code != http.StatusConflict {
		t.Errorf("second start: got %d %+v, want 409", code, body)
	}

	sess := h.stt.Last()
	if sess == nil {
		t.Fatal("no transcription session opened")
	}
	sess.Emit(types.Transcript{Text: "turn on the lights", IsFinal: true, ReceivedAt: time.Now()})
	settle(t, sess)

	code, body = h.post(t, "/v1/capture/stop")
	if code != http.StatusOK || body.State != "idle" {
		t.Fatalf("stop: got %d %+v, want 200 idle", code, body)
	}

	select {
	case u := <-h.consumer.Submitted:
		if u.Text != "turn on the lights" || u.Mode != types.ModeChat || u.Reason != types.EndSessionStopped {
			t.Errorf("utterance = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not dispatch the buffered utterance")
	}
}

func TestAPI_InterimResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		options map[string]any
		want    string
	}{
		{"appended by default", nil, "turn turn on turn on the lights"},
		{"revised with interim_results", map[string]any{"interim_results": true}, "turn on the lights"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(cfg *config.Config, _ *audiomock.Device) {
				cfg.Providers.STT.Options = tc.options
			})
			if code, body := h.post(t, "/v1/capture/start"); code != http.StatusOK {
				t.Fatalf("start: got %d %+v", code, body)
			}
			sess := h.stt.Last()
			sess.Emit(types.Transcript{Text: "turn"})
			sess.Emit(types.Transcript{Text: "turn on"})
			sess.Emit(types.Transcript{Text: "turn on the lights", IsFinal: true})
			settle(t, sess)
			if code, body := h.post(t, "/v1/capture/stop"); code != http.StatusOK {
				t.Fatalf("stop: got %d %+v", code, body)
			}

			select {
			case u := <-h.consumer.Submitted:
				if u.Text != tc.want {
					t.Errorf("utterance text = %q, want %q", u.Text, tc.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("no utterance dispatched")
			}
		})
	}
}

func TestAPI_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config, *audiomock.Device)
		path   string
		want   int
	}{
		{name: "invalid mode", path: "/v1/capture/start?mode=karaoke", want: http.StatusBadRequest},
		{name: "stop while idle", path: "/v1/capture/stop", want: http.StatusConflict},
		{name: "wake word not configured", path: "/v1/wake/start", want: http.StatusServiceUnavailable},
		{
			name:   "no device",
			mutate: func(_ *config.Config, mic *audiomock.Device) { mic.AvailableResult = false },
			path:   "/v1/capture/start",
			want:   http.StatusServiceUnavailable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.mutate)
			code, body := h.post(t, tc.path)
			if code != tc.want {
				t.Errorf("status = %d, want %d (body %+v)", code, tc.want, body)
			}
			if body.Error == "" {
				t.Error("error body should carry a message")
			}
			if body.State != "idle" {
				t.Errorf("state after failure = %q, want idle", body.State)
			}
		})
	}
}

func TestAPI_WakeStopWhileIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	code, body := h.post(t, "/v1/wake/stop")
	if code != http.StatusOK || body.State != "idle" {
		t.Errorf("got %d %+v, want 200 idle", code, body)
	}
}

// ─── Event feed ──────────────────────────────────────────────────────────────

type wireNote struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Previous  string `json:"previous"`
	SessionID string `json:"sessionId"`
}

func TestEvents_StreamsNotifications(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.base, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var n wireNote
	if err := wsjson.Read(ctx, conn, &n); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if n.Kind != "state" || n.State != "idle" {
		t.Fatalf("initial notification = %+v, want state idle", n)
	}

	if code, _ := h.post(t, "/v1/capture/start?mode=moment"); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}

	if err := wsjson.Read(ctx, conn, &n); err != nil {
		t.Fatalf("read transition: %v", err)
	}
	if n.Kind != "state" || n.State != "capturing" || n.Previous != "idle" {
		t.Errorf("transition notification = %+v, want idle -> capturing", n)
	}
	if n.SessionID == "" {
		t.Error("capture notification should carry a session id")
	}
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	t.Parallel()
	hub := app.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber did not register")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Close()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after close: got %v, want StatusGoingAway", err)
	}
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d after Close, want 0", hub.Clients())
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	old := testConfig(t)
	updated := testConfig(t)
	updated.Server.LogLevel = config.LogDebug
	updated.Capture.VADThreshold = 0.5
	h.app.ApplyConfig(context.Background(), updated, config.Diff(old, updated))

	if got := h.level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	if got := h.state(t); got != "idle" {
		t.Errorf("state after reload = %q, want idle", got)
	}
}

// ─── Probes ──────────────────────────────────────────────────────────────────

func TestProbes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/healthz", http.StatusOK, `"state":"idle"`},
		{"/readyz", http.StatusOK, `"audio_source":"ok"`},
		{"/metrics", http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(h.base + tc.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if tc.body != "" && !strings.Contains(string(b), tc.body) {
				t.Errorf("body %q should contain %q", b, tc.body)
			}
		})
	}
}

func TestReadyz_NoDevice(t *testing.T) {
	t.Parallel()
	a, err := app.New(testConfig(t), &app.Providers{STT: app.NamedSTT{Name: "mock", Provider: &sttmock.Provider{}}},
		app.WithMetrics(testMetrics(t)),
		app.WithMicrophone(&audiomock.Device{AvailableResult: false}),
		app.WithConsumer(&consumermock.Consumer{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), audio.ErrNoDeviceAvailable.Error()) {
		t.Errorf("body should name the missing device, got %s", rec.Body)
	}
}
