package api

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/sinkcam/internal/api/models"
	"github.com/smazurov/sinkcam/internal/camera"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/logging"
	"github.com/smazurov/sinkcam/internal/relay"
)

type fakeCamera struct {
	mu      sync.Mutex
	warning string
	hasWarn bool
	depth   convert.DepthParams
	sources []string
}

func (c *fakeCamera) Status() camera.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return camera.Status{
		State:       "streaming",
		Active:      true,
		Observers:   1,
		Producers:   []string{"kinect"},
		Consumers:   []string{"viewer"},
		Stats:       relay.Stats{Relayed: 12, Synthetic: 3},
		Depth:       c.depth,
		WarningText: c.warning,
		HasWarning:  c.hasWarn,
	}
}

func (c *fakeCamera) Format() frame.Format {
	return frame.NewFormat(640, 480, frame.LayoutBGRA8)
}

func (c *fakeCamera) SetWarningText(text, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warning, c.hasWarn = text, true
	c.sources = append(c.sources, source)
}

func (c *fakeCamera) ClearWarningText(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warning, c.hasWarn = "", false
	c.sources = append(c.sources, source)
}

func (c *fakeCamera) SetDepthParams(p convert.DepthParams, source string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth = p
	c.sources = append(c.sources, source)
	return nil
}

func (c *fakeCamera) DepthParams() convert.DepthParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

func newTestServer(t *testing.T, auth bool) (*httptest.Server, *fakeCamera, *events.Bus) {
	t.Helper()
	cam := &fakeCamera{depth: convert.DefaultDepthParams()}
	bus := events.New()
	opts := &Options{
		Camera:         cam,
		EventBus:       bus,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "sinkcam_up 1\n") }),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if auth {
		opts.AuthUsername, opts.AuthPassword = "admin", "secret"
	}
	srv := NewServer(opts)
	srv.Mux().HandleFunc("GET /ws/watch", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, cam, bus
}

func do(t *testing.T, method, url, body string, auth bool) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	tests := []struct {
		name string
		path string
		auth bool
		want int
	}{
		{"health is public", "/api/health", false, http.StatusOK},
		{"version is public", "/api/version", false, http.StatusOK},
		{"relay needs auth", "/api/relay", false, http.StatusUnauthorized},
		{"relay with auth", "/api/relay", true, http.StatusOK},
		{"logs need auth", "/api/logs", false, http.StatusUnauthorized},
		{"websocket needs auth", "/ws/watch", false, http.StatusUnauthorized},
		{"websocket with auth", "/ws/watch", true, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, ts.URL+tt.path, "", tt.auth)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/relay", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", resp.StatusCode)
	}
}

func TestRelayStatus(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	resp := do(t, http.MethodGet, ts.URL+"/api/relay", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[models.RelayStatusData](t, resp)
	if got.State != "streaming" || got.Observers != 1 || got.Stats.Relayed != 12 {
		t.Errorf("status body = %+v", got)
	}
	if got.Synthetic.Layout != "bgra8" || got.Synthetic.Width != 640 {
		t.Errorf("synthetic format = %+v", got.Synthetic)
	}
	if got.Depth.ClipNear != 10 || got.Depth.ClipFar != 15000 {
		t.Errorf("depth = %+v", got.Depth)
	}
}

func TestWarningText(t *testing.T) {
	ts, cam, _ := newTestServer(t, false)

	resp := do(t, http.MethodPut, ts.URL+"/api/relay/warning", `{"text":"Sensor unplugged"}`, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set status = %d", resp.StatusCode)
	}
	if got := decode[models.RelayStatusData](t, resp); got.WarningText != "Sensor unplugged" {
		t.Errorf("warning_text = %q", got.WarningText)
	}

	if resp := do(t, http.MethodPut, ts.URL+"/api/relay/warning", `{"text":""}`, false); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty text status = %d, want 422", resp.StatusCode)
	}

	if resp := do(t, http.MethodDelete, ts.URL+"/api/relay/warning", "", false); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", resp.StatusCode)
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()
	if cam.hasWarn {
		t.Error("warning still set after clear")
	}
	if len(cam.sources) != 2 || cam.sources[0] != "api" {
		t.Errorf("sources = %v, want two api calls", cam.sources)
	}
}

func TestDepthRange(t *testing.T) {
	ts, cam, _ := newTestServer(t, false)

	resp := do(t, http.MethodPut, ts.URL+"/api/relay/depth", `{"clip_near":100,"clip_far":4000}`, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[models.DepthData](t, resp); got.ClipNear != 100 || got.ClipFar != 4000 {
		t.Errorf("response = %+v", got)
	}
	if cam.DepthParams() != (convert.DepthParams{ClipNear: 100, ClipFar: 4000}) {
		t.Errorf("camera depth = %+v", cam.DepthParams())
	}

	resp = do(t, http.MethodPut, ts.URL+"/api/relay/depth", `{"clip_near":500,"clip_far":500}`, false)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty range status = %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/relay/depth", "", false)
	if got := decode[models.DepthData](t, resp); got.ClipFar != 4000 {
		t.Errorf("GET depth = %+v", got)
	}
}

func TestEventsStreamStartsWithState(t *testing.T) {
	ts, _, bus := newTestServer(t, true)

	creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	resp, err := http.Get(ts.URL + "/api/events?auth=" + creds)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
			return ""
		}
	}

	var first events.RelayStateChangedEvent
	if err := json.Unmarshal([]byte(next()), &first); err != nil || first.State != "streaming" {
		t.Fatalf("first event = %+v (%v)", first, err)
	}

	bus.Publish(events.DepthChangedEvent{ClipNear: 1, ClipFar: 2, Source: "nats", Timestamp: events.Now()})
	var depth events.DepthChangedEvent
	if err := json.Unmarshal([]byte(next()), &depth); err != nil || depth.Source != "nats" || depth.ClipFar != 2 {
		t.Errorf("depth event = %+v (%v)", depth, err)
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	buf := logging.GetBuffer()
	now := time.Now()
	buf.Write(logging.LogEntry{Timestamp: now, Level: "debug", Module: "relay", Message: "pumped"})
	buf.Write(logging.LogEntry{Timestamp: now, Level: "warn", Module: "relay", Message: "stalled-marker"})
	buf.Write(logging.LogEntry{Timestamp: now, Level: "error", Module: "streaming", Message: "write failed"})

	resp := do(t, http.MethodGet, ts.URL+"/api/logs?module=relay&level=warn", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Entries []logging.LogEntry `json:"entries"`
	}](t, resp)
	if len(body.Entries) != 1 || body.Entries[0].Message != "stalled-marker" {
		t.Errorf("entries = %+v", body.Entries)
	}

	resp = do(t, http.MethodPut, ts.URL+"/api/logs/levels", `{"module":"relay","level":"debug"}`, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set level status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPut, ts.URL+"/api/logs/levels", `{"level":"loud"}`, false); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad level status = %d, want 422", resp.StatusCode)
	}
}

func TestFilterLogsLimit(t *testing.T) {
	var entries []logging.LogEntry
	for _, msg := range []string{"a", "b", "c", "d"} {
		entries = append(entries, logging.LogEntry{Level: "info", Module: "relay", Message: msg})
	}
	got := filterLogs(entries, &models.LogsRequest{Limit: 2})
	if len(got) != 2 || got[0].Message != "c" || got[1].Message != "d" {
		t.Errorf("filterLogs() = %+v, want newest two", got)
	}
}

func TestCORSAndMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	resp := do(t, http.MethodOptions, ts.URL+"/api/relay", "", false)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight missing CORS headers")
	}

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "", false)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "sinkcam_up") {
		t.Errorf("metrics = %d %q", resp.StatusCode, body)
	}
}
