package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetState(t *testing.T) *RingBuffer {
	t.Helper()
	buf := NewRingBuffer(16)
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig = Config{}
	isInitialized = false
	logBuffer = buf
	logCallback = nil
	mutex.Unlock()
	return buf
}

func TestModuleLevelOverride(t *testing.T) {
	resetState(t)
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"relay":     "debug",
			"streaming": "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"relay", true, true, true},
		{"streaming", false, false, true},
		{"other", false, true, true},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState(t)

	before := GetLogger("relay")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"relay": "debug"}})

	if GetLogger("relay") != before {
		t.Error("logger should be cached across Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("cached logger should pick up the debug override")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "info", Modules: map[string]string{"streaming": "error"}})

	relay := GetLogger("relay")
	streaming := GetLogger("streaming")
	ctx := context.Background()

	if err := SetModuleLevel("relay", "debug"); err != nil {
		t.Fatal(err)
	}
	if !relay.Handler().Enabled(ctx, slog.LevelDebug) {
		t.Error("relay should log debug after SetModuleLevel")
	}

	if err := SetModuleLevel("", "warn"); err != nil {
		t.Fatal(err)
	}
	if !relay.Handler().Enabled(ctx, slog.LevelDebug) {
		t.Error("global change must not override a module level")
	}
	if streaming.Handler().Enabled(ctx, slog.LevelWarn) {
		t.Error("streaming keeps its configured error level")
	}
	if got := GetLogger("late").Handler().Enabled(ctx, slog.LevelInfo); got {
		t.Error("new modules should use the new global level")
	}

	if err := SetModuleLevel("relay", "loud"); err == nil {
		t.Error("unknown level should fail")
	}

	levels := Levels()
	if levels["relay"] != "debug" || levels["streaming"] != "error" || levels["late"] != "warn" {
		t.Errorf("Levels() = %v", levels)
	}
}

func TestBufferHandlerCapturesEntries(t *testing.T) {
	buf := resetState(t)

	var seen []LogEntry
	SetLogCallback(func(e LogEntry) { seen = append(seen, e) })

	logger := slog.New(NewBufferHandler(slog.LevelInfo)).With("module", "relay")
	logger.Debug("hidden")
	logger.WithGroup("frame").Info("relayed",
		"size", 640,
		"age", 5*time.Millisecond,
		"error", errors.New("boom"),
		slog.Group("format", "layout", "bgra8"),
	)

	entries := buf.ReadAll()
	if len(entries) != 1 {
		t.Fatalf("buffered %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Module != "relay" || e.Level != "info" || e.Message != "relayed" {
		t.Errorf("entry = %+v", e)
	}
	want := map[string]any{
		"frame.size":          int64(640),
		"frame.age":           "5ms",
		"frame.error":         "boom",
		"frame.format.layout": "bgra8",
	}
	for k, v := range want {
		if e.Attributes[k] != v {
			t.Errorf("attr %s = %v (%T), want %v", k, e.Attributes[k], e.Attributes[k], v)
		}
	}
	if len(seen) != 1 || seen[0].Message != "relayed" {
		t.Errorf("callback saw %v", seen)
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	if rb.ReadAll() != nil {
		t.Error("empty buffer should read nil")
	}
	for i := range 5 {
		rb.Write(LogEntry{Message: fmt.Sprint(i)})
	}

	messages := func(entries []LogEntry) string {
		var parts []string
		for _, e := range entries {
			parts = append(parts, e.Message)
		}
		return strings.Join(parts, ",")
	}

	if got := messages(rb.ReadAll()); got != "2,3,4" {
		t.Errorf("ReadAll = %s, want 2,3,4", got)
	}
	if got := messages(rb.Tail(2)); got != "3,4" {
		t.Errorf("Tail(2) = %s, want 3,4", got)
	}
	if got := messages(rb.Tail(10)); got != "2,3,4" {
		t.Errorf("Tail(10) = %s, want 2,3,4", got)
	}
	if rb.Count() != 3 {
		t.Errorf("Count = %d, want 3", rb.Count())
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer
	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")
	logger.Info("everyone")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("debug message written %d times, want 1. Output: %s", count, output)
	}
	if count := strings.Count(output, "everyone"); count != 2 {
		t.Errorf("info message written %d times, want 2. Output: %s", count, output)
	}
	if count := strings.Count(output, "module=test"); count != 3 {
		t.Errorf("module attr written %d times, want 3", count)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"invalid", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseLevel(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestJournalFields(t *testing.T) {
	fields := map[string]string{}
	addAttrToFields(fields, slog.Int("width", 640), nil)
	addAttrToFields(fields, slog.Bool("ok", true), []string{"relay"})
	addAttrToFields(fields, slog.Group("clip", "near", 0.5), nil)

	want := map[string]string{"WIDTH": "640", "RELAY_OK": "true", "CLIP_NEAR": "0.5"}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}
