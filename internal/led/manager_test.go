package led

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/sinkcam/internal/events"
)

type setCall struct {
	name    string
	enabled bool
	pattern string
}

type mockController struct {
	mu    sync.Mutex
	calls []setCall
	fail  bool
}

func (m *mockController) Set(name string, enabled bool, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("led busy")
	}
	m.calls = append(m.calls, setCall{name, enabled, pattern})
	return nil
}

func (m *mockController) Available() []string {
	return []string{"system"}
}

func (m *mockController) last() (setCall, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return setCall{}, 0
	}
	return m.calls[len(m.calls)-1], len(m.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitPattern(t *testing.T, m *Manager, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Pattern() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pattern = %q, want %q", m.Pattern(), want)
}

func TestManagerFollowsRelayState(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, "system", bus, testLogger())
	mgr.Start()

	if call, _ := ctrl.last(); call.pattern != PatternOff || call.enabled {
		t.Fatalf("Start should switch the LED off, got %+v", call)
	}

	steps := []struct {
		state string
		want  string
	}{
		{"waiting", PatternBlink},
		{"streaming", PatternSolid},
		{"error", PatternBlink},
		{"idle", PatternOff},
	}
	for _, s := range steps {
		bus.Publish(events.RelayStateChangedEvent{State: s.state, Timestamp: events.Now()})
		waitPattern(t, mgr, s.want)
	}

	if call, _ := ctrl.last(); call.name != "system" {
		t.Errorf("LED name = %q, want system", call.name)
	}

	mgr.Stop()
	if call, _ := ctrl.last(); call.pattern != PatternOff {
		t.Errorf("Stop should leave LED off, got %+v", call)
	}
}

func TestManagerSkipsRepeatedPattern(t *testing.T) {
	ctrl := &mockController{}
	mgr := NewManager(ctrl, "system", events.New(), testLogger())

	mgr.apply(PatternSolid)
	mgr.apply(PatternSolid)
	if _, n := ctrl.last(); n != 1 {
		t.Errorf("expected 1 Set call, got %d", n)
	}
}

func TestManagerKeepsPatternOnFailure(t *testing.T) {
	ctrl := &mockController{fail: true}
	mgr := NewManager(ctrl, "system", events.New(), testLogger())

	mgr.apply(PatternBlink)
	if mgr.Pattern() != "" {
		t.Errorf("pattern should stay unset after a failed Set, got %q", mgr.Pattern())
	}
}

func TestSysfsSet(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sys_led")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	s := newSysfs(root, map[string]string{"system": "sys_led"})

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}

	tests := []struct {
		enabled    bool
		pattern    string
		trigger    string
		brightness string
	}{
		{true, PatternBlink, "heartbeat", "1"},
		{true, PatternSolid, "none", "1"},
		{true, PatternOff, "none", "0"},
		{true, "timer", "timer", "1"},
	}
	for _, tt := range tests {
		if err := s.Set("system", tt.enabled, tt.pattern); err != nil {
			t.Fatalf("Set(%q) failed: %v", tt.pattern, err)
		}
		if got := read("trigger"); got != tt.trigger {
			t.Errorf("Set(%q) trigger = %q, want %q", tt.pattern, got, tt.trigger)
		}
		if got := read("brightness"); got != tt.brightness {
			t.Errorf("Set(%q) brightness = %q, want %q", tt.pattern, got, tt.brightness)
		}
	}

	if err := s.Set("user", true, PatternSolid); err == nil {
		t.Error("expected error for unknown LED")
	}
	if got := s.Available(); len(got) != 1 || got[0] != "system" {
		t.Errorf("Available() = %v", got)
	}
}

func TestNewFallsBackToNoop(t *testing.T) {
	ctrl := New(testLogger())
	if ctrl == nil {
		t.Fatal("New() returned nil")
	}
	if ctrl.Available() == nil {
		t.Error("Available() returned nil")
	}
	if detectBoard() == "" {
		t.Error("detectBoard() returned empty string")
	}
}
