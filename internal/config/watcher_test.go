package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type testConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadTestConfig(path string) (testConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testConfig{}, err
	}
	var cfg testConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[testConfig]) *Watcher[testConfig] {
	t.Helper()
	opts = append([]WatcherOption[testConfig]{WithDebounce[testConfig](30 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loadTestConfig, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return w
}

func TestConfigWatcherReload(t *testing.T) {
	path := writeFile(t, "name = \"initial\"\nvalue = 1\n")
	w := startWatcher(t, path)

	received := make(chan testConfig, 4)
	w.OnReload(func(cfg testConfig) { received <- cfg })

	if err := os.WriteFile(path, []byte("name = \"updated\"\nvalue = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestConfigWatcherSeesRenamedFile(t *testing.T) {
	path := writeFile(t, "value = 1\n")
	w := startWatcher(t, path)

	received := make(chan testConfig, 4)
	w.OnReload(func(cfg testConfig) { received <- cfg })

	tmp := filepath.Join(filepath.Dir(path), ".config.toml.swp")
	if err := os.WriteFile(tmp, []byte("value = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 7 {
			t.Errorf("Value = %d, want 7", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rename over the config file was not noticed")
	}
}

func TestConfigWatcherDebounce(t *testing.T) {
	path := writeFile(t, "value = 0\n")
	w := NewConfigWatcher(path, loadTestConfig, nil, WithDebounce[testConfig](200*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	var calls atomic.Int32
	last := make(chan int, 8)
	w.OnReload(func(cfg testConfig) {
		calls.Add(1)
		last <- cfg.Value
	})

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, []byte("value = "+string(rune('0'+i))+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case v := <-last:
		if v != 5 {
			t.Errorf("debounced value = %d, want 5", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced reload")
	}
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestConfigWatcherUnsubscribeAndErrors(t *testing.T) {
	path := writeFile(t, "value = 1\n")

	errs := make(chan error, 4)
	w := startWatcher(t, path, WithErrorHandler[testConfig](func(err error) { errs <- err }))

	var removed atomic.Int32
	unsubscribe := w.OnReload(func(testConfig) { removed.Add(1) })
	kept := make(chan testConfig, 4)
	w.OnReload(func(cfg testConfig) { kept <- cfg })
	unsubscribe()

	if err := os.WriteFile(path, []byte("value = \"oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("load error not reported")
	}

	if err := os.WriteFile(path, []byte("value = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-kept:
		if cfg.Value != 2 {
			t.Errorf("Value = %d, want 2", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if removed.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
}

func TestConfigWatcherStopWithoutStart(t *testing.T) {
	w := NewConfigWatcher("unused.toml", loadTestConfig, nil)
	if err := w.Stop(); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}
