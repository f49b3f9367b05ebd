package gpu

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config selects and tunes a backend.
type Config struct {
	Backend string `toml:"backend"`
	// Workers bounds host parallelism for emulating backends. 0 means GOMAXPROCS.
	Workers int `toml:"workers"`
	// MapLatency delays map completion on emulating backends.
	MapLatency time.Duration `toml:"map_latency"`
}

// Factory opens a device for a backend.
type Factory func(cfg Config) (Device, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Factory)
)

// Register makes a backend available to Open. Backends call it from init.
func Register(name string, factory Factory) error {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, exists := backends[name]; exists {
		return fmt.Errorf("%w: %s", ErrBackendRegistered, name)
	}
	backends[name] = factory
	return nil
}

// Backends lists registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context owns the process-wide device. It is created once at startup and
// handed to every component that dispatches GPU work.
type Context struct {
	device Device
	logger *slog.Logger

	closeOnce sync.Once
}

// Open creates a Context on the configured backend.
func Open(cfg Config, logger *slog.Logger) (*Context, error) {
	backendsMu.RLock()
	factory, ok := backends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, cfg.Backend, Backends())
	}

	device, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device: %w", cfg.Backend, err)
	}
	return NewContext(device, logger), nil
}

// NewContext wraps an already opened device.
func NewContext(device Device, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("GPU device ready", "device", device.Name())
	return &Context{device: device, logger: logger}
}

// Device returns the underlying device.
func (c *Context) Device() Device {
	return c.device
}

// Logger returns the context logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Close releases the device.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.device.Release()
		c.logger.Debug("GPU device released", "device", c.device.Name())
	})
}
