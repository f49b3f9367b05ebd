package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/relay"
)

// Manager follows relay state and mirrors it on one LED.
type Manager struct {
	controller Controller
	name       string
	eventBus   *events.Bus
	logger     *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	pattern     string
}

// NewManager creates a tally manager driving the LED called name.
func NewManager(controller Controller, name string, eventBus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		controller: controller,
		name:       name,
		eventBus:   eventBus,
		logger:     logger.With("component", "tally", "led", name),
	}
}

// Start switches the LED off and begins following relay state.
func (m *Manager) Start() {
	m.apply(PatternOff)
	unsub := m.eventBus.Subscribe(func(e events.RelayStateChangedEvent) {
		m.apply(patternFor(e.State))
	})
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()
	m.logger.Info("Tally light started")
}

// Stop unsubscribes and leaves the LED off.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.apply(PatternOff)
}

// Pattern returns the pattern last applied.
func (m *Manager) Pattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern
}

func (m *Manager) apply(pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pattern == m.pattern {
		return
	}
	if err := m.controller.Set(m.name, pattern != PatternOff, pattern); err != nil {
		m.logger.Warn("Failed to set LED", "pattern", pattern, "error", err)
		return
	}
	m.pattern = pattern
	m.logger.Debug("LED updated", "pattern", pattern)
}

// patternFor maps relay states: streaming is live, waiting and error show a
// placeholder, idle means no consumer.
func patternFor(state string) string {
	switch state {
	case relay.StateStreaming.String():
		return PatternSolid
	case relay.StateWaitingForProducer.String(), relay.StateError.String():
		return PatternBlink
	default:
		return PatternOff
	}
}
