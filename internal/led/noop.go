package led

import "log/slog"

// noop is used on boards without a known LED.
type noop struct {
	logger *slog.Logger
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(name string, enabled bool, pattern string) error {
	n.logger.Debug("LED control not available", "led", name, "enabled", enabled, "pattern", pattern)
	return nil
}

func (n *noop) Available() []string {
	return []string{}
}
