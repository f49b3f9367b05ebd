// Package logging provides structured logging with per-module log levels.
//
// Records go to stdout when it is connected, to the systemd journal when
// journald is reachable, and always to an in-memory ring buffer served by
// the logs API.
//
// Initialize once at startup, then ask for a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"relay": "debug",
//		},
//	})
//	logger := logging.GetLogger("relay")
//
// Levels can be changed while running with [SetModuleLevel].
//
// Journal entries carry the identifier "sinkcam" and upper-cased attribute
// fields:
//
//	journalctl -t sinkcam -f
//	journalctl -t sinkcam MODULE=relay
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	relay = "debug"
//	streaming = "warn"
package logging
