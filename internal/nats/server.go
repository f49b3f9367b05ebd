package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Control replies and state events are small JSON documents; frames never
// travel over NATS.
const maxPayload = 64 * 1024

// ServerOptions configures the embedded broker.
type ServerOptions struct {
	// Port to listen on. -1 picks a free port.
	Port int
	Host string
	Name string
	// ReadyTimeout bounds how long Start waits for the listener.
	ReadyTimeout time.Duration
	// Debug forwards the broker's debug lines at slog debug level.
	Debug  bool
	Logger *slog.Logger
}

// DefaultServerOptions listens on loopback at the standard client port.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Port:         4222,
		Host:         "127.0.0.1",
		Name:         "sinkcam",
		ReadyTimeout: 5 * time.Second,
	}
}

func (o ServerOptions) withDefaults() ServerOptions {
	d := DefaultServerOptions()
	if o.Port == 0 {
		o.Port = d.Port
	}
	if o.Host == "" {
		o.Host = d.Host
	}
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = d.ReadyTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ServerStats is a snapshot of broker traffic.
type ServerStats struct {
	Connections int
	InMsgs      int64
	OutMsgs     int64
}

// Server is an in-process broker for single-box deployments where the
// control CLI and the camera share a host.
type Server struct {
	opts   ServerOptions
	logger *slog.Logger
	ns     *server.Server
}

// NewServer prepares a broker. Nothing listens until Start.
func NewServer(opts ServerOptions) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "nats-server"),
	}
}

// Start listens and returns once clients can connect or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ns, err := server.NewServer(&server.Options{
		Host:           s.opts.Host,
		Port:           s.opts.Port,
		ServerName:     s.opts.Name,
		NoSigs:         true,
		MaxControlLine: 4096,
		MaxPayload:     maxPayload,
		Debug:          s.opts.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	ns.SetLogger(&serverLogger{logger: s.logger}, s.opts.Debug, false)
	go ns.Start()

	ready := make(chan bool, 1)
	go func() { ready <- ns.ReadyForConnections(s.opts.ReadyTimeout) }()
	select {
	case ok := <-ready:
		if !ok {
			ns.Shutdown()
			return fmt.Errorf("NATS server not accepting connections after %s", s.opts.ReadyTimeout)
		}
	case <-ctx.Done():
		ns.Shutdown()
		return ctx.Err()
	}

	s.ns = ns
	s.logger.Info("NATS server started", "url", s.ClientURL())
	return nil
}

// Stop shuts the broker down and waits for it to exit. It is a no-op when
// the broker is not running.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	stats := s.Stats()
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
	s.logger.Info("NATS server stopped", "in_msgs", stats.InMsgs, "out_msgs", stats.OutMsgs)
}

// ClientURL is the URL the bridge and CLI connect to. Before Start it is
// derived from the configured address.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning reports whether the broker accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}

// Stats returns current traffic counters. A stopped broker reports zeros.
func (s *Server) Stats() ServerStats {
	if s.ns == nil {
		return ServerStats{}
	}
	varz, err := s.ns.Varz(nil)
	if err != nil {
		return ServerStats{Connections: s.ns.NumClients()}
	}
	return ServerStats{
		Connections: varz.Connections,
		InMsgs:      varz.InMsgs,
		OutMsgs:     varz.OutMsgs,
	}
}

// serverLogger routes broker log lines into slog.
type serverLogger struct {
	logger *slog.Logger
}

func (l *serverLogger) Noticef(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *serverLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *serverLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level. The broker shuts itself down after a fatal
// condition, which surfaces to callers through IsRunning.
func (l *serverLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), "fatal", true)
}

func (l *serverLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *serverLogger) Tracef(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "trace", true)
}
