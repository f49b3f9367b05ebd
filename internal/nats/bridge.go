package nats

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
)

// SourceNATS tags operator changes that arrived over NATS.
const SourceNATS = "nats"

// ErrEmptyWarning rejects a warning command with neither text nor clear.
var ErrEmptyWarning = errors.New("warning text is empty")

// Controller is the camera surface the bridge drives from control commands.
type Controller interface {
	SetWarningText(text, source string)
	ClearWarningText(source string)
	SetDepthParams(p convert.DepthParams, source string) error
}

// Bridge mirrors relay events onto NATS subjects and applies control
// requests received on the camera's control subjects.
type Bridge struct {
	url      string
	camera   string
	eventBus *events.Bus
	ctrl     Controller
	logger   *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	unsubs []func()
}

// NewBridge creates a bridge for camera.
func NewBridge(url, camera string, eventBus *events.Bus, ctrl Controller, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		url:      url,
		camera:   camera,
		eventBus: eventBus,
		ctrl:     ctrl,
		logger:   logger.With("component", "nats-bridge", "camera", camera),
	}
}

// Start connects, subscribes to control subjects and begins forwarding events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("sinkcam-"+b.camera),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn

	for subject, handler := range map[string]nats.MsgHandler{
		SubjectControlWarning(b.camera): b.handleWarning,
		SubjectControlDepth(b.camera):   b.handleDepth,
	} {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			b.cleanup()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		b.cleanup()
		return err
	}

	b.unsubs = append(b.unsubs,
		b.eventBus.Subscribe(func(e events.RelayStateChangedEvent) {
			b.publish(SubjectRelayState(b.camera), StateMessage{
				Camera: b.camera, State: e.State, Previous: e.Previous, Message: e.Message, Timestamp: e.Timestamp,
			})
		}),
		b.eventBus.Subscribe(func(e events.ObserversChangedEvent) {
			b.publish(SubjectObservers(b.camera), ObserversMessage{
				Camera: b.camera, Observers: e.Observers, Running: e.Running, Timestamp: e.Timestamp,
			})
		}),
		b.eventBus.Subscribe(func(e events.ClientChangedEvent) {
			b.publish(SubjectClients(b.camera), ClientMessage{
				Camera: b.camera, Role: e.Role, ClientID: e.ClientID, Action: e.Action, Layout: e.Layout, Timestamp: e.Timestamp,
			})
		}),
		b.eventBus.Subscribe(func(e events.DepthChangedEvent) {
			b.publish(SubjectDepth(b.camera), DepthMessage{
				Camera: b.camera, ClipNear: e.ClipNear, ClipFar: e.ClipFar, Source: e.Source, Timestamp: e.Timestamp,
			})
		}),
	)

	b.logger.Info("NATS bridge connected", "url", b.url)
	return nil
}

func (b *Bridge) publish(subject string, v any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Failed to marshal message", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		b.logger.Warn("Failed to publish", "subject", subject, "error", err)
	}
}

func (b *Bridge) handleWarning(msg *nats.Msg) {
	cmd, err := decode[WarningCommand](msg.Data)
	switch {
	case err != nil:
	case cmd.Clear:
		b.ctrl.ClearWarningText(SourceNATS)
	case cmd.Text == "":
		err = ErrEmptyWarning
	default:
		b.ctrl.SetWarningText(cmd.Text, SourceNATS)
	}
	b.reply(msg, err)
}

func (b *Bridge) handleDepth(msg *nats.Msg) {
	cmd, err := decode[DepthCommand](msg.Data)
	if err == nil {
		err = b.ctrl.SetDepthParams(convert.DepthParams{ClipNear: cmd.ClipNear, ClipFar: cmd.ClipFar}, SourceNATS)
	}
	b.reply(msg, err)
}

// reply answers request/reply callers. Plain publishes only get logged.
func (b *Bridge) reply(msg *nats.Msg, err error) {
	r := Reply{OK: err == nil}
	if err != nil {
		r.Error = err.Error()
		b.logger.Warn("Rejected control command", "subject", msg.Subject, "error", err)
	} else {
		b.logger.Info("Applied control command", "subject", msg.Subject)
	}
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(r)
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to reply", "subject", msg.Subject, "error", err)
	}
}

func (b *Bridge) cleanup() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop unsubscribes everything and closes the connection.
func (b *Bridge) Stop() {
	// Bus handlers take mu in publish, so drop them before locking.
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected reports whether the bridge currently has a live connection.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
