package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrRejected wraps the reason a camera refused a control command.
var ErrRejected = errors.New("command rejected")

// ControlClient sends control commands to a camera's bridge and watches its
// published state. It is the operator side of Bridge.
type ControlClient struct {
	camera string
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewControlClient connects to url and targets camera.
func NewControlClient(url, camera string, logger *slog.Logger) (*ControlClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-control", "camera", camera)

	conn, err := nats.Connect(url,
		nats.Name("sinkcam-control-"+camera),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	return &ControlClient{camera: camera, conn: conn, logger: logger}, nil
}

// SetWarning overlays text on outgoing frames.
func (c *ControlClient) SetWarning(ctx context.Context, text string) error {
	return c.request(ctx, SubjectControlWarning(c.camera), WarningCommand{Text: text})
}

// ClearWarning removes the overlay text.
func (c *ControlClient) ClearWarning(ctx context.Context) error {
	return c.request(ctx, SubjectControlWarning(c.camera), WarningCommand{Clear: true})
}

// SetDepth changes the depth clip range in millimetres.
func (c *ControlClient) SetDepth(ctx context.Context, near, far uint32) error {
	return c.request(ctx, SubjectControlDepth(c.camera), DepthCommand{ClipNear: near, ClipFar: far})
}

func (c *ControlClient) request(ctx context.Context, subject string, cmd any) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	reply, err := decode[Reply](msg.Data)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return nil
}

// WatchState calls fn for every relay state transition the camera publishes.
func (c *ControlClient) WatchState(fn func(StateMessage)) error {
	sub, err := c.conn.Subscribe(SubjectRelayState(c.camera), func(msg *nats.Msg) {
		m, err := decode[StateMessage](msg.Data)
		if err != nil {
			c.logger.Warn("Failed to decode state message", "error", err)
			return
		}
		fn(m)
	})
	if err != nil {
		return err
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drops subscriptions and the connection.
func (c *ControlClient) Close() {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.mu.Unlock()
	c.conn.Close()
}
