// Package streaming carries frames over websockets: producers push encoded
// frames into the camera sink, watchers receive what the relay pushes.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/metrics"
	"github.com/smazurov/sinkcam/internal/platform"
)

const (
	writeWait  = 2 * time.Second
	watchQueue = 2
)

// Camera is the virtual camera the websocket endpoints feed and read.
type Camera interface {
	AttachProducer(id string, format frame.Format) error
	DetachProducer(id string)
	Enqueue(id string, f *frame.Frame) error
	AttachConsumer(id string, layout frame.Layout, deliver platform.DeliverFunc) error
	SupportsLayout(layout frame.Layout) bool
	DetachConsumer(id string)
}

// Server serves the /ws/sink and /ws/watch endpoints.
type Server struct {
	camera   Camera
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewServer creates a websocket server for cam.
func NewServer(cam Camera, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		camera: cam,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Register adds the websocket routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/sink", s.handleSink)
	mux.HandleFunc("GET /ws/watch", s.handleWatch)
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop closes every connection and waits for the handlers to finish.
func (s *Server) Stop() {
	s.hub.Stop()
	s.wg.Wait()
	s.logger.Info("Websocket server stopped")
}

func (s *Server) handleSink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := parseFormat(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := q.Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	if err := s.camera.AttachProducer(id, format); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.camera.DetachProducer(id)
		s.logger.Warn("Websocket upgrade failed", "role", RoleProducer, "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.hub.Add(ClientInfo{
		ID:          id,
		Role:        RoleProducer,
		Layout:      format.Layout.String(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}, conn)
	connOpened(RoleProducer)
	defer func() {
		connClosed(RoleProducer)
		s.hub.Remove(id, conn)
		s.camera.DetachProducer(id)
		_ = conn.Close()
		s.logger.Info("Producer disconnected", "producer", id)
	}()
	s.logger.Info("Producer connected", "producer", id, "format", format.String(), "remote", r.RemoteAddr)

	conn.SetReadLimit(int64(HeaderSize) + int64(format.ByteSize()))
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Producer read ended", "producer", id, "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		countFrame("in", len(msg))

		got, _, pixels, err := DecodeFrame(msg)
		if err != nil {
			metrics.IncSinkDropped("decode")
			s.logger.Warn("Dropping malformed frame", "producer", id, "error", err)
			continue
		}
		// Samples are stamped on arrival so every frame shares the host clock.
		if err := s.camera.Enqueue(id, frame.New(pixels, got, frame.HostTimeNanos(), nil)); err != nil {
			if errors.Is(err, platform.ErrQueueFull) {
				s.logger.Debug("Sink queue full, frame dropped", "producer", id)
			} else {
				s.logger.Warn("Frame rejected", "producer", id, "error", err)
			}
		}
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	layout := frame.LayoutBGRA8
	if v := r.URL.Query().Get("layout"); v != "" {
		parsed, err := frame.ParseLayout(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		layout = parsed
	}
	if !s.camera.SupportsLayout(layout) {
		http.Error(w, fmt.Sprintf("layout %s is not available to watchers", layout), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "role", RoleConsumer, "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	id := uuid.NewString()
	out := make(chan []byte, watchQueue)
	done := make(chan struct{})
	deliver := func(_ context.Context, f *frame.Frame, ts uint64) error {
		select {
		case <-done:
			return platform.ErrClientDisconnected
		default:
		}
		msg := AppendFrame(make([]byte, 0, HeaderSize+len(f.Pixels)), f, ts)
		select {
		case out <- msg:
		default:
			metrics.IncSinkDropped("slow_consumer")
		}
		return nil
	}

	if err := s.camera.AttachConsumer(id, layout, deliver); err != nil {
		s.logger.Warn("Consumer rejected", "consumer", id, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	s.hub.Add(ClientInfo{
		ID:          id,
		Role:        RoleConsumer,
		Layout:      layout.String(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}, conn)
	connOpened(RoleConsumer)
	defer connClosed(RoleConsumer)
	s.logger.Info("Consumer connected", "consumer", id, "layout", layout.String(), "remote", r.RemoteAddr)

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for {
			select {
			case msg := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					s.logger.Debug("Consumer write failed", "consumer", id, "error", err)
					_ = conn.Close()
					return
				}
				countFrame("out", len(msg))
			case <-done:
				return
			}
		}
	}()

	// Watchers send nothing; reading surfaces close frames and dead peers.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(done)
	writer.Wait()
	s.camera.DetachConsumer(id)
	s.hub.Remove(id, conn)
	s.logger.Info("Consumer disconnected", "consumer", id)
}

func parseFormat(q url.Values) (frame.Format, error) {
	width, err := strconv.ParseUint(q.Get("width"), 10, 32)
	if err != nil {
		return frame.Format{}, fmt.Errorf("invalid width: %w", err)
	}
	height, err := strconv.ParseUint(q.Get("height"), 10, 32)
	if err != nil {
		return frame.Format{}, fmt.Errorf("invalid height: %w", err)
	}
	layout, err := frame.ParseLayout(q.Get("layout"))
	if err != nil {
		return frame.Format{}, err
	}
	format := frame.NewFormat(uint32(width), uint32(height), layout)
	return format, format.Validate()
}
