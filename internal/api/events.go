package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/sinkcam/internal/events"
)

// registerSSERoutes registers the relay event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Relay state, observer, client, depth and warning changes. The current relay state is sent first.",
		Tags:        []string{"events"},
		Errors:      []int{401},
	}, map[string]any{
		"relay-state-changed":  events.RelayStateChangedEvent{},
		"observers-changed":    events.ObserversChangedEvent{},
		"client-changed":       events.ClientChangedEvent{},
		"depth-changed":        events.DepthChangedEvent{},
		"warning-text-changed": events.WarningTextChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribe := events.RelayEvents(s.eventBus, eventCh)
		defer func() {
			if dropped := unsubscribe(); dropped > 0 {
				s.logger.Debug("SSE client missed events", "dropped", dropped)
			}
		}()

		st := s.camera.Status()
		if err := send.Data(events.RelayStateChangedEvent{
			State:     st.State,
			Previous:  st.State,
			Message:   st.Message,
			Timestamp: events.Now(),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
