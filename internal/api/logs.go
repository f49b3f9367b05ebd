package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/sinkcam/internal/api/models"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/logging"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// PublishLogs forwards every buffered log entry to bus as a LogEntryEvent.
func PublishLogs(bus *events.Bus) {
	var seq atomic.Uint64
	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(logEvent(seq.Add(1), entry))
	})
}

func logEvent(seq uint64, entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent logs",
		Description: "Entries from the in-memory log buffer",
		Tags:        []string{"logs"},
		Errors:      []int{401},
	}, func(_ context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		resp := &models.LogsResponse{}
		resp.Body.Entries = filterLogs(logging.GetBuffer().ReadAll(), input)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log levels",
		Tags:        []string{"logs"},
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels",
		Summary:     "Set log level",
		Description: "Changes a module level, or the global level when module is empty",
		Tags:        []string{"logs"},
		Errors:      []int{400, 401, 422},
	}, func(_ context.Context, input *models.LogLevelRequest) (*models.LogLevelsResponse, error) {
		if err := logging.SetModuleLevel(input.Body.Module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest("Invalid log level", err)
		}
		s.logger.Info("Log level changed", "target", input.Body.Module, "level", input.Body.Level)
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Sends the buffered logs, then streams new entries as they are written",
		Tags:        []string{"logs"},
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		for _, entry := range logging.GetBuffer().ReadAll() {
			if err := send.Data(logEvent(0, entry)); err != nil {
				return
			}
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

func filterLogs(entries []logging.LogEntry, req *models.LogsRequest) []logging.LogEntry {
	minRank := levelRank[req.Level]
	out := make([]logging.LogEntry, 0, len(entries))
	for _, e := range entries {
		if req.Module != "" && e.Module != req.Module {
			continue
		}
		if levelRank[e.Level] < minRank {
			continue
		}
		out = append(out, e)
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out
}
