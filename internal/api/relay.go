package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/sinkcam/internal/api/models"
	"github.com/smazurov/sinkcam/internal/convert"
)

const sourceAPI = "api"

func (s *Server) registerRelayRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-relay",
		Method:      http.MethodGet,
		Path:        "/api/relay",
		Summary:     "Relay status",
		Description: "State, clients and counters of the frame relay",
		Tags:        []string{"relay"},
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.RelayStatusResponse, error) {
		return &models.RelayStatusResponse{Body: s.relayStatus()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-warning",
		Method:      http.MethodPut,
		Path:        "/api/relay/warning",
		Summary:     "Set warning text",
		Description: "Replaces the text drawn on synthetic frames until cleared",
		Tags:        []string{"relay"},
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.WarningRequest) (*models.RelayStatusResponse, error) {
		s.camera.SetWarningText(input.Body.Text, sourceAPI)
		return &models.RelayStatusResponse{Body: s.relayStatus()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "clear-warning",
		Method:        http.MethodDelete,
		Path:          "/api/relay/warning",
		Summary:       "Clear warning text",
		Description:   "Restores the generated status text on synthetic frames",
		Tags:          []string{"relay"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401},
	}, func(_ context.Context, _ *struct{}) (*struct{}, error) {
		s.camera.ClearWarningText(sourceAPI)
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-depth",
		Method:      http.MethodGet,
		Path:        "/api/relay/depth",
		Summary:     "Depth clip range",
		Tags:        []string{"relay"},
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.DepthResponse, error) {
		return &models.DepthResponse{Body: depthData(s.camera.DepthParams())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-depth",
		Method:      http.MethodPut,
		Path:        "/api/relay/depth",
		Summary:     "Set depth clip range",
		Description: "Depth samples outside [clip_near, clip_far] become transparent",
		Tags:        []string{"relay"},
		Errors:      []int{400, 401, 422},
	}, func(_ context.Context, input *models.DepthRequest) (*models.DepthResponse, error) {
		p := convert.DepthParams{ClipNear: input.Body.ClipNear, ClipFar: input.Body.ClipFar}
		if err := s.camera.SetDepthParams(p, sourceAPI); err != nil {
			if errors.Is(err, convert.ErrInvalidDepthRange) {
				return nil, huma.Error400BadRequest("clip_far must be greater than clip_near", err)
			}
			return nil, huma.Error500InternalServerError("Failed to update depth range", err)
		}
		return &models.DepthResponse{Body: depthData(s.camera.DepthParams())}, nil
	})
}

func (s *Server) relayStatus() models.RelayStatusData {
	st := s.camera.Status()
	format := s.camera.Format()

	data := models.RelayStatusData{
		State:     st.State,
		Message:   st.Message,
		Active:    st.Active,
		Observers: st.Observers,
		Producers: nonNil(st.Producers),
		Consumers: nonNil(st.Consumers),
		Stats: models.RelayStats{
			Relayed:   st.Stats.Relayed,
			Synthetic: st.Stats.Synthetic,
			Skipped:   st.Stats.Skipped,
			Errors:    st.Stats.Errors,
		},
		Depth: depthData(st.Depth),
		Synthetic: models.FormatData{
			Width:  format.Width,
			Height: format.Height,
			Layout: format.Layout.String(),
		},
	}
	if st.HasWarning {
		data.WarningText = st.WarningText
	}
	return data
}

func depthData(p convert.DepthParams) models.DepthData {
	return models.DepthData{ClipNear: p.ClipNear, ClipFar: p.ClipFar}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
