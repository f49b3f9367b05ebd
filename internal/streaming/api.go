package streaming

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// ClientListOutput is the response for listing websocket clients.
type ClientListOutput struct {
	Body struct {
		Clients []ClientInfo `json:"clients" doc:"Connected producers and consumers"`
	}
}

// DisconnectInput selects the client to drop.
type DisconnectInput struct {
	ID string `path:"id" doc:"Client identifier"`
}

// RegisterAPI registers the websocket client endpoints with the Huma API.
func RegisterAPI(api huma.API, hub *Hub) {
	// GET /api/clients - List websocket clients
	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/api/clients",
		Summary:     "List clients",
		Description: "Returns the websocket producers and consumers currently connected",
		Tags:        []string{"streaming"},
	}, func(_ context.Context, _ *struct{}) (*ClientListOutput, error) {
		out := &ClientListOutput{}
		out.Body.Clients = hub.List()
		return out, nil
	})

	// DELETE /api/clients/{id} - Drop a client
	huma.Register(api, huma.Operation{
		OperationID:   "disconnect-client",
		Method:        http.MethodDelete,
		Path:          "/api/clients/{id}",
		Summary:       "Disconnect client",
		Description:   "Closes the websocket connection of a producer or consumer",
		Tags:          []string{"streaming"},
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, input *DisconnectInput) (*struct{}, error) {
		if err := hub.Disconnect(input.ID); err != nil {
			return nil, huma.Error404NotFound("client not found", err)
		}
		return nil, nil
	})
}
