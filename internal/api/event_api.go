package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

const maxEventBodyBytes = 1 << 20

// Deliverer applies an inbound event to the native layer and dispatches it.
type Deliverer interface {
	Deliver(ctx context.Context, env push.Envelope) error
}

// EventAPI accepts native-layer events over HTTP, for callers that cannot publish
// to the event topic.
type EventAPI struct {
	Deliverer Deliverer
	Logger    *slog.Logger
}

func NewEventAPI(deliverer Deliverer, logger *slog.Logger) *EventAPI {
	return &EventAPI{
		Deliverer: deliverer,
		Logger:    logger,
	}
}

// PostEvent handles POST /api/v1/events/{name}. The body is the payload of the
// named event.
func (api *EventAPI) PostEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	name, err := push.ParseEventName(r.PathValue("name"))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		response.WriteJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	payload, err := push.DecodePayload(name, body)
	if err != nil {
		api.Logger.Warn("PostEvent: invalid payload", "event", name, "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Deliverer.Deliver(ctx, push.Envelope{Event: name, Payload: payload}); err != nil {
		api.Logger.Error("failed to deliver event", "event", name, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "delivery failed")
		return
	}
	api.Logger.Debug("PostEvent: delivered", "event", name, "caller", caller)

	w.WriteHeader(http.StatusNoContent)
}
