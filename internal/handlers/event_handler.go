package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"ticket-inventory/internal/services"
	"ticket-inventory/models"
)

type EventHandler struct {
	catalog *services.CatalogService
}

func NewEventHandler(catalog *services.CatalogService) *EventHandler {
	return &EventHandler{catalog: catalog}
}

// CreateEvent - POST /api/v1/events
func (h *EventHandler) CreateEvent(e *core.RequestEvent) error {
	var req models.CreateEventRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	eventID, err := h.catalog.CreateEvent(e.Request.Context(), req)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusCreated, map[string]any{"event_id": eventID})
}

// ListEvents - GET /api/v1/events?limit&start_after
func (h *EventHandler) ListEvents(e *core.RequestEvent) error {
	limit, err := queryInt(e, "limit")
	if err != nil {
		return apiError(e, err)
	}

	events, next, err := h.catalog.ListEvents(e.Request.Context(), e.Request.URL.Query().Get("start_after"), limit)
	if err != nil {
		return apiError(e, err)
	}

	resp := map[string]any{"events": events}
	if next != "" {
		resp["next"] = next
	}
	return e.JSON(http.StatusOK, resp)
}

func (h *EventHandler) GetEvent(e *core.RequestEvent) error {
	event, err := h.catalog.GetEvent(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, event)
}

// GetEventTickets - GET /api/v1/events/{eventId}/tickets?status&offset&limit
func (h *EventHandler) GetEventTickets(e *core.RequestEvent) error {
	offset, err := queryInt(e, "offset")
	if err != nil {
		return apiError(e, err)
	}
	limit, err := queryInt(e, "limit")
	if err != nil {
		return apiError(e, err)
	}

	q := services.TicketQuery{
		Status: models.TicketStatus(e.Request.URL.Query().Get("status")),
		Offset: offset,
		Limit:  limit,
	}
	event, tickets, err := h.catalog.GetEventTickets(e.Request.Context(), e.Request.PathValue("eventId"), q)
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event":   event,
		"tickets": tickets,
	})
}
