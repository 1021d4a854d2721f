package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"ticket-inventory/internal/services"
	"ticket-inventory/models"
)

type TicketHandler struct {
	reservation *services.ReservationService
}

func NewTicketHandler(reservation *services.ReservationService) *TicketHandler {
	return &TicketHandler{reservation: reservation}
}

// HoldTicket - POST /api/v1/tickets/hold
func (h *TicketHandler) HoldTicket(e *core.RequestEvent) error {
	var req models.HoldRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	ticket, err := h.reservation.HoldTicket(e.Request.Context(), req.EventID, req.TicketID, req.UserID, req.TTL())
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, ticket)
}

// ReleaseTicket - POST /api/v1/tickets/release
func (h *TicketHandler) ReleaseTicket(e *core.RequestEvent) error {
	var req models.TicketActionRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	ticket, err := h.reservation.ReleaseTicket(e.Request.Context(), req.EventID, req.TicketID, req.UserID)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, ticket)
}

// PurchaseTicket - POST /api/v1/tickets/purchase
func (h *TicketHandler) PurchaseTicket(e *core.RequestEvent) error {
	var req models.TicketActionRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	purchase, err := h.reservation.PurchaseTicket(e.Request.Context(), req.EventID, req.TicketID, req.UserID)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, purchase)
}
