package handlers

import (
	"context"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-inventory/internal/services"
	"ticket-inventory/models"
)

type IntentPublisher interface {
	PublishIntent(ctx context.Context, intent models.PurchaseIntent) (models.PurchaseIntent, error)
}

type PurchaseHandler struct {
	ledger  *services.LedgerService
	intents IntentPublisher // nil when PubNub is not configured
}

func NewPurchaseHandler(ledger *services.LedgerService, intents IntentPublisher) *PurchaseHandler {
	return &PurchaseHandler{ledger: ledger, intents: intents}
}

// SubmitIntent - POST /api/v1/purchases/intents
//
// The purchase is carried out asynchronously and the outcome is pushed to
// the user's channel.
func (h *PurchaseHandler) SubmitIntent(e *core.RequestEvent) error {
	if h.intents == nil {
		return apis.NewApiError(http.StatusServiceUnavailable, "Purchase intents are not enabled", nil)
	}

	var req models.TicketActionRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	intent, err := h.intents.PublishIntent(e.Request.Context(), models.PurchaseIntent{
		EventID:  req.EventID,
		TicketID: req.TicketID,
		UserID:   req.UserID,
	})
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusAccepted, intent)
}

func (h *PurchaseHandler) GetPurchase(e *core.RequestEvent) error {
	purchase, err := h.ledger.GetPurchase(e.Request.Context(), e.Request.PathValue("purchaseId"))
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, purchase)
}

// CancelPurchase - POST /api/v1/purchases/{purchaseId}/cancel
func (h *PurchaseHandler) CancelPurchase(e *core.RequestEvent) error {
	purchase, err := h.ledger.CancelPurchase(e.Request.Context(), e.Request.PathValue("purchaseId"))
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, purchase)
}

// ListUserPurchases - GET /api/v1/users/{userId}/purchases
func (h *PurchaseHandler) ListUserPurchases(e *core.RequestEvent) error {
	purchases, err := h.ledger.ListPurchases(e.Request.Context(), e.Request.PathValue("userId"))
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"purchases": purchases})
}
