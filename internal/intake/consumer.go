package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
)

const DefaultIntentMaxAge = 30 * time.Second

const (
	NotificationCompleted = "purchase_completed"
	NotificationFailed    = "purchase_failed"
)

// Intent results, as recorded in metrics.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultStale     = "stale"
	resultMalformed = "malformed"
)

var ErrStaleIntent = errors.New("intent is older than the max age")

type Purchaser interface {
	PurchaseTicket(ctx context.Context, eventID, ticketID, userID string) (*models.Purchase, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n models.PurchaseNotification) error
}

type Consumer struct {
	purchaser Purchaser
	notifier  Notifier
	MaxAge    time.Duration
	Now       func() time.Time
}

func NewConsumer(purchaser Purchaser, notifier Notifier, maxAge time.Duration) *Consumer {
	if maxAge <= 0 {
		maxAge = DefaultIntentMaxAge
	}
	return &Consumer{purchaser: purchaser, notifier: notifier, MaxAge: maxAge, Now: time.Now}
}

// Run handles payloads until ctx is done or msgs is closed. A bad payload
// is logged and skipped.
func (c *Consumer) Run(ctx context.Context, msgs <-chan any) error {
	slog.Info("Purchase intent consumer started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Purchase intent consumer stopped")
			return nil
		case payload, ok := <-msgs:
			if !ok {
				slog.Info("Purchase intent channel closed")
				return nil
			}
			if err := c.Handle(ctx, payload); err != nil {
				slog.Warn("Purchase intent not completed", "error", err)
			}
		}
	}
}

// Handle processes a single intent payload.
func (c *Consumer) Handle(ctx context.Context, payload any) error {
	intent, err := decodeIntent(payload)
	if err != nil {
		monitoring.TrackIntent(resultMalformed)
		return err
	}

	now := c.Now()
	if intent.Stale(now, c.MaxAge) {
		monitoring.TrackIntent(resultStale)
		c.notify(ctx, intent, models.PurchaseNotification{
			Type:   NotificationFailed,
			Reason: "expired",
		})
		return fmt.Errorf("intent for ticket %s published %s: %w", intent.TicketID, intent.PublishedAt.Format(time.RFC3339), ErrStaleIntent)
	}

	purchase, err := c.purchaser.PurchaseTicket(ctx, intent.EventID, intent.TicketID, intent.UserID)
	if errors.Is(err, status.ErrTicketContended) {
		// Every instance receives the intent. The one that lost the commit
		// sees the sale on a repeat purchase and reports the same record.
		slog.Debug("Purchase intent contended, checking outcome", "user_id", intent.UserID, "ticket_id", intent.TicketID)
		purchase, err = c.purchaser.PurchaseTicket(ctx, intent.EventID, intent.TicketID, intent.UserID)
	}
	if err != nil {
		monitoring.TrackIntent(resultFailed)
		c.notify(ctx, intent, models.PurchaseNotification{
			Type:   NotificationFailed,
			Reason: failureReason(err),
		})
		return err
	}

	monitoring.TrackIntent(resultCompleted)
	c.notify(ctx, intent, models.PurchaseNotification{
		Type:       NotificationCompleted,
		PurchaseID: purchase.ID,
	})
	slog.Info("Purchase intent completed", "user_id", intent.UserID, "ticket_id", intent.TicketID, "purchase_id", purchase.ID)
	return nil
}

func (c *Consumer) notify(ctx context.Context, intent *models.PurchaseIntent, n models.PurchaseNotification) {
	n.EventID = intent.EventID
	n.TicketID = intent.TicketID
	n.Timestamp = c.Now()
	if err := c.notifier.Notify(ctx, intent.UserID, n); err != nil {
		slog.Error("Failed to notify user", "user_id", intent.UserID, "type", n.Type, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, status.ErrHoldExpired):
		return "hold_expired"
	case errors.Is(err, status.ErrNotFound):
		return "not_found"
	case errors.Is(err, status.ErrConflict):
		return "conflict"
	case errors.Is(err, status.ErrInvalidInput):
		return "invalid"
	}
	return "internal_error"
}

// decodeIntent accepts the shapes PubNub hands out: a JSON string, a
// decoded object, or raw bytes.
func decodeIntent(payload any) (*models.PurchaseIntent, error) {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, status.Invalid(err)
		}
		data = b
	case models.PurchaseIntent:
		if err := v.Validate(); err != nil {
			return nil, status.Invalid(err)
		}
		return &v, nil
	default:
		return nil, status.Invalidf("unsupported intent payload %T", payload)
	}

	var intent models.PurchaseIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, status.Invalid(err)
	}
	if err := intent.Validate(); err != nil {
		return nil, status.Invalid(err)
	}
	return &intent, nil
}
