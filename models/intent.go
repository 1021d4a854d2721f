package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PurchaseIntent is the message carried on the purchase-intent channel.
type PurchaseIntent struct {
	EventID     string     `json:"event_id"`
	TicketID    string     `json:"ticket_id"`
	UserID      string     `json:"user_id"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

func (i PurchaseIntent) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.EventID, validation.Required),
		validation.Field(&i.TicketID, validation.Required),
		validation.Field(&i.UserID, validation.Required),
	)
}

// Stale reports whether the intent was published more than maxAge before
// now. Intents without a timestamp are never stale.
func (i PurchaseIntent) Stale(now time.Time, maxAge time.Duration) bool {
	if i.PublishedAt == nil || maxAge <= 0 {
		return false
	}
	return now.Sub(*i.PublishedAt) > maxAge
}
