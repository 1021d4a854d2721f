package models

import (
	"time"
)

type PurchaseStatus string

const (
	PurchaseActive    PurchaseStatus = "Active"
	PurchaseCancelled PurchaseStatus = "Cancelled"
)

type Purchase struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	EventID          string         `json:"event_id"`
	TicketID         string         `json:"ticket_id"`
	Status           PurchaseStatus `json:"status"`
	PurchaseTime     time.Time      `json:"purchase_time"`
	ConfirmationCode string         `json:"confirmation_code"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
}

func (p *Purchase) Cancel(now time.Time) {
	p.Status = PurchaseCancelled
	p.CancelledAt = &now
}

// PurchaseNotification is pushed to the buyer's channel once an intent has
// been processed.
type PurchaseNotification struct {
	Type       string    `json:"type"` // purchase_completed, purchase_failed
	EventID    string    `json:"event_id"`
	TicketID   string    `json:"ticket_id"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
