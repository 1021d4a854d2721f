package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "Available"
	TicketOnHold    TicketStatus = "OnHold"
	TicketSold      TicketStatus = "Sold"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketAvailable, TicketOnHold, TicketSold:
		return true
	}
	return false
}

type Ticket struct {
	ID            string          `json:"id"`
	EventID       string          `json:"event_id"`
	Status        TicketStatus    `json:"status"`
	Price         decimal.Decimal `json:"price"`
	HeldBy        string          `json:"held_by,omitempty"`
	HoldExpiresAt *time.Time      `json:"hold_expires_at,omitempty"`
	PurchaseID    string          `json:"purchase_id,omitempty"`
	LapsedHolder  string          `json:"lapsed_holder,omitempty"`
	Sequence      int             `json:"sequence"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HoldExpired reports whether t is OnHold with an expiry at or before now.
func (t *Ticket) HoldExpired(now time.Time) bool {
	return t.Status == TicketOnHold && t.HoldExpiresAt != nil && !now.Before(*t.HoldExpiresAt)
}

// Hold keeps LapsedHolder so a user whose hold was taken over still learns
// that their hold expired.
func (t *Ticket) Hold(userID string, until, now time.Time) {
	t.Status = TicketOnHold
	t.HeldBy = userID
	t.HoldExpiresAt = &until
	t.UpdatedAt = now
}

// Lapse returns an OnHold ticket to Available and remembers who held it.
func (t *Ticket) Lapse(now time.Time) {
	t.LapsedHolder = t.HeldBy
	t.release(now)
}

// Release returns an OnHold ticket to Available on the holder's request.
func (t *Ticket) Release(now time.Time) {
	t.LapsedHolder = ""
	t.release(now)
}

func (t *Ticket) release(now time.Time) {
	t.Status = TicketAvailable
	t.HeldBy = ""
	t.HoldExpiresAt = nil
	t.UpdatedAt = now
}

func (t *Ticket) Sell(purchaseID string, now time.Time) {
	t.Status = TicketSold
	t.PurchaseID = purchaseID
	t.HeldBy = ""
	t.HoldExpiresAt = nil
	t.LapsedHolder = ""
	t.UpdatedAt = now
}

// Restock puts a sold ticket back on sale after its purchase is cancelled.
func (t *Ticket) Restock(now time.Time) {
	t.Status = TicketAvailable
	t.HeldBy = ""
	t.PurchaseID = ""
	t.UpdatedAt = now
}

// View is the ticket as a reader sees it at now: an expired hold reads as
// Available even before the sweeper reverts it.
func (t Ticket) View(now time.Time) Ticket {
	if t.HoldExpired(now) {
		t.Lapse(*t.HoldExpiresAt)
	}
	return t
}
