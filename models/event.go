package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	TotalTickets     int             `json:"total_tickets"`
	AvailableTickets int             `json:"available_tickets"` // read from the event counter
	TicketPrice      decimal.Decimal `json:"ticket_price"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ProvisioningRecord marks an event whose tickets are still being written.
// It is removed in the same batch that publishes the event.
type ProvisioningRecord struct {
	Event     Event     `json:"event"`
	Requested int       `json:"requested"`
	StartedAt time.Time `json:"started_at"`
}
