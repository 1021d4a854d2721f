package models

import (
	"errors"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type CreateEventRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	TotalTickets int             `json:"total_tickets"`
	TicketPrice  decimal.Decimal `json:"ticket_price"`
}

func (r CreateEventRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.StartTime, validation.Required),
		validation.Field(&r.EndTime, validation.Required, validation.By(after(r.StartTime))),
		validation.Field(&r.TotalTickets, validation.Required, validation.Min(1)),
		validation.Field(&r.TicketPrice, validation.By(nonNegative)),
	)
}

// MaxTTLSeconds is the largest ttl_seconds that converts to a time.Duration
// without overflowing.
const MaxTTLSeconds = math.MaxInt64 / int64(time.Second)

type HoldRequest struct {
	EventID    string `json:"event_id"`
	TicketID   string `json:"ticket_id"`
	UserID     string `json:"user_id"`
	TTLSeconds int64  `json:"ttl_seconds"` // 0 means the default hold length
}

func (r HoldRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.EventID, validation.Required),
		validation.Field(&r.TicketID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.TTLSeconds, validation.Min(int64(0)), validation.Max(MaxTTLSeconds)),
	)
}

func (r HoldRequest) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// TicketActionRequest is the body of release and purchase calls.
type TicketActionRequest struct {
	EventID  string `json:"event_id"`
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
}

func (r TicketActionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.EventID, validation.Required),
		validation.Field(&r.TicketID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	)
}

func after(start time.Time) validation.RuleFunc {
	return func(value interface{}) error {
		end, _ := value.(time.Time)
		if !end.After(start) {
			return errors.New("must be after start_time")
		}
		return nil
	}
}

func nonNegative(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}
