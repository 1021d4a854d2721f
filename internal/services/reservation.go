package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
)

const (
	DefaultHoldTTL    = 20 * time.Minute
	DefaultMaxHoldTTL = time.Hour
)

// ReservationService owns the ticket state machine:
//
//	Available -hold-> OnHold -purchase-> Sold
//	OnHold -release/expiry-> Available
//	Sold -cancel-> Available
//
// Every transition is a conditional commit on the ticket key. A lost race
// is reported as a conflict and never retried here.
type ReservationService struct {
	Store      store.Store
	Ledger     *LedgerService
	HoldTTL    time.Duration
	MaxHoldTTL time.Duration
	Now        func() time.Time
}

func NewReservationService(st store.Store, ledger *LedgerService, holdTTL, maxHoldTTL time.Duration) *ReservationService {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	if maxHoldTTL <= 0 {
		maxHoldTTL = DefaultMaxHoldTTL
	}
	return &ReservationService{
		Store:      st,
		Ledger:     ledger,
		HoldTTL:    holdTTL,
		MaxHoldTTL: maxHoldTTL,
		Now:        time.Now,
	}
}

func validateTicketRef(eventID, ticketID, userID string) error {
	switch {
	case eventID == "":
		return status.Invalidf("event id is required")
	case ticketID == "":
		return status.Invalidf("ticket id is required")
	case userID == "":
		return status.Invalidf("user id is required")
	}
	return nil
}

// HoldTicket places a hold for userID lasting ttl, or HoldTTL when ttl is
// zero. A hold that has already expired may be taken over.
func (s *ReservationService) HoldTicket(ctx context.Context, eventID, ticketID, userID string, ttl time.Duration) (*models.Ticket, error) {
	start := time.Now()
	t, err := s.hold(ctx, eventID, ticketID, userID, ttl)
	monitoring.TrackTransition("hold", err, time.Since(start))
	return t, err
}

func (s *ReservationService) hold(ctx context.Context, eventID, ticketID, userID string, ttl time.Duration) (*models.Ticket, error) {
	if err := validateTicketRef(eventID, ticketID, userID); err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, status.Invalidf("hold ttl must not be negative")
	}
	if ttl == 0 {
		ttl = s.HoldTTL
	}
	if ttl > s.MaxHoldTTL {
		return nil, status.Invalidf("hold ttl %s exceeds maximum %s", ttl, s.MaxHoldTTL)
	}
	if err := s.requirePublished(ctx, eventID); err != nil {
		return nil, err
	}

	var held *models.Ticket
	err := s.Store.Update(ctx, []string{ticketKey(eventID, ticketID)}, func(tx store.Tx) error {
		ticket, err := loadTicket(tx, eventID, ticketID)
		if err != nil {
			return err
		}

		now := s.Now()
		switch {
		case ticket.Status == models.TicketAvailable:
			tx.Incr(availableKey(eventID), -1)
		case ticket.HoldExpired(now):
			// takeover: the ticket stays unavailable, so the counter is unchanged
			ticket.Lapse(now)
		default:
			return status.ErrTicketUnavailable
		}

		expires := now.Add(ttl)
		ticket.Hold(userID, expires, now)
		if err := putJSON(tx, ticketKey(eventID, ticketID), ticket); err != nil {
			return err
		}
		tx.IndexAdd(holdsIndex, holdMember(eventID, ticketID), float64(expires.UnixMilli()))
		held = ticket
		return nil
	})
	if err != nil {
		return nil, transitionError("hold", ticketID, err)
	}

	slog.Info("Ticket held", "event_id", eventID, "ticket_id", ticketID, "user_id", userID, "expires_at", held.HoldExpiresAt)
	return held, nil
}

// ReleaseTicket cancels the caller's own live hold.
func (s *ReservationService) ReleaseTicket(ctx context.Context, eventID, ticketID, userID string) (*models.Ticket, error) {
	start := time.Now()
	t, err := s.release(ctx, eventID, ticketID, userID)
	monitoring.TrackTransition("release", err, time.Since(start))
	return t, err
}

func (s *ReservationService) release(ctx context.Context, eventID, ticketID, userID string) (*models.Ticket, error) {
	if err := validateTicketRef(eventID, ticketID, userID); err != nil {
		return nil, err
	}

	var released *models.Ticket
	var outcome error
	err := s.Store.Update(ctx, []string{ticketKey(eventID, ticketID)}, func(tx store.Tx) error {
		ticket, err := loadTicket(tx, eventID, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != models.TicketOnHold || ticket.HeldBy != userID {
			return status.ErrNotHolder
		}

		now := s.Now()
		if ticket.HoldExpired(now) {
			outcome = fmt.Errorf("ticket %s: %w", ticketID, status.ErrHoldExpired)
			return lapseHold(tx, ticket, now)
		}

		ticket.Release(now)
		if err := putJSON(tx, ticketKey(eventID, ticketID), ticket); err != nil {
			return err
		}
		tx.Incr(availableKey(eventID), 1)
		tx.IndexRemove(holdsIndex, holdMember(eventID, ticketID))
		released = ticket
		return nil
	})
	if err != nil {
		return nil, transitionError("release", ticketID, err)
	}
	if outcome != nil {
		return nil, outcome
	}

	slog.Info("Ticket released", "event_id", eventID, "ticket_id", ticketID, "user_id", userID)
	return released, nil
}

// PurchaseTicket converts the caller's live hold into a sale and records
// the purchase in the same commit. Repeating a completed purchase returns
// the existing record.
func (s *ReservationService) PurchaseTicket(ctx context.Context, eventID, ticketID, userID string) (*models.Purchase, error) {
	start := time.Now()
	p, err := s.purchase(ctx, eventID, ticketID, userID)
	monitoring.TrackTransition("purchase", err, time.Since(start))
	return p, err
}

func (s *ReservationService) purchase(ctx context.Context, eventID, ticketID, userID string) (*models.Purchase, error) {
	if err := validateTicketRef(eventID, ticketID, userID); err != nil {
		return nil, err
	}

	var purchase *models.Purchase
	var outcome error
	err := s.Store.Update(ctx, []string{ticketKey(eventID, ticketID)}, func(tx store.Tx) error {
		ticket, err := loadTicket(tx, eventID, ticketID)
		if err != nil {
			return err
		}

		now := s.Now()
		switch {
		case ticket.Status == models.TicketSold:
			existing, err := s.activePurchaseOf(tx, ticket, userID)
			if err != nil {
				return err
			}
			purchase = existing
			return nil

		case ticket.HoldExpired(now):
			if ticket.HeldBy == userID {
				outcome = fmt.Errorf("ticket %s: %w", ticketID, status.ErrHoldExpired)
			} else {
				outcome = status.ErrNotHolder
			}
			return lapseHold(tx, ticket, now)

		case ticket.Status == models.TicketOnHold && ticket.HeldBy == userID:
			p, err := s.Ledger.recordPurchase(tx, ticket, userID, now)
			if err != nil {
				return err
			}
			ticket.Sell(p.ID, now)
			if err := putJSON(tx, ticketKey(eventID, ticketID), ticket); err != nil {
				return err
			}
			tx.IndexRemove(holdsIndex, holdMember(eventID, ticketID))
			purchase = p
			return nil

		case ticket.LapsedHolder == userID:
			return fmt.Errorf("ticket %s: %w", ticketID, status.ErrHoldExpired)
		}
		return status.ErrNotHolder
	})
	if err != nil {
		return nil, transitionError("purchase", ticketID, err)
	}
	if outcome != nil {
		return nil, outcome
	}

	slog.Info("Ticket purchased", "event_id", eventID, "ticket_id", ticketID, "user_id", userID, "purchase_id", purchase.ID)
	return purchase, nil
}

// activePurchaseOf returns the purchase behind a sold ticket when it is
// the caller's and still active.
func (s *ReservationService) activePurchaseOf(tx store.Tx, ticket *models.Ticket, userID string) (*models.Purchase, error) {
	if ticket.PurchaseID == "" {
		return nil, status.ErrTicketUnavailable
	}
	data, err := tx.Get(purchaseKey(ticket.PurchaseID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrTicketUnavailable
	}
	if err != nil {
		return nil, err
	}
	p, err := decode[models.Purchase](data)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID || p.Status != models.PurchaseActive {
		return nil, status.ErrTicketUnavailable
	}
	return p, nil
}

// lapseHold stages the expiry of ticket's hold: back to Available with the
// counter restored and the holds index entry dropped.
func lapseHold(tx store.Tx, ticket *models.Ticket, now time.Time) error {
	ticket.Lapse(now)
	if err := putJSON(tx, ticketKey(ticket.EventID, ticket.ID), ticket); err != nil {
		return err
	}
	tx.Incr(availableKey(ticket.EventID), 1)
	tx.IndexRemove(holdsIndex, holdMember(ticket.EventID, ticket.ID))
	return nil
}

func (s *ReservationService) requirePublished(ctx context.Context, eventID string) error {
	_, err := s.Store.Get(ctx, eventKey(eventID))
	if errors.Is(err, store.ErrNotFound) {
		return status.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	return nil
}

// transitionError keeps taxonomy errors as they are and maps a lost
// commit race onto a conflict.
func transitionError(op, ticketID string, err error) error {
	switch {
	case errors.Is(err, store.ErrConflict):
		slog.Debug("Ticket transition lost race", "operation", op, "ticket_id", ticketID)
		return status.ErrTicketContended
	case errors.Is(err, status.ErrInvalidInput),
		errors.Is(err, status.ErrNotFound),
		errors.Is(err, status.ErrConflict),
		errors.Is(err, status.ErrHoldExpired):
		return err
	}
	slog.Error("Ticket transition failed", "operation", op, "ticket_id", ticketID, "error", err)
	return fmt.Errorf("%s ticket %s: %w", op, ticketID, err)
}
