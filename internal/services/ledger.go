package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/utils"
)

type LedgerService struct {
	Store store.Store
	Now   func() time.Time
}

func NewLedgerService(st store.Store) *LedgerService {
	return &LedgerService{Store: st, Now: time.Now}
}

// recordPurchase stages an Active purchase for ticket inside tx. It is only
// called from the purchase transition so the ledger entry and the Sold
// ticket commit together.
func (s *LedgerService) recordPurchase(tx store.Tx, ticket *models.Ticket, userID string, now time.Time) (*models.Purchase, error) {
	code, err := utils.ConfirmationCode()
	if err != nil {
		return nil, fmt.Errorf("confirmation code: %w", err)
	}

	p := &models.Purchase{
		ID:               uuid.NewString(),
		UserID:           userID,
		EventID:          ticket.EventID,
		TicketID:         ticket.ID,
		Status:           models.PurchaseActive,
		PurchaseTime:     now,
		ConfirmationCode: code,
	}
	if err := putJSON(tx, purchaseKey(p.ID), p); err != nil {
		return nil, err
	}
	tx.IndexAdd(userPurchasesIndex(userID), p.ID, float64(now.UnixMilli()))
	return p, nil
}

func (s *LedgerService) GetPurchase(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	if purchaseID == "" {
		return nil, status.Invalidf("purchase id is required")
	}
	data, err := s.Store.Get(ctx, purchaseKey(purchaseID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return decode[models.Purchase](data)
}

// ListPurchases returns a user's purchases, newest first.
func (s *LedgerService) ListPurchases(ctx context.Context, userID string) ([]models.Purchase, error) {
	if userID == "" {
		return nil, status.Invalidf("user id is required")
	}
	ids, err := s.Store.Range(ctx, userPurchasesIndex(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[len(ids)-1-i] = purchaseKey(id)
	}
	values, err := s.Store.GetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	purchases := make([]models.Purchase, 0, len(values))
	for _, data := range values {
		if data == nil {
			continue
		}
		p, err := decode[models.Purchase](data)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, nil
}

// CancelPurchase marks the purchase Cancelled and returns its ticket to
// Available in one commit.
func (s *LedgerService) CancelPurchase(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	start := time.Now()
	p, err := s.cancel(ctx, purchaseID)
	monitoring.TrackTransition("cancel", err, time.Since(start))
	return p, err
}

func (s *LedgerService) cancel(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	current, err := s.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	pKey := purchaseKey(purchaseID)
	tKey := ticketKey(current.EventID, current.TicketID)

	var cancelled *models.Purchase
	err = s.Store.Update(ctx, []string{pKey, tKey}, func(tx store.Tx) error {
		data, err := tx.Get(pKey)
		if err != nil {
			return err
		}
		p, err := decode[models.Purchase](data)
		if err != nil {
			return err
		}
		if p.Status == models.PurchaseCancelled {
			return status.ErrAlreadyCancelled
		}

		now := s.Now()
		ticket, err := loadTicket(tx, p.EventID, p.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status == models.TicketSold && ticket.PurchaseID == p.ID {
			ticket.Restock(now)
			if err := putJSON(tx, tKey, ticket); err != nil {
				return err
			}
			tx.Incr(availableKey(p.EventID), 1)
		}

		p.Cancel(now)
		if err := putJSON(tx, pKey, p); err != nil {
			return err
		}
		cancelled = p
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, status.ErrTicketContended
	}
	if err != nil {
		return nil, fmt.Errorf("cancel purchase %s: %w", purchaseID, err)
	}

	slog.Info("Purchase cancelled", "purchase_id", purchaseID, "ticket_id", cancelled.TicketID, "user_id", cancelled.UserID)
	return cancelled, nil
}
