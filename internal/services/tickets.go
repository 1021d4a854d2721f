package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
)

const (
	defaultTicketPage = 100
	maxTicketPage     = 1000
)

type TicketQuery struct {
	Status models.TicketStatus // empty matches every status
	Offset int
	Limit  int
}

type TicketStore struct {
	Store store.Store
	Now   func() time.Time
}

func NewTicketStore(st store.Store) *TicketStore {
	return &TicketStore{Store: st, Now: time.Now}
}

// ProvisionTickets writes count Available tickets for eventID in batches of
// at most Store.MaxBatchSize(). Each batch commits atomically; the whole
// run does not. On failure the ids of the batches already committed are
// returned with the error.
func (s *TicketStore) ProvisionTickets(ctx context.Context, eventID string, count int, price decimal.Decimal) ([]string, error) {
	return s.provision(ctx, eventID, 0, count, price)
}

func (s *TicketStore) provision(ctx context.Context, eventID string, from, count int, price decimal.Decimal) ([]string, error) {
	if eventID == "" {
		return nil, status.Invalidf("event id is required")
	}
	if count <= 0 {
		return nil, status.Invalidf("ticket count must be positive, got %d", count)
	}
	if price.IsNegative() {
		return nil, status.Invalidf("ticket price must not be negative")
	}

	size := s.Store.MaxBatchSize()
	ids := make([]string, 0, count)
	now := s.Now()

	for start := 0; start < count; start += size {
		end := min(start+size, count)

		batch := store.NewBatch()
		chunk := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			ticket := models.Ticket{
				ID:        uuid.NewString(),
				EventID:   eventID,
				Status:    models.TicketAvailable,
				Price:     price,
				Sequence:  from + i,
				UpdatedAt: now,
			}
			if err := putJSON(batch, ticketKey(eventID, ticket.ID), ticket); err != nil {
				return ids, err
			}
			batch.IndexAdd(eventTicketsIndex(eventID), ticket.ID, float64(ticket.Sequence))
			chunk = append(chunk, ticket.ID)
		}

		err := s.Store.WriteBatch(ctx, batch)
		monitoring.TrackProvisioningBatch(len(chunk), err)
		if err != nil {
			slog.Error("Ticket batch failed", "event_id", eventID, "committed", len(ids), "requested", count, "error", err)
			return ids, fmt.Errorf("provision tickets for %s after %d of %d: %w", eventID, len(ids), count, err)
		}
		ids = append(ids, chunk...)
	}

	slog.Info("Tickets provisioned", "event_id", eventID, "count", len(ids))
	return ids, nil
}

// ListTickets returns tickets in provisioning order. Expired holds are
// presented as Available.
func (s *TicketStore) ListTickets(ctx context.Context, eventID string, q TicketQuery) ([]models.Ticket, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, status.Invalidf("unknown ticket status %q", q.Status)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, status.Invalidf("offset and limit must not be negative")
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultTicketPage
	}
	limit = min(limit, maxTicketPage)

	if q.Status == "" {
		return s.page(ctx, eventID, int64(q.Offset), int64(q.Offset+limit-1))
	}

	// Status is not indexed; scan in store-sized pages and filter.
	out := make([]models.Ticket, 0, limit)
	skipped := 0
	step := int64(s.Store.MaxBatchSize())
	for start := int64(0); len(out) < limit; start += step {
		page, err := s.page(ctx, eventID, start, start+step-1)
		if err != nil {
			return nil, err
		}
		for _, t := range page {
			if t.Status != q.Status {
				continue
			}
			if skipped < q.Offset {
				skipped++
				continue
			}
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
		if int64(len(page)) < step {
			break
		}
	}
	return out, nil
}

func (s *TicketStore) page(ctx context.Context, eventID string, start, stop int64) ([]models.Ticket, error) {
	ids, err := s.Store.Range(ctx, eventTicketsIndex(eventID), start, stop)
	if err != nil {
		return nil, fmt.Errorf("list tickets for %s: %w", eventID, err)
	}
	if len(ids) == 0 {
		return []models.Ticket{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ticketKey(eventID, id)
	}
	values, err := s.Store.GetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("list tickets for %s: %w", eventID, err)
	}

	now := s.Now()
	tickets := make([]models.Ticket, 0, len(values))
	for i, data := range values {
		if data == nil {
			slog.Warn("Indexed ticket missing", "event_id", eventID, "ticket_id", ids[i])
			continue
		}
		t, err := decode[models.Ticket](data)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t.View(now))
	}
	return tickets, nil
}

func (s *TicketStore) GetTicket(ctx context.Context, eventID, ticketID string) (*models.Ticket, error) {
	data, err := s.Store.Get(ctx, ticketKey(eventID, ticketID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", ticketID, err)
	}
	t, err := decode[models.Ticket](data)
	if err != nil {
		return nil, err
	}
	view := t.View(s.Now())
	return &view, nil
}

// CountProvisioned returns how many tickets are indexed for eventID.
func (s *TicketStore) CountProvisioned(ctx context.Context, eventID string) (int, error) {
	n, err := s.Store.Card(ctx, eventTicketsIndex(eventID))
	if err != nil {
		return 0, fmt.Errorf("count tickets for %s: %w", eventID, err)
	}
	return int(n), nil
}
