package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/monitoring"
)

const (
	DefaultSweepInterval  = 2 * time.Minute
	DefaultSweepBatchSize = 500
)

// Sweeper reverts expired holds so available_tickets converges even when
// nobody touches the ticket again.
type Sweeper struct {
	Store     store.Store
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

func NewSweeper(st store.Store, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &Sweeper{Store: st, Interval: interval, BatchSize: batchSize, Now: time.Now}
}

// Start sweeps every Interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	slog.Info("Hold sweeper started", "interval", s.Interval, "batch_size", s.BatchSize)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Hold sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	released, err := s.ReleaseExpiredHolds(ctx)
	if err != nil {
		slog.Error("Failed to release expired holds", "error", err, "released", released)
		return
	}
	if released > 0 {
		slog.Info("Released expired holds", "count", released)
	}
}

// ReleaseExpiredHolds reverts up to BatchSize holds whose expiry has
// passed. Tickets that changed concurrently are skipped; the next sweep or
// the next reader picks them up.
func (s *Sweeper) ReleaseExpiredHolds(ctx context.Context) (int, error) {
	now := s.Now()
	members, err := s.Store.RangeByScore(ctx, holdsIndex, float64(now.UnixMilli()), int64(s.BatchSize))
	if err != nil {
		return 0, err
	}

	released, skipped := 0, 0
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		eventID, ticketID, ok := parseHoldMember(member)
		if !ok {
			s.dropMember(ctx, member)
			continue
		}

		lapsed, err := s.releaseOne(ctx, member, eventID, ticketID, now)
		switch {
		case errors.Is(err, store.ErrConflict):
			skipped++
		case err != nil:
			monitoring.TrackSweep(released)
			return released, err
		case lapsed:
			released++
		}
	}

	monitoring.TrackSweep(released)
	if skipped > 0 {
		slog.Debug("Skipped contended holds", "count", skipped)
	}
	return released, nil
}

func (s *Sweeper) releaseOne(ctx context.Context, member, eventID, ticketID string, now time.Time) (bool, error) {
	lapsed := false
	err := s.Store.Update(ctx, []string{ticketKey(eventID, ticketID)}, func(tx store.Tx) error {
		ticket, err := loadTicket(tx, eventID, ticketID)
		if errors.Is(err, status.ErrTicketNotFound) {
			tx.IndexRemove(holdsIndex, member)
			return nil
		}
		if err != nil {
			return err
		}
		if !ticket.HoldExpired(now) {
			// sold or released without the index being cleaned up
			if ticket.HoldExpiresAt == nil {
				tx.IndexRemove(holdsIndex, member)
			}
			return nil
		}
		lapsed = true
		return lapseHold(tx, ticket, now)
	})
	return lapsed, err
}

func (s *Sweeper) dropMember(ctx context.Context, member string) {
	b := store.NewBatch()
	b.IndexRemove(holdsIndex, member)
	if err := s.Store.WriteBatch(ctx, b); err != nil {
		slog.Warn("Failed to drop malformed hold entry", "member", member, "error", err)
	}
}

// ActiveHolds is the number of holds awaiting expiry.
func (s *Sweeper) ActiveHolds(ctx context.Context) (int64, error) {
	return s.Store.Card(ctx, holdsIndex)
}
