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
)

const DefaultReconcileGrace = 10 * time.Minute

type ProvisioningReport struct {
	EventID     string    `json:"event_id"`
	Name        string    `json:"name"`
	Requested   int       `json:"requested"`
	Provisioned int       `json:"provisioned"`
	StartedAt   time.Time `json:"started_at"`
	Err         error     `json:"-"`
}

// Reconciler finds events whose provisioning never finished and completes
// them. Markers younger than Grace are assumed to still be in progress.
type Reconciler struct {
	Store   store.Store
	Tickets *TicketStore
	Grace   time.Duration
	Now     func() time.Time
}

func NewReconciler(st store.Store, tickets *TicketStore, grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = DefaultReconcileGrace
	}
	return &Reconciler{Store: st, Tickets: tickets, Grace: grace, Now: time.Now}
}

// Check reports every stale provisioning marker. Each report's Err wraps
// status.ErrPartialProvisioning.
func (r *Reconciler) Check(ctx context.Context) ([]ProvisioningReport, error) {
	cutoff := r.Now().Add(-r.Grace)
	ids, err := r.Store.RangeByScore(ctx, provisioningIndex, float64(cutoff.UnixMilli()), 0)
	if err != nil {
		return nil, fmt.Errorf("reconcile check: %w", err)
	}

	reports := make([]ProvisioningReport, 0, len(ids))
	for _, id := range ids {
		record, err := r.marker(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return reports, err
		}
		provisioned, err := r.Tickets.CountProvisioned(ctx, id)
		if err != nil {
			return reports, err
		}

		reports = append(reports, ProvisioningReport{
			EventID:     id,
			Name:        record.Event.Name,
			Requested:   record.Requested,
			Provisioned: provisioned,
			StartedAt:   record.StartedAt,
			Err: fmt.Errorf("event %s: %d of %d tickets: %w",
				id, provisioned, record.Requested, status.ErrPartialProvisioning),
		})
	}
	return reports, nil
}

// Repair provisions the tickets missing for eventID and publishes it.
func (r *Reconciler) Repair(ctx context.Context, eventID string) (*ProvisioningReport, error) {
	record, err := r.marker(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no pending provisioning for %s: %w", eventID, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	provisioned, err := r.Tickets.CountProvisioned(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if missing := record.Requested - provisioned; missing > 0 {
		ids, err := r.Tickets.provision(ctx, eventID, provisioned, missing, record.Event.TicketPrice)
		provisioned += len(ids)
		if err != nil {
			return nil, fmt.Errorf("repair %s: %w", eventID, err)
		}
	}

	event := record.Event
	if err := publishEvent(ctx, r.Store, event); err != nil {
		return nil, fmt.Errorf("repair %s: %w", eventID, err)
	}

	slog.Info("Provisioning repaired", "event_id", eventID, "requested", record.Requested, "provisioned", provisioned)
	return &ProvisioningReport{
		EventID:     eventID,
		Name:        event.Name,
		Requested:   record.Requested,
		Provisioned: provisioned,
		StartedAt:   record.StartedAt,
	}, nil
}

// PendingProvisioning is the number of events not yet published.
func (r *Reconciler) PendingProvisioning(ctx context.Context) (int64, error) {
	return r.Store.Card(ctx, provisioningIndex)
}

func (r *Reconciler) marker(ctx context.Context, eventID string) (*models.ProvisioningRecord, error) {
	data, err := r.Store.Get(ctx, provisioningKey(eventID))
	if err != nil {
		return nil, err
	}
	return decode[models.ProvisioningRecord](data)
}
