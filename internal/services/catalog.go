package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
)

const (
	defaultEventPage = 10
	maxEventPage     = 100
)

type CatalogService struct {
	Store   store.Store
	Tickets *TicketStore
	Now     func() time.Time
}

func NewCatalogService(st store.Store, tickets *TicketStore) *CatalogService {
	return &CatalogService{Store: st, Tickets: tickets, Now: time.Now}
}

// CreateEvent provisions the event's tickets and only then publishes the
// event. Until publication the event is known only through its
// provisioning marker, which the reconciler uses to finish or report it.
func (s *CatalogService) CreateEvent(ctx context.Context, req models.CreateEventRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", status.Invalid(err)
	}

	now := s.Now()
	event := models.Event{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		TotalTickets: req.TotalTickets,
		TicketPrice:  req.TicketPrice,
		CreatedAt:    now,
	}

	marker := store.NewBatch()
	record := models.ProvisioningRecord{Event: event, Requested: req.TotalTickets, StartedAt: now}
	if err := putJSON(marker, provisioningKey(event.ID), record); err != nil {
		return "", err
	}
	marker.IndexAdd(provisioningIndex, event.ID, float64(now.UnixMilli()))
	if err := s.Store.WriteBatch(ctx, marker); err != nil {
		return "", fmt.Errorf("create event: write provisioning marker: %w", err)
	}

	if _, err := s.Tickets.ProvisionTickets(ctx, event.ID, event.TotalTickets, event.TicketPrice); err != nil {
		return "", fmt.Errorf("create event %s: %w", event.ID, err)
	}

	if err := publishEvent(ctx, s.Store, event); err != nil {
		return "", fmt.Errorf("create event %s: %w", event.ID, err)
	}

	slog.Info("Event created", "event_id", event.ID, "name", event.Name, "tickets", event.TotalTickets)
	return event.ID, nil
}

// publishEvent makes the event visible with available_tickets equal to
// total_tickets and clears its provisioning marker, all in one batch.
func publishEvent(ctx context.Context, st store.Store, event models.Event) error {
	event.AvailableTickets = 0

	b := store.NewBatch()
	if err := putJSON(b, eventKey(event.ID), event); err != nil {
		return err
	}
	b.Put(availableKey(event.ID), []byte(strconv.Itoa(event.TotalTickets)))
	b.IndexAdd(eventsIndex, event.ID, float64(event.StartTime.Unix()))
	b.Delete(provisioningKey(event.ID))
	b.IndexRemove(provisioningIndex, event.ID)

	if err := st.WriteBatch(ctx, b); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (s *CatalogService) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, status.Invalidf("event id is required")
	}

	data, err := s.Store.Get(ctx, eventKey(eventID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	event, err := decode[models.Event](data)
	if err != nil {
		return nil, err
	}

	available, err := s.Store.Counter(ctx, availableKey(eventID))
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	event.AvailableTickets = int(available)
	return event, nil
}

// ListEvents pages through published events by start time. The returned
// token is the id to pass as startAfter for the next page, empty on the
// last page.
func (s *CatalogService) ListEvents(ctx context.Context, startAfter string, limit int) ([]models.Event, string, error) {
	if limit < 0 {
		return nil, "", status.Invalidf("limit must not be negative")
	}
	if limit == 0 {
		limit = defaultEventPage
	}
	limit = min(limit, maxEventPage)

	var start int64
	if startAfter != "" {
		rank, err := s.Store.Rank(ctx, eventsIndex, startAfter)
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", status.Invalidf("unknown start_after %q", startAfter)
		}
		if err != nil {
			return nil, "", fmt.Errorf("list events: %w", err)
		}
		start = rank + 1
	}

	// one extra to learn whether another page exists
	ids, err := s.Store.Range(ctx, eventsIndex, start, start+int64(limit))
	if err != nil {
		return nil, "", fmt.Errorf("list events: %w", err)
	}
	next := ""
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[limit-1]
	}
	if len(ids) == 0 {
		return []models.Event{}, "", nil
	}

	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, eventKey(id), availableKey(id))
	}
	values, err := s.Store.GetMulti(ctx, keys)
	if err != nil {
		return nil, "", fmt.Errorf("list events: %w", err)
	}

	events := make([]models.Event, 0, len(ids))
	for i := range ids {
		data, counter := values[2*i], values[2*i+1]
		if data == nil {
			continue
		}
		event, err := decode[models.Event](data)
		if err != nil {
			return nil, "", err
		}
		if counter != nil {
			n, err := strconv.Atoi(string(counter))
			if err != nil {
				return nil, "", fmt.Errorf("list events: counter for %s: %w", event.ID, err)
			}
			event.AvailableTickets = n
		}
		events = append(events, *event)
	}
	return events, next, nil
}

// GetEventTickets returns a published event with a page of its tickets.
func (s *CatalogService) GetEventTickets(ctx context.Context, eventID string, q TicketQuery) (*models.Event, []models.Ticket, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	tickets, err := s.Tickets.ListTickets(ctx, eventID, q)
	if err != nil {
		return nil, nil, err
	}
	return event, tickets, nil
}
