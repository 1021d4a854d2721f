package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/store"
	"ticket-inventory/internal/store/memstore"
	"ticket-inventory/internal/store/redisstore"
	"ticket-inventory/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingStore counts batches that write tickets and can fail one of
// them.
type recordingStore struct {
	store.Store

	mu           sync.Mutex
	ticketBatch  []int
	failOnBatch  int // 1-based ticket batch to fail, 0 never
	beforeTicket func()
}

var errInjected = errors.New("injected write failure")

func (s *recordingStore) WriteBatch(ctx context.Context, b *store.Batch) error {
	if !writesTickets(b) {
		return s.Store.WriteBatch(ctx, b)
	}

	s.mu.Lock()
	n := len(s.ticketBatch) + 1
	s.ticketBatch = append(s.ticketBatch, b.Len())
	fail := s.failOnBatch == n
	hook := s.beforeTicket
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return errInjected
	}
	return s.Store.WriteBatch(ctx, b)
}

func (s *recordingStore) batches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ticketBatch...)
}

func writesTickets(b *store.Batch) bool {
	for _, op := range b.Ops() {
		if op.Kind == store.OpPut && strings.HasPrefix(op.Key, "ticket:") {
			return true
		}
	}
	return false
}

type engine struct {
	store       *recordingStore
	clock       *testClock
	tickets     *TicketStore
	catalog     *CatalogService
	ledger      *LedgerService
	reservation *ReservationService
	sweeper     *Sweeper
	reconciler  *Reconciler
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	return newEngineOn(t, memstore.New(store.DefaultMaxBatchSize))
}

// newRedisEngine runs the engine on redisstore backed by miniredis, so
// transitions go through WATCH and MULTI.
func newRedisEngine(t *testing.T) *engine {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
	t.Cleanup(func() { client.Close() })
	return newEngineOn(t, redisstore.New(client, store.DefaultMaxBatchSize))
}

func newEngineOn(t *testing.T, base store.Store) *engine {
	t.Helper()
	st := &recordingStore{Store: base}
	clock := newTestClock()

	tickets := NewTicketStore(st)
	tickets.Now = clock.Now
	catalog := NewCatalogService(st, tickets)
	catalog.Now = clock.Now
	ledger := NewLedgerService(st)
	ledger.Now = clock.Now
	reservation := NewReservationService(st, ledger, DefaultHoldTTL, DefaultMaxHoldTTL)
	reservation.Now = clock.Now
	sweeper := NewSweeper(st, time.Minute, 100)
	sweeper.Now = clock.Now
	reconciler := NewReconciler(st, tickets, time.Minute)
	reconciler.Now = clock.Now

	return &engine{
		store:       st,
		clock:       clock,
		tickets:     tickets,
		catalog:     catalog,
		ledger:      ledger,
		reservation: reservation,
		sweeper:     sweeper,
		reconciler:  reconciler,
	}
}

func (e *engine) eventRequest(total int) models.CreateEventRequest {
	start := e.clock.Now().Add(72 * time.Hour)
	return models.CreateEventRequest{
		Name:         "Jazz Night",
		Description:  "Late set",
		StartTime:    start,
		EndTime:      start.Add(3 * time.Hour),
		TotalTickets: total,
		TicketPrice:  decimal.RequireFromString("49.90"),
	}
}

// createEvent creates an event and returns its id with the ids of its
// tickets in provisioning order.
func (e *engine) createEvent(t *testing.T, total int) (string, []string) {
	t.Helper()
	ctx := context.Background()

	eventID, err := e.catalog.CreateEvent(ctx, e.eventRequest(total))
	require.NoError(t, err)

	tickets, err := e.tickets.ListTickets(ctx, eventID, TicketQuery{Limit: maxTicketPage})
	require.NoError(t, err)
	ids := make([]string, len(tickets))
	for i, tk := range tickets {
		ids[i] = tk.ID
	}
	return eventID, ids
}

func (e *engine) available(t *testing.T, eventID string) int {
	t.Helper()
	event, err := e.catalog.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	return event.AvailableTickets
}

func (e *engine) ticket(t *testing.T, eventID, ticketID string) *models.Ticket {
	t.Helper()
	tk, err := e.tickets.GetTicket(context.Background(), eventID, ticketID)
	require.NoError(t, err)
	return tk
}

// storedTicket reads the ticket as persisted, without the expiry view.
func (e *engine) storedTicket(t *testing.T, eventID, ticketID string) *models.Ticket {
	t.Helper()
	data, err := e.store.Get(context.Background(), ticketKey(eventID, ticketID))
	require.NoError(t, err)
	tk, err := decode[models.Ticket](data)
	require.NoError(t, err)
	return tk
}
