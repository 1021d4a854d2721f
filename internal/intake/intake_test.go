package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/services"
	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/internal/store/memstore"
	"ticket-inventory/models"
	"ticket-inventory/utils"
)

type sent struct {
	channel string
	message any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (s *fakeSender) Send(_ context.Context, channel string, message any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{channel, message})
	return nil
}

func (s *fakeSender) messages() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

type fakePurchaser struct {
	calls []models.PurchaseIntent
	errs  []error // returned in order, then err
	err   error
}

func (p *fakePurchaser) PurchaseTicket(_ context.Context, eventID, ticketID, userID string) (*models.Purchase, error) {
	p.calls = append(p.calls, models.PurchaseIntent{EventID: eventID, TicketID: ticketID, UserID: userID})
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.err != nil {
		return nil, p.err
	}
	return &models.Purchase{ID: "p-1", EventID: eventID, TicketID: ticketID, UserID: userID}, nil
}

var fixedNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func newTestConsumer(p *fakePurchaser, s *fakeSender) *Consumer {
	pub := NewPublisher(s, "purchase-intents")
	pub.Now = func() time.Time { return fixedNow }
	c := NewConsumer(p, pub, 0)
	c.Now = func() time.Time { return fixedNow }
	return c
}

func TestPublishIntent(t *testing.T) {
	s := &fakeSender{}
	pub := NewPublisher(s, "purchase-intents")
	pub.Now = func() time.Time { return fixedNow }

	intent, err := pub.PublishIntent(context.Background(), models.PurchaseIntent{EventID: "e1", TicketID: "t1", UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, intent.PublishedAt)
	assert.Equal(t, fixedNow, *intent.PublishedAt)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "purchase-intents", msgs[0].channel)
	assert.Equal(t, intent, msgs[0].message)

	_, err = pub.PublishIntent(context.Background(), models.PurchaseIntent{EventID: "e1"})
	assert.ErrorIs(t, err, status.ErrInvalidInput)
	assert.Len(t, s.messages(), 1)
}

func TestPublisher_BreakerOpensOnFailures(t *testing.T) {
	s := &fakeSender{err: errors.New("pubnub down")}
	pub := NewPublisher(s, "purchase-intents")
	intent := models.PurchaseIntent{EventID: "e1", TicketID: "t1", UserID: "u1"}

	for range utils.DefaultBreakerSettings().MinRequests {
		_, err := pub.PublishIntent(context.Background(), intent)
		require.Error(t, err)
	}

	_, err := pub.PublishIntent(context.Background(), intent)
	assert.ErrorIs(t, err, utils.ErrCircuitOpen)
}

func TestConsumerHandle_Completed(t *testing.T) {
	p := &fakePurchaser{}
	s := &fakeSender{}
	c := newTestConsumer(p, s)

	payload := `{"event_id":"e1","ticket_id":"t1","user_id":"u1"}`
	require.NoError(t, c.Handle(context.Background(), payload))

	require.Len(t, p.calls, 1)
	assert.Equal(t, "t1", p.calls[0].TicketID)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user-u1", msgs[0].channel)
	n := msgs[0].message.(models.PurchaseNotification)
	assert.Equal(t, NotificationCompleted, n.Type)
	assert.Equal(t, "p-1", n.PurchaseID)
	assert.Equal(t, "e1", n.EventID)
}

func TestConsumerHandle_PayloadShapes(t *testing.T) {
	published := fixedNow.Add(-5 * time.Second)
	raw, err := json.Marshal(models.PurchaseIntent{EventID: "e1", TicketID: "t1", UserID: "u1", PublishedAt: &published})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload any
	}{
		{"json string", string(raw)},
		{"bytes", raw},
		{"object", map[string]any{"event_id": "e1", "ticket_id": "t1", "user_id": "u1"}},
		{"struct", models.PurchaseIntent{EventID: "e1", TicketID: "t1", UserID: "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePurchaser{}
			c := newTestConsumer(p, &fakeSender{})
			require.NoError(t, c.Handle(context.Background(), tt.payload))
			assert.Len(t, p.calls, 1)
		})
	}
}

func TestConsumerHandle_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"not json", "{oops"},
		{"missing user", `{"event_id":"e1","ticket_id":"t1"}`},
		{"wrong type", 42},
		{"object missing fields", map[string]any{"event_id": "e1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePurchaser{}
			s := &fakeSender{}
			c := newTestConsumer(p, s)

			err := c.Handle(context.Background(), tt.payload)
			assert.ErrorIs(t, err, status.ErrInvalidInput)
			assert.Empty(t, p.calls)
			assert.Empty(t, s.messages())
		})
	}
}

func TestConsumerHandle_StaleIntent(t *testing.T) {
	p := &fakePurchaser{}
	s := &fakeSender{}
	c := newTestConsumer(p, s)

	old := fixedNow.Add(-time.Minute)
	err := c.Handle(context.Background(), models.PurchaseIntent{EventID: "e1", TicketID: "t1", UserID: "u1", PublishedAt: &old})
	assert.ErrorIs(t, err, ErrStaleIntent)
	assert.Empty(t, p.calls)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, NotificationFailed, msgs[0].message.(models.PurchaseNotification).Type)
}

func TestConsumerHandle_PurchaseFailure(t *testing.T) {
	p := &fakePurchaser{err: status.ErrHoldExpired}
	s := &fakeSender{}
	c := newTestConsumer(p, s)

	err := c.Handle(context.Background(), `{"event_id":"e1","ticket_id":"t1","user_id":"u1"}`)
	assert.ErrorIs(t, err, status.ErrHoldExpired)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	n := msgs[0].message.(models.PurchaseNotification)
	assert.Equal(t, NotificationFailed, n.Type)
	assert.Equal(t, "hold_expired", n.Reason)
}

func TestConsumerHandle_ContendedThenSold(t *testing.T) {
	p := &fakePurchaser{errs: []error{status.ErrTicketContended}}
	s := &fakeSender{}
	c := newTestConsumer(p, s)

	require.NoError(t, c.Handle(context.Background(), `{"event_id":"e1","ticket_id":"t1","user_id":"u1"}`))
	assert.Len(t, p.calls, 2)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	n := msgs[0].message.(models.PurchaseNotification)
	assert.Equal(t, NotificationCompleted, n.Type)
	assert.Equal(t, "p-1", n.PurchaseID)
}

func TestConsumerHandle_ContendedTwice(t *testing.T) {
	p := &fakePurchaser{err: status.ErrTicketContended}
	s := &fakeSender{}
	c := newTestConsumer(p, s)

	err := c.Handle(context.Background(), `{"event_id":"e1","ticket_id":"t1","user_id":"u1"}`)
	assert.ErrorIs(t, err, status.ErrConflict)
	assert.Len(t, p.calls, 2)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	n := msgs[0].message.(models.PurchaseNotification)
	assert.Equal(t, NotificationFailed, n.Type)
	assert.Equal(t, "conflict", n.Reason)
}

func TestConsumerHandle_SameIntentOnTwoInstances(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(store.DefaultMaxBatchSize)
	inventory := services.NewTicketStore(st)
	catalog := services.NewCatalogService(st, inventory)
	ledger := services.NewLedgerService(st)
	reservation := services.NewReservationService(st, ledger, 0, 0)

	start := time.Now().Add(24 * time.Hour)
	eventID, err := catalog.CreateEvent(ctx, models.CreateEventRequest{
		Name:         "Jazz Night",
		StartTime:    start,
		EndTime:      start.Add(2 * time.Hour),
		TotalTickets: 1,
	})
	require.NoError(t, err)
	tickets, err := inventory.ListTickets(ctx, eventID, services.TicketQuery{})
	require.NoError(t, err)
	ticketID := tickets[0].ID
	_, err = reservation.HoldTicket(ctx, eventID, ticketID, "alice", 0)
	require.NoError(t, err)

	payload := models.PurchaseIntent{EventID: eventID, TicketID: ticketID, UserID: "alice"}
	senders := []*fakeSender{{}, {}}
	var wg sync.WaitGroup
	for _, s := range senders {
		c := NewConsumer(reservation, NewPublisher(s, "purchase-intents"), 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Handle(ctx, payload))
		}()
	}
	wg.Wait()

	purchases, err := ledger.ListPurchases(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, purchases, 1)

	for _, s := range senders {
		msgs := s.messages()
		require.Len(t, msgs, 1)
		n := msgs[0].message.(models.PurchaseNotification)
		assert.Equal(t, NotificationCompleted, n.Type)
		assert.Equal(t, purchases[0].ID, n.PurchaseID)
	}
}

func TestConsumerHandle_NotifyFailureDoesNotFailIntent(t *testing.T) {
	p := &fakePurchaser{}
	c := newTestConsumer(p, &fakeSender{err: errors.New("pubnub down")})

	assert.NoError(t, c.Handle(context.Background(), `{"event_id":"e1","ticket_id":"t1","user_id":"u1"}`))
	assert.Len(t, p.calls, 1)
}

func TestConsumerRun_SkipsBadPayloads(t *testing.T) {
	p := &fakePurchaser{}
	c := newTestConsumer(p, &fakeSender{})

	msgs := make(chan any, 3)
	msgs <- "garbage"
	msgs <- `{"event_id":"e1","ticket_id":"t1","user_id":"u1"}`
	msgs <- `{"event_id":"e1","ticket_id":"t2","user_id":"u2"}`
	close(msgs)

	require.NoError(t, c.Run(context.Background(), msgs))
	require.Len(t, p.calls, 2)
	assert.Equal(t, "t2", p.calls[1].TicketID)
}

func TestConsumerRun_StopsOnCancel(t *testing.T) {
	c := newTestConsumer(&fakePurchaser{}, &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan any)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
