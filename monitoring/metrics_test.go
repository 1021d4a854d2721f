package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/status"
)

type fakeStats struct {
	holds   int64
	pending int64
	err     error
}

func (f *fakeStats) ActiveHolds(ctx context.Context) (int64, error) {
	return f.holds, f.err
}

func (f *fakeStats) PendingProvisioning(ctx context.Context) (int64, error) {
	return f.pending, f.err
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "ok"},
		{status.Invalidf("bad ttl"), "invalid"},
		{status.ErrTicketNotFound, "not_found"},
		{fmt.Errorf("purchase: %w", status.ErrHoldExpired), "expired"},
		{status.ErrTicketContended, "conflict"},
		{errors.New("redis down"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Outcome(tt.err))
		})
	}
}

func TestTrackTransition(t *testing.T) {
	before := testutil.ToFloat64(ticketTransitions.WithLabelValues("hold", "conflict"))
	TrackTransition("hold", status.ErrTicketUnavailable, 3*time.Millisecond)
	after := testutil.ToFloat64(ticketTransitions.WithLabelValues("hold", "conflict"))

	assert.Equal(t, before+1, after)
}

func TestTrackProvisioningBatch(t *testing.T) {
	before := testutil.ToFloat64(ticketsProvisioned)
	TrackProvisioningBatch(500, nil)
	TrackProvisioningBatch(500, errors.New("write failed"))

	assert.Equal(t, before+500, testutil.ToFloat64(ticketsProvisioned))
}

func TestMonitor_Collect(t *testing.T) {
	m := NewMonitor(&fakeStats{holds: 7, pending: 2}, time.Minute)
	m.collect(context.Background())

	assert.Equal(t, float64(7), testutil.ToFloat64(activeHolds))
	assert.Equal(t, float64(2), testutil.ToFloat64(pendingProvisioning))
	assert.Greater(t, testutil.ToFloat64(goroutineCount), float64(0))
}

func TestMonitor_CollectKeepsLastValueOnError(t *testing.T) {
	m := NewMonitor(&fakeStats{holds: 3, pending: 1}, time.Minute)
	m.collect(context.Background())

	m.stats = &fakeStats{err: errors.New("store unavailable")}
	m.collect(context.Background())

	assert.Equal(t, float64(3), testutil.ToFloat64(activeHolds))
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor(&fakeStats{}, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}

func TestNewServer_ServesMetrics(t *testing.T) {
	TrackSweep(1)
	srv := NewServer("0")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ticket_holds_swept_total")
}
