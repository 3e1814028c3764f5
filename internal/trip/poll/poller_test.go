// internal/trip/poll/poller_test.go
package poll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeStore struct {
	mu            sync.Mutex
	filteredCalls int
	anyCalls      int
	// matchAfter: filtered queries return the record once filteredCalls
	// reaches this count; 0 means never.
	matchAfter    int
	anyMatchAfter int
	queryErr      error
	record        models.GeneratedPlanRecord
}

func (f *fakeStore) FindByDestinationSince(ctx context.Context, destination string, since time.Time, limit int) ([]models.GeneratedPlanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filteredCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.matchAfter > 0 && f.filteredCalls >= f.matchAfter {
		return []models.GeneratedPlanRecord{f.record}, nil
	}
	return []models.GeneratedPlanRecord{}, nil
}

func (f *fakeStore) FindAnySince(ctx context.Context, since time.Time, limit int) ([]models.GeneratedPlanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anyCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.anyMatchAfter > 0 && f.anyCalls >= f.anyMatchAfter {
		return []models.GeneratedPlanRecord{f.record}, nil
	}
	return []models.GeneratedPlanRecord{}, nil
}

func (f *fakeStore) calls() (filtered, any int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filteredCalls, f.anyCalls
}

func testRecord(id int64) models.GeneratedPlanRecord {
	dest := "Lisbon"
	return models.GeneratedPlanRecord{
		ID:          id,
		Destination: &dest,
		Response:    `{"destination":"Lisbon"}`,
		CreatedAt:   time.Now().UTC(),
	}
}

// ==========================
// Poller Tests
// ==========================

func TestFindsMatchAndStops(t *testing.T) {
	store := &fakeStore{matchAfter: 2, record: testRecord(42)}
	p := New(store, Options{Interval: 10 * time.Millisecond, Budget: time.Second}, logger.NewTestLogger(t))

	record, err := p.PollUntilFound(context.Background(), "Lisbon", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.ID)

	filteredAtReturn, _ := store.calls()
	time.Sleep(50 * time.Millisecond)
	filteredLater, anyLater := store.calls()
	assert.Equal(t, filteredAtReturn, filteredLater, "no queries after success")
	assert.Zero(t, anyLater)
}

func TestTimesOutWithinBound(t *testing.T) {
	store := &fakeStore{} // never matches
	budget := 500 * time.Millisecond
	p := New(store, Options{Interval: 100 * time.Millisecond, Budget: budget}, logger.NewTestLogger(t))

	start := time.Now()
	record, err := p.PollUntilFound(context.Background(), "Lisbon", time.Now())
	elapsed := time.Since(start)

	assert.Nil(t, record)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePollTimedOut))
	assert.GreaterOrEqual(t, elapsed, budget)
	assert.Less(t, elapsed, budget+100*time.Millisecond)

	filteredAtReturn, _ := store.calls()
	time.Sleep(250 * time.Millisecond)
	filteredLater, _ := store.calls()
	assert.Equal(t, filteredAtReturn, filteredLater, "no queries after timeout")
}

func TestBroadensAfterConfiguredMisses(t *testing.T) {
	store := &fakeStore{anyMatchAfter: 1, record: testRecord(7)}
	p := New(store, Options{
		Interval:     10 * time.Millisecond,
		Budget:       time.Second,
		BroadenAfter: 3,
	}, logger.NewTestLogger(t))

	record, err := p.PollUntilFound(context.Background(), "Lisbon", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(7), record.ID)

	filtered, any := store.calls()
	assert.Equal(t, 3, filtered)
	assert.Equal(t, 1, any)
}

func TestNoBroadeningWhenDisabled(t *testing.T) {
	store := &fakeStore{anyMatchAfter: 1, record: testRecord(7)}
	p := New(store, Options{
		Interval: 10 * time.Millisecond,
		Budget:   100 * time.Millisecond,
	}, logger.NewTestLogger(t))

	_, err := p.PollUntilFound(context.Background(), "Lisbon", time.Now())
	require.Error(t, err)

	_, any := store.calls()
	assert.Zero(t, any, "destination filter must stay on when broadening is disabled")
}

func TestEmptyDestinationSkipsFilter(t *testing.T) {
	store := &fakeStore{anyMatchAfter: 1, record: testRecord(9)}
	p := New(store, Options{Interval: 10 * time.Millisecond, Budget: time.Second}, logger.NewTestLogger(t))

	record, err := p.PollUntilFound(context.Background(), "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(9), record.ID)

	filtered, _ := store.calls()
	assert.Zero(t, filtered)
}

func TestTransientQueryErrorsTolerated(t *testing.T) {
	store := &fakeStore{queryErr: fmt.Errorf("connection reset")}
	p := New(store, Options{Interval: 10 * time.Millisecond, Budget: 100 * time.Millisecond}, logger.NewTestLogger(t))

	_, err := p.PollUntilFound(context.Background(), "Lisbon", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePollTimedOut), "errors cost ticks, not the run")
}

func TestContextCancellationStopsPolling(t *testing.T) {
	store := &fakeStore{}
	p := New(store, Options{Interval: 10 * time.Millisecond, Budget: time.Minute}, logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.PollUntilFound(ctx, "Lisbon", time.Now())
		done <- err
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	cancel() // idempotent

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}

	filteredAtReturn, _ := store.calls()
	time.Sleep(50 * time.Millisecond)
	filteredLater, _ := store.calls()
	assert.Equal(t, filteredAtReturn, filteredLater)
}
