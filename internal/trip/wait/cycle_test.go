// internal/trip/wait/cycle_test.go
package wait

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"
	"trip-planner/internal/trip/listen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeSubmitter struct {
	err    error
	handle models.SubmissionHandle
}

func (f *fakeSubmitter) Submit(ctx context.Context, req models.TripRequest) (*models.SubmissionHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := f.handle
	return &h, nil
}

type fakePoller struct {
	record *models.GeneratedPlanRecord
	err    error
	delay  time.Duration
}

func (f *fakePoller) PollUntilFound(ctx context.Context, destination string, since time.Time) (*models.GeneratedPlanRecord, error) {
	var wait <-chan time.Time
	if f.delay > 0 {
		wait = time.After(f.delay)
	} else if f.record == nil && f.err == nil {
		// Neither a result nor an error configured: block until cancelled.
		<-ctx.Done()
		return nil, ctx.Err()
	} else {
		wait = time.After(time.Millisecond)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wait:
		if f.err != nil {
			return nil, f.err
		}
		return f.record, nil
	}
}

type fakeMarkers struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeMarkers) SaveLastDestination(ctx context.Context, destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, destination)
	return nil
}

type fakeSubscription struct {
	closes int32
}

func (f *fakeSubscription) Close() { atomic.AddInt32(&f.closes, 1) }

// capturingSubscriber records the insert handler so tests can fire events.
type capturingSubscriber struct {
	mu       sync.Mutex
	onInsert listen.Handler
	sub      *fakeSubscription
	err      error
}

func (c *capturingSubscriber) subscribe(onInsert listen.Handler, onError listen.ErrorHandler) (Subscription, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	c.onInsert = onInsert
	c.sub = &fakeSubscription{}
	sub := c.sub
	c.mu.Unlock()
	return sub, nil
}

func (c *capturingSubscriber) fire(record models.GeneratedPlanRecord) {
	c.mu.Lock()
	handler := c.onInsert
	c.mu.Unlock()
	if handler != nil {
		handler(record)
	}
}

func (c *capturingSubscriber) waitForHandler(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ready := c.onInsert != nil
		c.mu.Unlock()
		if ready {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("handler never captured")
}

func testHandle() models.SubmissionHandle {
	return models.SubmissionHandle{
		ID:          12345,
		Destination: "Lisbon",
		SubmittedAt: time.Now().UTC().Add(-time.Second),
	}
}

func flatRecord(id int64, destination string) models.GeneratedPlanRecord {
	dest := destination
	return models.GeneratedPlanRecord{
		ID:          id,
		Destination: &dest,
		Response:    fmt.Sprintf(`{"destination":%q,"mainPlan":[{"day":"Day 1","activity":"Walk","weather":"Sunny"}]}`, destination),
		CreatedAt:   time.Now().UTC(),
	}
}

func newTestCycle(t *testing.T, submitter Submitter, poller Poller, markers Markers, subscribe SubscribeFunc, cfg Config) *Cycle {
	t.Helper()
	return NewCycle(submitter, poller, markers, subscribe, nil, cfg, Callbacks{}, logger.NewTestLogger(t))
}

// ==========================
// Single-Winner Latch
// ==========================

func TestDuplicateDetectionsProduceOneOutcome(t *testing.T) {
	subscriber := &capturingSubscriber{}
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{}, // blocks forever
		&fakeMarkers{},
		subscriber.subscribe,
		Config{Budget: time.Minute},
	)

	outcomes := make(chan Outcome, 2)
	go func() { outcomes <- cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"}) }()

	subscriber.waitForHandler(t)
	subscriber.fire(flatRecord(1, "Lisbon"))
	subscriber.fire(flatRecord(2, "Lisbon"))

	outcome := <-outcomes
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, SourceListener, outcome.Source)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, int64(1), outcome.Record.ID, "first detection wins")

	select {
	case extra := <-outcomes:
		t.Fatalf("second outcome produced: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateDone, cycle.State())
}

func TestListenerAndPollerRaceHasOneWinner(t *testing.T) {
	subscriber := &capturingSubscriber{}
	record := flatRecord(7, "Lisbon")
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{record: &record, delay: 20 * time.Millisecond},
		&fakeMarkers{},
		subscriber.subscribe,
		Config{Budget: time.Minute},
	)

	go func() {
		subscriber.waitForHandler(t)
		subscriber.fire(flatRecord(8, "Lisbon"))
	}()

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, StateDone, outcome.State)
	assert.Contains(t, []Source{SourceListener, SourcePoller}, outcome.Source)
}

// ==========================
// Teardown Completeness
// ==========================

func TestTeardownStopsEverything(t *testing.T) {
	subscriber := &capturingSubscriber{}
	var warns, progresses int32

	cycle := NewCycle(
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{},
		&fakeMarkers{},
		subscriber.subscribe,
		nil,
		Config{Budget: time.Minute, WarnAfter: 80 * time.Millisecond, ProgressInterval: 10 * time.Millisecond},
		Callbacks{
			OnWarn:     func(time.Duration) { atomic.AddInt32(&warns, 1) },
			OnProgress: func(int) { atomic.AddInt32(&progresses, 1) },
		},
		logger.NewTestLogger(t),
	)

	outcomes := make(chan Outcome, 1)
	go func() { outcomes <- cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"}) }()

	subscriber.waitForHandler(t)
	cycle.Teardown()
	cycle.Teardown() // idempotent

	outcome := <-outcomes
	assert.Equal(t, StateIdle, outcome.State)
	assert.Equal(t, SourceTeardown, outcome.Source)

	progressAt := atomic.LoadInt32(&progresses)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, progressAt, atomic.LoadInt32(&progresses), "progress ticks after teardown")
	assert.Zero(t, atomic.LoadInt32(&warns), "warn timer fired after teardown")
	assert.Equal(t, int32(1), atomic.LoadInt32(&subscriber.sub.closes))

	// Late detector arrivals are no-ops.
	subscriber.fire(flatRecord(9, "Lisbon"))
	assert.Equal(t, StateIdle, cycle.State())
}

func TestWinnerClosesSubscription(t *testing.T) {
	subscriber := &capturingSubscriber{}
	record := flatRecord(3, "Lisbon")
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{record: &record},
		&fakeMarkers{},
		subscriber.subscribe,
		Config{Budget: time.Minute},
	)

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, int32(1), atomic.LoadInt32(&subscriber.sub.closes))
}

// ==========================
// Failure Paths
// ==========================

func TestSubmissionFailureSkipsWaiting(t *testing.T) {
	subErr := apperrors.NewSubmissionFailedError(fmt.Errorf("boom"))
	cycle := newTestCycle(t,
		&fakeSubmitter{err: subErr},
		&fakePoller{},
		&fakeMarkers{},
		nil,
		Config{Budget: time.Minute},
	)

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, SourceFailure, outcome.Source)
	assert.True(t, apperrors.HasCode(outcome.Err, apperrors.ErrCodeSubmissionFailed))
	assert.Equal(t, StateIdle, cycle.State(), "no wait cycle after failed submission")
}

func TestSubscribeFailureFallsBackToPolling(t *testing.T) {
	record := flatRecord(4, "Lisbon")
	subscriber := &capturingSubscriber{err: fmt.Errorf("channel down")}
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{record: &record},
		&fakeMarkers{},
		subscriber.subscribe,
		Config{Budget: time.Minute},
	)

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, SourcePoller, outcome.Source)
}

func TestMismatchedInsertIgnored(t *testing.T) {
	subscriber := &capturingSubscriber{}
	record := flatRecord(5, "Lisbon")
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{record: &record, delay: 50 * time.Millisecond},
		&fakeMarkers{},
		subscriber.subscribe,
		Config{Budget: time.Minute},
	)

	go func() {
		subscriber.waitForHandler(t)
		subscriber.fire(flatRecord(6, "Reykjavik")) // someone else's row
	}()

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, SourcePoller, outcome.Source)
	assert.Equal(t, int64(5), outcome.Record.ID)
}

// ==========================
// End-to-End Scenarios
// ==========================

func TestScenarioFlatResponseViaPoller(t *testing.T) {
	record := flatRecord(10, "Lisbon")
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{record: &record, delay: 20 * time.Millisecond},
		&fakeMarkers{},
		nil,
		Config{Budget: time.Minute},
	)

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	require.Equal(t, StateDone, outcome.State)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "Lisbon", outcome.Result.Plan.Destination)
	require.Len(t, outcome.Result.Plan.MainPlan, 1)
}

func TestScenarioItineraryResponseViaListener(t *testing.T) {
	subscriber := &capturingSubscriber{}
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{},
		&fakeMarkers{},
		subscriber.subscribe,
		Config{Budget: time.Minute},
	)

	dest := "Lisbon"
	itinerary := models.GeneratedPlanRecord{
		ID:          11,
		Destination: &dest,
		Response: `{"Primary Itinerary":{"notes":"Lisbon! City of light.","days":[` +
			`{"dayOfWeek":"Monday","date":"2025-09-01","morning":"Coffee.","afternoon":"Castle.","evening":"Fado."}]}}`,
		CreatedAt: time.Now().UTC(),
	}

	outcomes := make(chan Outcome, 1)
	go func() { outcomes <- cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"}) }()

	subscriber.waitForHandler(t)
	subscriber.fire(itinerary)

	outcome := <-outcomes
	require.Equal(t, StateDone, outcome.State)
	require.NotNil(t, outcome.Result)
	require.NotEmpty(t, outcome.Result.Plan.MainPlan)
	assert.Equal(t, "Coffee. Castle. Fado.", outcome.Result.Plan.MainPlan[0].Activity)
}

func TestScenarioNoRecordTimesOut(t *testing.T) {
	budget := 100 * time.Millisecond
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{err: apperrors.NewPollTimedOutError(budget), delay: budget},
		&fakeMarkers{},
		nil,
		Config{Budget: budget},
	)

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, StateTimedOut, outcome.State)
	assert.Equal(t, SourceTimeout, outcome.Source)
	assert.Equal(t, StateTimedOut, cycle.State())
}

// ==========================
// Supporting Behavior
// ==========================

func TestMarkerSavedBeforeWaiting(t *testing.T) {
	markers := &fakeMarkers{}
	record := flatRecord(12, "Lisbon")
	cycle := newTestCycle(t,
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{record: &record},
		markers,
		nil,
		Config{Budget: time.Minute},
	)

	cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})

	markers.mu.Lock()
	defer markers.mu.Unlock()
	assert.Equal(t, []string{"Lisbon"}, markers.saved)
}

func TestWarnCallbackFiresWhileStillWaiting(t *testing.T) {
	var warns int32
	cycle := NewCycle(
		&fakeSubmitter{handle: testHandle()},
		&fakePoller{err: apperrors.NewPollTimedOutError(time.Second), delay: 200 * time.Millisecond},
		&fakeMarkers{},
		nil,
		nil,
		Config{Budget: time.Second, WarnAfter: 50 * time.Millisecond},
		Callbacks{OnWarn: func(time.Duration) { atomic.AddInt32(&warns, 1) }},
		logger.NewTestLogger(t),
	)

	outcome := cycle.Run(context.Background(), models.TripRequest{Destination: "Lisbon"})
	assert.Equal(t, StateTimedOut, outcome.State)
	assert.Equal(t, int32(1), atomic.LoadInt32(&warns))
}
