// internal/trip/wait/cycle.go

// Package wait composes submission, the realtime listener and the poller
// into one result wait cycle. Up to three detectors race to end the cycle
// (listener insert, poller match, poll timeout); a first-writer-wins latch
// makes sure exactly one terminal action happens no matter how many of
// them fire.
package wait

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/common/observability"
	"trip-planner/internal/models"
	"trip-planner/internal/trip/listen"
	"trip-planner/internal/trip/normalize"

	"github.com/google/uuid"
)

// State of one wait cycle.
type State string

const (
	StateIdle     State = "idle"
	StateSending  State = "sending"
	StateWaiting  State = "waiting"
	StateDone     State = "done"
	StateTimedOut State = "timed_out"
	StateFailed   State = "failed"
)

// Source names the detector that ended the cycle.
type Source string

const (
	SourceListener Source = "listener"
	SourcePoller   Source = "poller"
	SourceTimeout  Source = "timeout"
	SourceFailure  Source = "failure"
	SourceTeardown Source = "teardown"
)

// Outcome is the single terminal result of a cycle.
type Outcome struct {
	State  State
	Source Source
	Record *models.GeneratedPlanRecord
	Result *normalize.Result
	Err    error
}

// Submitter sends the request and hands back the correlation handle.
type Submitter interface {
	Submit(ctx context.Context, req models.TripRequest) (*models.SubmissionHandle, error)
}

// Poller blocks until a matching record, a timeout, or cancellation.
type Poller interface {
	PollUntilFound(ctx context.Context, destination string, since time.Time) (*models.GeneratedPlanRecord, error)
}

// Markers persists the last-destination correlation marker. Best effort;
// a marker failure never blocks the cycle.
type Markers interface {
	SaveLastDestination(ctx context.Context, destination string) error
}

// Subscription is the part of a live subscription the cycle manages.
type Subscription interface {
	Close()
}

// SubscribeFunc opens one subscription for the cycle. Production wraps
// listen.Subscribe; tests inject fakes.
type SubscribeFunc func(onInsert listen.Handler, onError listen.ErrorHandler) (Subscription, error)

// Config tunes one cycle.
type Config struct {
	Budget    time.Duration
	WarnAfter time.Duration
	// ProgressInterval drives OnProgress callbacks; zero disables them.
	ProgressInterval time.Duration
}

// Callbacks are optional cycle notifications. Both may be nil.
type Callbacks struct {
	// OnWarn fires once when the wait has run longer than WarnAfter.
	OnWarn func(elapsed time.Duration)
	// OnProgress reports estimated progress in percent, capped at 95 so
	// the bar never claims completion before the result lands.
	OnProgress func(percent int)
}

// Cycle is a single-use wait cycle. Construct one per submission and tear
// it down explicitly; nothing here is shared module state.
type Cycle struct {
	submitter Submitter
	poller    Poller
	markers   Markers
	subscribe SubscribeFunc
	obs       *observability.Observability
	cfg       Config
	callbacks Callbacks
	logger    logger.Logger

	state atomic.Value // State

	winner   sync.Once
	outcomes chan Outcome

	teardownOnce sync.Once
	torndown     chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	sub       Subscription
	warnTimer *time.Timer
}

func NewCycle(submitter Submitter, poller Poller, markers Markers, subscribe SubscribeFunc, obs *observability.Observability, cfg Config, callbacks Callbacks, log logger.Logger) *Cycle {
	c := &Cycle{
		submitter: submitter,
		poller:    poller,
		markers:   markers,
		subscribe: subscribe,
		obs:       obs,
		cfg:       cfg,
		callbacks: callbacks,
		logger: log.WithFields(map[string]interface{}{
			"component": "wait-cycle",
			"cycleId":   uuid.NewString(),
		}),
		outcomes:  make(chan Outcome, 1),
		torndown:  make(chan struct{}),
	}
	c.state.Store(StateIdle)
	return c
}

// State reports the cycle's current state.
func (c *Cycle) State() State {
	return c.state.Load().(State)
}

// Run executes the full cycle and blocks until a terminal outcome or
// Teardown. The returned outcome is the only one the cycle ever produces.
func (c *Cycle) Run(ctx context.Context, req models.TripRequest) Outcome {
	c.state.Store(StateSending)

	handle, err := c.submitter.Submit(ctx, req)
	if err != nil {
		// No wait is scheduled after a failed submission.
		c.state.Store(StateIdle)
		return Outcome{State: StateFailed, Source: SourceFailure, Err: err}
	}

	if c.markers != nil {
		if err := c.markers.SaveLastDestination(ctx, handle.Destination); err != nil {
			c.logger.WithError(err).Warn("destination marker not saved", nil)
		}
	}

	c.state.Store(StateWaiting)
	start := time.Now()

	waitCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.startListener(handle)
	c.startWarnTimer(start)
	go c.runProgress(waitCtx, start)
	go c.runPoller(waitCtx, handle)

	select {
	case outcome := <-c.outcomes:
		c.recordOutcome(ctx, outcome, time.Since(start))
		return outcome
	case <-c.torndown:
		// A winning detector tears down as its last step; prefer its
		// outcome over reporting an external teardown.
		select {
		case outcome := <-c.outcomes:
			c.recordOutcome(ctx, outcome, time.Since(start))
			return outcome
		default:
			c.state.Store(StateIdle)
			return Outcome{State: StateIdle, Source: SourceTeardown}
		}
	}
}

// Teardown cancels every in-flight detector and timer for this cycle:
// the subscription, the poll loop, the progress ticker and the warning
// timer. Idempotent and safe to call at any point, including before Run.
func (c *Cycle) Teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		sub := c.sub
		warn := c.warnTimer
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sub != nil {
			sub.Close()
		}
		if warn != nil {
			warn.Stop()
		}
		close(c.torndown)
	})
}

// finish is the single-winner latch. The first detector through decides
// the outcome; everything after is a no-op.
func (c *Cycle) finish(outcome Outcome) {
	select {
	case <-c.torndown:
		// The cycle was torn down externally; late detections are no-ops.
		return
	default:
	}
	c.winner.Do(func() {
		c.state.Store(outcome.State)
		// Park the outcome before tearing down so Run never observes the
		// teardown signal without the outcome being available.
		c.outcomes <- outcome
		c.Teardown()
	})
}

func (c *Cycle) startListener(handle *models.SubmissionHandle) {
	if c.subscribe == nil {
		return
	}

	onInsert := func(record models.GeneratedPlanRecord) {
		if !c.matches(handle, record) {
			c.logger.Info("ignoring unrelated insert", map[string]interface{}{"planId": record.ID})
			return
		}
		result := normalize.Normalize(record.Response)
		c.finish(Outcome{
			State:  StateDone,
			Source: SourceListener,
			Record: &record,
			Result: &result,
		})
	}
	onError := func(err error) {
		// The poller is already running; a dead channel just loses the
		// fast path.
		c.logger.WithError(err).Warn("listener failed, relying on polling", nil)
	}

	sub, err := c.subscribe(onInsert, onError)
	if err != nil {
		c.logger.WithError(err).Warn("subscription unavailable, relying on polling", nil)
		return
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// matches keeps the listener from completing on a row belonging to an
// older cycle: the row has to be at least as new as the submission, and a
// populated destination has to agree case-insensitively.
func (c *Cycle) matches(handle *models.SubmissionHandle, record models.GeneratedPlanRecord) bool {
	if !record.CreatedAt.IsZero() && record.CreatedAt.Before(handle.SubmittedAt.Add(-time.Second)) {
		return false
	}
	if record.Destination != nil && *record.Destination != "" &&
		!strings.EqualFold(*record.Destination, handle.Destination) {
		return false
	}
	return true
}

func (c *Cycle) runPoller(ctx context.Context, handle *models.SubmissionHandle) {
	record, err := c.poller.PollUntilFound(ctx, handle.Destination, handle.SubmittedAt)
	if ctx.Err() != nil {
		// Torn down or superseded; the latch already has a winner.
		return
	}
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodePollTimedOut) {
			c.finish(Outcome{State: StateTimedOut, Source: SourceTimeout, Err: err})
			return
		}
		c.finish(Outcome{State: StateFailed, Source: SourceFailure, Err: err})
		return
	}

	result := normalize.Normalize(record.Response)
	c.finish(Outcome{
		State:  StateDone,
		Source: SourcePoller,
		Record: record,
		Result: &result,
	})
}

func (c *Cycle) startWarnTimer(start time.Time) {
	if c.cfg.WarnAfter <= 0 || c.callbacks.OnWarn == nil {
		return
	}
	timer := time.AfterFunc(c.cfg.WarnAfter, func() {
		c.logger.Warn("wait is taking longer than expected", map[string]interface{}{
			"elapsed": time.Since(start).String(),
		})
		c.callbacks.OnWarn(time.Since(start))
	})

	c.mu.Lock()
	c.warnTimer = timer
	c.mu.Unlock()
}

// runProgress estimates completion against the budget. Purely cosmetic;
// it never ends the cycle.
func (c *Cycle) runProgress(ctx context.Context, start time.Time) {
	if c.cfg.ProgressInterval <= 0 || c.callbacks.OnProgress == nil || c.cfg.Budget <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percent := int(float64(time.Since(start)) / float64(c.cfg.Budget) * 100)
			if percent > 95 {
				percent = 95
			}
			c.callbacks.OnProgress(percent)
		}
	}
}

func (c *Cycle) recordOutcome(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	if c.obs == nil {
		return
	}
	c.obs.RecordWaitOutcome(ctx, string(outcome.Source), string(outcome.State))
	c.obs.RecordWaitDuration(ctx, elapsed, string(outcome.State))
}
