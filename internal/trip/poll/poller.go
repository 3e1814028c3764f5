// internal/trip/poll/poller.go
package poll

import (
	"context"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"
)

// Store is the read surface the poller needs from the plans table.
type Store interface {
	FindByDestinationSince(ctx context.Context, destination string, since time.Time, limit int) ([]models.GeneratedPlanRecord, error)
	FindAnySince(ctx context.Context, since time.Time, limit int) ([]models.GeneratedPlanRecord, error)
}

// Options tunes one polling run.
type Options struct {
	Interval time.Duration // time between queries
	Budget   time.Duration // give up after this much elapsed time
	// BroadenAfter is the number of consecutive filtered misses before the
	// destination filter is dropped and any recent row is accepted. Zero
	// disables broadening.
	BroadenAfter int
	PageSize     int
}

// Poller repeatedly queries the plans table until a matching record shows
// up or the budget runs out. Fallback path for when the realtime listener
// is slow or broken; primary path when no listener is available.
type Poller struct {
	store  Store
	opts   Options
	logger logger.Logger
}

func New(store Store, opts Options, log logger.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 1500 * time.Millisecond
	}
	if opts.Budget <= 0 {
		opts.Budget = 60 * time.Second
	}
	return &Poller{
		store:  store,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "poller"}),
	}
}

// PollUntilFound blocks until a record created at or after since matches
// the destination (case-insensitive, handled by the store), the budget
// elapses, or ctx is cancelled. The loop exits before the record is handed
// back, so no further queries run once a match is found. Cancelling ctx is
// always safe, including mid-query and after return.
func (p *Poller) PollUntilFound(ctx context.Context, destination string, since time.Time) (*models.GeneratedPlanRecord, error) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	budget := time.NewTimer(p.opts.Budget)
	defer budget.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-budget.C:
			p.logger.Warn("poll budget exhausted", map[string]interface{}{
				"budget": p.opts.Budget.String(),
				"misses": misses,
			})
			return nil, apperrors.NewPollTimedOutError(p.opts.Budget)

		case <-ticker.C:
			record, err := p.query(ctx, destination, since, misses)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// Reads are idempotent; a transient failure just costs a tick.
				p.logger.WithError(err).Warn("poll query failed", nil)
				misses++
				continue
			}
			if record != nil {
				p.logger.Info("matching plan found", map[string]interface{}{
					"planId": record.ID,
					"misses": misses,
				})
				return record, nil
			}
			misses++
		}
	}
}

// query runs one poll attempt, broadening past the destination filter once
// enough filtered attempts came up empty.
func (p *Poller) query(ctx context.Context, destination string, since time.Time, misses int) (*models.GeneratedPlanRecord, error) {
	broaden := destination == "" || (p.opts.BroadenAfter > 0 && misses >= p.opts.BroadenAfter)

	var (
		records []models.GeneratedPlanRecord
		err     error
	)
	if broaden {
		records, err = p.store.FindAnySince(ctx, since, p.opts.PageSize)
	} else {
		records, err = p.store.FindByDestinationSince(ctx, destination, since, p.opts.PageSize)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	// Newest first from the store; spurious extra rows are ignored.
	return &records[0], nil
}
