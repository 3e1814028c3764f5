// internal/trip/store/plans.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"
)

// DefaultPageSize keeps poll queries small; one matching row is all the
// wait cycle needs.
const DefaultPageSize = 5

// PlanStore reads the shared trip_plans table. Rows are inserted by the
// external generation pipeline; this service never writes them.
type PlanStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPlanStore(db *sql.DB, log logger.Logger) *PlanStore {
	return &PlanStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "plan-store"}),
	}
}

const planColumns = "id, destination, response, image_url, created_at"

// FindByDestinationSince returns rows created at or after since whose
// destination matches case-insensitively, newest first. Safe to run
// repeatedly; duplicate and late rows are tolerated by the caller.
func (s *PlanStore) FindByDestinationSince(ctx context.Context, destination string, since time.Time, limit int) ([]models.GeneratedPlanRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM trip_plans
		WHERE created_at >= $1 AND LOWER(destination) = LOWER($2)
		ORDER BY created_at DESC
		LIMIT $3`, planColumns), since, destination, limit)
	if err != nil {
		return nil, apperrors.NewQueryFailedError(err)
	}
	defer rows.Close()

	return scanPlans(rows)
}

// FindAnySince drops the destination filter. Degraded fallback for when the
// filtered query keeps missing; acceptable only because the table is
// effectively private per session.
func (s *PlanStore) FindAnySince(ctx context.Context, since time.Time, limit int) ([]models.GeneratedPlanRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM trip_plans
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`, planColumns), since, limit)
	if err != nil {
		return nil, apperrors.NewQueryFailedError(err)
	}
	defer rows.Close()

	return scanPlans(rows)
}

// GetByID fetches a single plan row.
func (s *PlanStore) GetByID(ctx context.Context, id int64) (*models.GeneratedPlanRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM trip_plans
		WHERE id = $1`, planColumns), id)

	record, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewRecordNotFoundError(fmt.Sprintf("plan %d", id))
		}
		return nil, apperrors.NewQueryFailedError(err)
	}
	return record, nil
}

// Latest returns the most recently created plan row, or RecordNotFound when
// the table is empty.
func (s *PlanStore) Latest(ctx context.Context) (*models.GeneratedPlanRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM trip_plans
		ORDER BY created_at DESC
		LIMIT 1`, planColumns))

	record, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewRecordNotFoundError("no plans yet")
		}
		return nil, apperrors.NewQueryFailedError(err)
	}
	return record, nil
}

// List returns recent plan rows for the list view, newest first.
func (s *PlanStore) List(ctx context.Context, limit int) ([]models.GeneratedPlanRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM trip_plans
		ORDER BY created_at DESC
		LIMIT $1`, planColumns), limit)
	if err != nil {
		return nil, apperrors.NewQueryFailedError(err)
	}
	defer rows.Close()

	return scanPlans(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*models.GeneratedPlanRecord, error) {
	var record models.GeneratedPlanRecord
	var destination, imageURL sql.NullString

	if err := row.Scan(&record.ID, &destination, &record.Response, &imageURL, &record.CreatedAt); err != nil {
		return nil, err
	}

	if destination.Valid {
		record.Destination = &destination.String
	}
	if imageURL.Valid {
		record.ImageURL = &imageURL.String
	}
	return &record, nil
}

func scanPlans(rows *sql.Rows) ([]models.GeneratedPlanRecord, error) {
	records := []models.GeneratedPlanRecord{}
	for rows.Next() {
		record, err := scanPlan(rows)
		if err != nil {
			return nil, apperrors.NewQueryFailedError(err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryFailedError(err)
	}
	return records, nil
}
