// internal/trip/store/markers.go
package store

import (
	"context"
	"errors"
	"time"

	"trip-planner/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

const lastDestinationKey = "trip:last-destination"

// MarkerStore keeps the small write-once-per-cycle correlation values that
// must survive a page transition: currently just the last submitted
// destination, with a TTL so stale markers do not leak into later sessions.
type MarkerStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewMarkerStore(client *redis.Client, ttl time.Duration, log logger.Logger) *MarkerStore {
	return &MarkerStore{
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "marker-store"}),
	}
}

// SaveLastDestination records the destination of the most recent submission.
func (s *MarkerStore) SaveLastDestination(ctx context.Context, destination string) error {
	if err := s.client.Set(ctx, lastDestinationKey, destination, s.ttl).Err(); err != nil {
		s.logger.WithError(err).Warn("failed to persist destination marker", nil)
		return err
	}
	return nil
}

// LastDestination returns the stored marker, or "" when none is set. A
// missing marker is not an error; correlation just falls back to timestamps.
func (s *MarkerStore) LastDestination(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, lastDestinationKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

// ClearLastDestination drops the marker, used when a wait cycle is torn down
// without a result.
func (s *MarkerStore) ClearLastDestination(ctx context.Context) error {
	return s.client.Del(ctx, lastDestinationKey).Err()
}
