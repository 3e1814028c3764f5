// internal/trip/listen/listener.go
package listen

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"

	"github.com/lib/pq"
)

// Channel is the NOTIFY channel a database trigger fires for every insert
// into the shared trip_plans table.
const Channel = "trip_plans_insert"

// State of a subscription. Terminal states are never left.
type State string

const (
	StateConnecting State = "connecting"
	StateSubscribed State = "subscribed"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Notifier is the slice of *pq.Listener the subscription needs. Tests swap
// in a fake; production wraps the real listener via NewPQNotifier.
type Notifier interface {
	Listen(channel string) error
	Notifications() <-chan *pq.Notification
	Close() error
}

type pqNotifier struct {
	l *pq.Listener
}

func NewPQNotifier(l *pq.Listener) Notifier {
	return &pqNotifier{l: l}
}

func (n *pqNotifier) Listen(channel string) error            { return n.l.Listen(channel) }
func (n *pqNotifier) Notifications() <-chan *pq.Notification { return n.l.Notify }
func (n *pqNotifier) Close() error                           { return n.l.Close() }

// Handler receives one inserted record. At most one delivery per insert;
// history is never replayed.
type Handler func(record models.GeneratedPlanRecord)

// ErrorHandler receives a terminal subscription failure. The caller falls
// back to polling; the subscription does not retry itself.
type ErrorHandler func(err error)

// Subscription is one logical listener on the plans channel. Constructed
// fresh per wait cycle and torn down explicitly; the handler lives behind a
// mutable cell so it can change without reopening the subscription.
type Subscription struct {
	notifier Notifier
	logger   logger.Logger

	handler   atomic.Value // Handler
	onError   ErrorHandler
	state     atomic.Value // State
	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe opens exactly one subscription on the insert channel and starts
// delivering events to onInsert. Stale subscriptions from a previous cycle
// must be closed before calling this; nothing here deduplicates them.
func Subscribe(notifier Notifier, onInsert Handler, onError ErrorHandler, log logger.Logger) (*Subscription, error) {
	s := &Subscription{
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "listener"}),
		onError:  onError,
		done:     make(chan struct{}),
	}
	s.state.Store(StateConnecting)
	s.handler.Store(onInsert)

	if err := notifier.Listen(Channel); err != nil {
		s.state.Store(StateError)
		return nil, apperrors.NewListenerError(fmt.Errorf("listen on %s: %w", Channel, err))
	}
	s.state.Store(StateSubscribed)
	s.logger.Info("subscribed to insert channel", map[string]interface{}{"channel": Channel})

	go s.deliver()
	return s, nil
}

// SetHandler swaps the delivery target without touching the underlying
// subscription. Avoids the resubscription storm a changing callback would
// otherwise cause.
func (s *Subscription) SetHandler(h Handler) {
	s.handler.Store(h)
}

// State reports the current subscription state.
func (s *Subscription) State() State {
	return s.state.Load().(State)
}

// Close tears the subscription down. Idempotent and safe from cleanup paths
// even if the subscription never reached subscribed.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.notifier.Close(); err != nil {
			s.logger.WithError(err).Warn("notifier close failed", nil)
		}
		if s.State() != StateError {
			s.state.Store(StateClosed)
		}
	})
}

func (s *Subscription) deliver() {
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.notifier.Notifications():
			if !ok {
				s.fail(apperrors.NewListenerError(fmt.Errorf("notification channel closed")))
				return
			}
			// pq sends nil after a reconnect; nothing to deliver.
			if n == nil {
				continue
			}

			record, err := parseInsertEvent(n.Extra)
			if err != nil {
				s.logger.WithError(err).Warn("dropping undecodable insert event", nil)
				continue
			}

			s.logger.Info("insert event delivered", map[string]interface{}{"planId": record.ID})
			if h, ok := s.handler.Load().(Handler); ok && h != nil {
				h(record)
			}
		}
	}
}

func (s *Subscription) fail(err error) {
	s.state.Store(StateError)
	s.logger.WithError(err).Error("subscription failed", nil)
	if s.onError != nil {
		s.onError(err)
	}
}

// insertEvent is the trigger's row_to_json payload, record under "new".
type insertEvent struct {
	New struct {
		ID          int64   `json:"id"`
		Destination *string `json:"destination"`
		Response    string  `json:"response"`
		ImageURL    *string `json:"image_url"`
		CreatedAt   string  `json:"created_at"`
	} `json:"new"`
}

func parseInsertEvent(payload string) (models.GeneratedPlanRecord, error) {
	var event insertEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.GeneratedPlanRecord{}, fmt.Errorf("decode insert payload: %w", err)
	}
	if event.New.ID == 0 && event.New.Response == "" {
		return models.GeneratedPlanRecord{}, fmt.Errorf("insert payload missing new record")
	}

	record := models.GeneratedPlanRecord{
		ID:          event.New.ID,
		Destination: event.New.Destination,
		Response:    event.New.Response,
		ImageURL:    event.New.ImageURL,
		CreatedAt:   parseEventTime(event.New.CreatedAt),
	}
	return record, nil
}

// parseEventTime tolerates the timestamp formats row_to_json emits.
func parseEventTime(raw string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999-07",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
