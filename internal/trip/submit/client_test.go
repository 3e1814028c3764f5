// internal/trip/submit/client_test.go
package submit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"trip-planner/internal/common/config"
	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(config.WebhookConfig{URL: url, Timeout: 5000}, logger.NewTestLogger(t))
}

func validRequest() models.TripRequest {
	return models.TripRequest{
		Destination: "Lisbon",
		StartDate:   "2025-09-01",
		EndDate:     "2025-09-05",
		Style:       models.StyleUrban,
		Budget:      80,
	}
}

// ==========================
// Submit Tests
// ==========================

func TestSubmitSendsSinglePost(t *testing.T) {
	var calls int32
	var got models.SubmissionPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	handle, err := client.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "Lisbon", got.Destination)
	assert.Equal(t, "2025-09-01", got.StartDate)
	assert.Equal(t, "2025-09-05", got.EndDate)
	assert.Equal(t, models.StyleUrban, got.Style)
	assert.Equal(t, float64(80), got.Budget)
	assert.Equal(t, handle.ID, got.ID)

	sentAt, err := time.Parse(time.RFC3339, got.SubmittedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, handle.SubmittedAt, sentAt, time.Second)
}

func TestSubmitHandlePopulatedBeforeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	before := time.Now().UTC()

	handle, err := client.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "Lisbon", handle.Destination)
	assert.False(t, handle.SubmittedAt.Before(before.Add(-time.Second)))
	assert.GreaterOrEqual(t, handle.ID, int64(1))
	assert.LessOrEqual(t, handle.ID, maxSafeID)
}

func TestSubmitAccepts2xxRange(t *testing.T) {
	for _, status := range []int{200, 201, 202, 204} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client := newTestClient(t, srv.URL)
		_, err := client.Submit(context.Background(), validRequest())
		assert.NoError(t, err, "status %d should succeed", status)
		srv.Close()
	}
}

func TestSubmitNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	handle, err := client.Submit(context.Background(), validRequest())
	assert.Nil(t, handle)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionFailed))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSubmitNetworkErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := newTestClient(t, srv.URL)

	handle, err := client.Submit(context.Background(), validRequest())
	assert.Nil(t, handle)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionFailed))
}

func TestCorrelationIDsDiffer(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := newCorrelationID()
		assert.GreaterOrEqual(t, id, int64(1))
		assert.LessOrEqual(t, id, maxSafeID)
		assert.False(t, seen[id], "duplicate correlation id %d", id)
		seen[id] = true
	}
}
