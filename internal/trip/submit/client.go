// internal/trip/submit/client.go
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"trip-planner/internal/common/config"
	apperrors "trip-planner/internal/common/errors"
	commonhttp "trip-planner/internal/common/http"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/models"
)

// maxSafeID keeps generated ids inside the range a JS runtime and a
// Postgres bigint both represent exactly (2^53 - 1).
const maxSafeID = int64(1)<<53 - 1

// Client dispatches trip requests to the external generation webhook. The
// webhook acknowledges immediately; the plan itself lands in the database
// later, so the response body here is never treated as the result.
type Client struct {
	cfg    config.WebhookConfig
	http   *commonhttp.Client
	logger logger.Logger
	now    func() time.Time
	newID  func() int64
}

func NewClient(cfg config.WebhookConfig, log logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   commonhttp.NewClient(config.GetDuration(cfg.Timeout)),
		logger: log.WithFields(map[string]interface{}{"component": "submit"}),
		now:    time.Now,
		newID:  newCorrelationID,
	}
}

// newCorrelationID draws a uniform random id from [1, 2^53-1]. A human
// typed destination string is not unique enough to correlate concurrent
// submissions, so every request carries one of these.
func newCorrelationID() int64 {
	return rand.Int63n(maxSafeID) + 1
}

// Submit sends exactly one POST with the normalized payload and returns the
// correlation handle the wait cycle keys on. The handle is fully populated
// before the request goes out so concurrent detectors see fixed values.
func (c *Client) Submit(ctx context.Context, req models.TripRequest) (*models.SubmissionHandle, error) {
	handle := &models.SubmissionHandle{
		ID:          c.newID(),
		Destination: req.Destination,
		SubmittedAt: c.now().UTC(),
	}

	payload := models.SubmissionPayload{
		Destination:   req.Destination,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Style:         req.Style,
		Budget:        req.Budget,
		ExtraRequests: req.ExtraRequests,
		SubmittedAt:   handle.SubmittedAt.Format(time.RFC3339),
		ID:            handle.ID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewSubmissionFailedError(fmt.Errorf("marshal payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewSubmissionFailedError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Info("submitting trip request", map[string]interface{}{
		"destination": req.Destination,
		"id":          handle.ID,
	})

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).Error("webhook request failed", nil)
		return nil, apperrors.NewSubmissionFailedError(err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the body is an ack, not a plan.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("webhook rejected submission", map[string]interface{}{
			"status": resp.StatusCode,
		})
		return nil, apperrors.NewSubmissionStatusError(resp.Status)
	}

	return handle, nil
}
