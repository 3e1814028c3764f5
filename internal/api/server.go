// internal/api/server.go

// Package api exposes the trip planner over HTTP: submitting a request
// runs a full wait cycle; the remaining endpoints read back generated
// plans in normalized form.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "trip-planner/internal/common/errors"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/common/validation"
	"trip-planner/internal/models"
	"trip-planner/internal/trip/normalize"
	"trip-planner/internal/trip/wait"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PlanReader is the read surface the API needs from the plan store.
type PlanReader interface {
	GetByID(ctx context.Context, id int64) (*models.GeneratedPlanRecord, error)
	Latest(ctx context.Context) (*models.GeneratedPlanRecord, error)
	List(ctx context.Context, limit int) ([]models.GeneratedPlanRecord, error)
}

// CycleRunner runs one submission wait cycle to its terminal outcome.
type CycleRunner interface {
	Run(ctx context.Context, req models.TripRequest) wait.Outcome
}

// CycleFactory builds a fresh cycle per request; cycles are single-use.
type CycleFactory func() CycleRunner

type Server struct {
	plans    PlanReader
	newCycle CycleFactory
	logger   logger.Logger
}

func NewServer(plans PlanReader, newCycle CycleFactory, log logger.Logger) *Server {
	return &Server{
		plans:    plans,
		newCycle: newCycle,
		logger:   log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Router assembles the chi router with the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/trips", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/latest", s.handleLatest)
		r.Get("/{id}", s.handleGet)
	})

	return r
}

// planResponse is a stored record with its normalized plan attached.
type planResponse struct {
	ID          int64                     `json:"id"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Plan        models.NormalizedTripPlan `json:"plan"`
	Diagnostics planDiagnostics           `json:"diagnostics"`
}

// planDiagnostics surfaces how the stored payload was interpreted. The
// raw payload stays out of the response; callers who need it read the
// record directly.
type planDiagnostics struct {
	Shape      string `json:"shape"`
	ParseError string `json:"parseError,omitempty"`
}

// submitResponse reports the wait cycle's terminal outcome.
type submitResponse struct {
	State  string                     `json:"state"`
	Source string                     `json:"source,omitempty"`
	Plan   *models.NormalizedTripPlan `json:"plan,omitempty"`
	PlanID int64                      `json:"planId,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit validates the request, runs a wait cycle and returns its
// single terminal outcome. A timeout is not an error status: the client
// decides whether to retry or show what it has.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.NewValidationFailedError("request body must be JSON"))
		return
	}

	if err := validation.ValidateTripRequest(doc); err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.NewValidationFailedError(err.Error()))
		return
	}

	req := tripRequestFromDoc(doc)
	outcome := s.newCycle().Run(r.Context(), req)

	switch outcome.State {
	case wait.StateDone:
		resp := submitResponse{State: string(outcome.State), Source: string(outcome.Source)}
		if outcome.Result != nil {
			resp.Plan = &outcome.Result.Plan
		}
		if outcome.Record != nil {
			resp.PlanID = outcome.Record.ID
		}
		writeJSON(w, http.StatusOK, resp)

	case wait.StateTimedOut:
		writeJSON(w, http.StatusOK, submitResponse{
			State:  string(outcome.State),
			Source: string(outcome.Source),
		})

	default:
		s.logger.WithError(outcome.Err).Error("wait cycle failed", nil)
		status := http.StatusBadGateway
		if !apperrors.IsRetryable(outcome.Err) {
			status = http.StatusInternalServerError
		}
		s.writeError(w, status, outcome.Err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	records, err := s.plans.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	responses := make([]planResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toPlanResponse(record))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	record, err := s.plans.Latest(r.Context())
	if err != nil {
		s.writePlanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(*record))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.NewValidationFailedError("id must be an integer"))
		return
	}

	record, err := s.plans.GetByID(r.Context(), id)
	if err != nil {
		s.writePlanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(*record))
}

func (s *Server) writePlanError(w http.ResponseWriter, err error) {
	if apperrors.HasCode(err, apperrors.ErrCodeRecordNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusBadGateway, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	var resp errorResponse
	if stdErr, ok := err.(*apperrors.StandardError); ok {
		resp.Error.Code = string(stdErr.Code)
		resp.Error.Message = stdErr.Message
		resp.Error.Retryable = stdErr.Retryable
	} else if err != nil {
		resp.Error.Code = "INTERNAL"
		resp.Error.Message = err.Error()
	} else {
		resp.Error.Code = "INTERNAL"
		resp.Error.Message = "unknown error"
	}
	writeJSON(w, status, resp)
}

// toPlanResponse normalizes the stored response and folds in a row-level
// image URL when the payload itself did not carry one.
func toPlanResponse(record models.GeneratedPlanRecord) planResponse {
	result := normalize.Normalize(record.Response)
	if result.Plan.ImageURL == "" && record.ImageURL != nil {
		result.Plan.ImageURL = normalize.StripQuotes(*record.ImageURL)
	}
	resp := planResponse{
		ID:        record.ID,
		CreatedAt: record.CreatedAt,
		Plan:      result.Plan,
	}
	resp.Diagnostics.Shape = string(result.Diagnostics.Shape)
	resp.Diagnostics.ParseError = result.Diagnostics.ParseError
	return resp
}

func tripRequestFromDoc(doc map[string]interface{}) models.TripRequest {
	req := models.TripRequest{}
	if v, ok := doc["destination"].(string); ok {
		req.Destination = v
	}
	if v, ok := doc["startDate"].(string); ok {
		req.StartDate = v
	}
	if v, ok := doc["endDate"].(string); ok {
		req.EndDate = v
	}
	if v, ok := doc["style"].(string); ok {
		req.Style = models.TripStyle(v)
	}
	if v, ok := doc["budget"].(float64); ok {
		req.Budget = v
	}
	if v, ok := doc["extraRequests"].(string); ok {
		req.ExtraRequests = v
	}
	return req
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
