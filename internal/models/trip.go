// internal/models/trip.go
package models

import "time"

// TripStyle is the fixed set of trip styles the planner understands.
type TripStyle string

const (
	StyleRelaxed   TripStyle = "relaxed"
	StyleNature    TripStyle = "nature"
	StyleUrban     TripStyle = "urban"
	StyleAdventure TripStyle = "adventure"
)

// ValidStyles lists every accepted trip style.
var ValidStyles = []TripStyle{StyleRelaxed, StyleNature, StyleUrban, StyleAdventure}

// TripRequest is a user's trip preference set. Immutable once submitted.
type TripRequest struct {
	Destination   string    `json:"destination"`
	StartDate     string    `json:"startDate"` // YYYY-MM-DD
	EndDate       string    `json:"endDate"`   // YYYY-MM-DD
	Style         TripStyle `json:"style"`
	Budget        float64   `json:"budget"` // per day, single value
	ExtraRequests string    `json:"extraRequests,omitempty"`
}

// SubmissionPayload is the JSON body POSTed to the generation webhook. The
// id disambiguates concurrent submissions that share a destination string.
type SubmissionPayload struct {
	Destination   string    `json:"destination"`
	StartDate     string    `json:"startDate"`
	EndDate       string    `json:"endDate"`
	Style         TripStyle `json:"style"`
	Budget        float64   `json:"budget"`
	ExtraRequests string    `json:"extraRequests,omitempty"`
	SubmittedAt   string    `json:"submittedAt"` // RFC3339
	ID            int64     `json:"id"`
}

// SubmissionHandle carries the correlation values captured at submit time.
// Both the listener callback and the poller query read these, so they are
// fixed before any waiting starts.
type SubmissionHandle struct {
	ID          int64     `json:"id"`
	Destination string    `json:"destination"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// GeneratedPlanRecord is a row produced asynchronously by the external
// generation pipeline. This service only reads it; the response shape is
// not guaranteed stable.
type GeneratedPlanRecord struct {
	ID          int64     `json:"id" db:"id"`
	Destination *string   `json:"destination,omitempty" db:"destination"`
	Response    string    `json:"response" db:"response"`
	ImageURL    *string   `json:"imageUrl,omitempty" db:"image_url"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// DailyActivity is one row of a plan: a day label, the day's activities as
// a single text blob, and a weather note.
type DailyActivity struct {
	Day      string `json:"day"`
	Activity string `json:"activity"`
	Weather  string `json:"weather"`
}

// EquipmentItem is name-only; icon selection happens in the rendering layer.
type EquipmentItem struct {
	Name string `json:"name"`
}

// Placeholder values used whenever the payload gives us nothing better.
const (
	PlaceholderDestination = "Your Destination"
	PlaceholderDateRange   = "Your Travel Dates"
)

// NormalizedTripPlan is the canonical display model. Every field carries a
// safe default: arrays are empty, never nil in JSON, and scalars fall back
// to readable placeholders.
type NormalizedTripPlan struct {
	Destination     string          `json:"destination"`
	DateRange       string          `json:"dateRange"`
	MainPlan        []DailyActivity `json:"mainPlan"`
	AlternativePlan []DailyActivity `json:"alternativePlan"`
	Equipment       []EquipmentItem `json:"equipment"`
	ImageURL        string          `json:"imageUrl,omitempty"`
}

// NewPlaceholderPlan returns a plan holding only defaults.
func NewPlaceholderPlan() NormalizedTripPlan {
	return NormalizedTripPlan{
		Destination:     PlaceholderDestination,
		DateRange:       PlaceholderDateRange,
		MainPlan:        []DailyActivity{},
		AlternativePlan: []DailyActivity{},
		Equipment:       []EquipmentItem{},
	}
}
