// internal/trip/normalize/normalize.go

// Package normalize turns the generation pipeline's loosely structured
// responses into the canonical trip plan model. Payloads arrive as JSON,
// JSON wrapped in markdown fences, half-broken JSON, or plain prose; the
// shape of the JSON itself drifts between releases of the upstream
// prompt. Normalize never fails: every path lands on a well-formed plan
// with safe defaults, plus diagnostics for the curious.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"trip-planner/internal/models"

	"github.com/samber/lo"
)

// Shape tags which payload layout the classifier recognized.
type Shape string

const (
	// ShapeFlat has a top-level destination key and plan arrays.
	ShapeFlat Shape = "flat"
	// ShapeItinerary is the "Primary Itinerary" layout with day parts.
	ShapeItinerary Shape = "itinerary"
	// ShapeText means no JSON could be parsed; fields were pulled from
	// prose heuristically.
	ShapeText Shape = "text"
	// ShapeUnknown is parsed JSON in no recognized layout.
	ShapeUnknown Shape = "unknown"
	// ShapeNone is a nil or empty payload.
	ShapeNone Shape = "none"
)

// Diagnostics preserves what normalization saw, for optional display.
// Never used on the render path.
type Diagnostics struct {
	Raw        string `json:"raw,omitempty"`
	Shape      Shape  `json:"shape"`
	ParseError string `json:"parseError,omitempty"`
}

// Result pairs the always-usable plan with its diagnostics.
type Result struct {
	Plan        models.NormalizedTripPlan `json:"plan"`
	Diagnostics Diagnostics               `json:"diagnostics"`
}

// Entry-level defaults when a plan row is missing fields.
const (
	defaultDay      = "Unknown day"
	defaultActivity = "No activity planned"
	defaultWeather  = "Weather data unavailable"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Normalize accepts anything the store or listener hands over and returns
// a complete plan. It does not return an error and does not panic.
func Normalize(raw interface{}) Result {
	switch v := raw.(type) {
	case nil:
		return Result{Plan: models.NewPlaceholderPlan(), Diagnostics: Diagnostics{Shape: ShapeNone}}
	case string:
		return normalizeString(v)
	default:
		// Already-structured data: round-trip through JSON so maps, structs
		// and json.RawMessage all land in the same generic form.
		encoded, err := json.Marshal(v)
		if err != nil {
			return Result{Plan: models.NewPlaceholderPlan(), Diagnostics: Diagnostics{
				Shape:      ShapeUnknown,
				ParseError: err.Error(),
			}}
		}
		return normalizeString(string(encoded))
	}
}

func normalizeString(raw string) Result {
	diag := Diagnostics{Raw: raw}

	cleaned := StripFence(raw)
	if cleaned == "" {
		diag.Shape = ShapeNone
		return Result{Plan: models.NewPlaceholderPlan(), Diagnostics: diag}
	}

	doc, parseErr := parseLoose(cleaned)
	if parseErr != nil {
		// No JSON at all: fall back to prose scanning.
		diag.Shape = ShapeText
		diag.ParseError = parseErr.Error()
		return Result{Plan: extractFromText(cleaned), Diagnostics: diag}
	}

	plan, shape := classifyAndMap(doc)
	diag.Shape = shape
	return Result{Plan: plan, Diagnostics: diag}
}

// StripFence removes a single enclosing markdown code fence (```json ... ```
// or ``` ... ```) and trims whitespace.
func StripFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// parseLoose tries a strict parse first, then rescues the first balanced
// {...} block from surrounding prose.
func parseLoose(s string) (interface{}, error) {
	var doc interface{}
	strictErr := json.Unmarshal([]byte(s), &doc)
	if strictErr == nil {
		return doc, nil
	}

	if rescued, ok := firstBalancedObject(s); ok {
		if err := json.Unmarshal([]byte(rescued), &doc); err == nil {
			return doc, nil
		}
	}
	return nil, strictErr
}

// firstBalancedObject scans for the first '{' and returns the substring up
// to its matching '}', respecting strings and escapes.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// classifyAndMap routes a parsed document to the matching shape mapper.
// Arrays take their first element; the upstream pipeline sometimes wraps
// the plan in a single-element list.
func classifyAndMap(doc interface{}) (models.NormalizedTripPlan, Shape) {
	if arr, ok := doc.([]interface{}); ok {
		if len(arr) == 0 {
			return models.NewPlaceholderPlan(), ShapeUnknown
		}
		doc = arr[0]
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return models.NewPlaceholderPlan(), ShapeUnknown
	}

	// The webhook sometimes nests the plan under a wrapper key next to the
	// image URL; unwrap before classifying.
	obj = unwrapEnvelope(obj)

	if _, ok := obj["destination"]; ok {
		return mapFlat(obj), ShapeFlat
	}
	if _, ok := obj["Primary Itinerary"]; ok {
		return mapItinerary(obj), ShapeItinerary
	}
	return models.NewPlaceholderPlan(), ShapeUnknown
}

func unwrapEnvelope(obj map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"tripPlan", "Response"} {
		switch inner := obj[key].(type) {
		case map[string]interface{}:
			return withEnvelopeImage(obj, inner)
		case string:
			if doc, err := parseLoose(StripFence(inner)); err == nil {
				if m, ok := doc.(map[string]interface{}); ok {
					return withEnvelopeImage(obj, m)
				}
			}
		}
	}
	return obj
}

// withEnvelopeImage carries an envelope-level image URL down to the
// unwrapped plan so mapFlat can pick it up.
func withEnvelopeImage(envelope, inner map[string]interface{}) map[string]interface{} {
	if _, exists := inner["imageUrl"]; exists {
		return inner
	}
	if url := ImageURL(envelope); url != "" {
		clone := make(map[string]interface{}, len(inner)+1)
		for k, v := range inner {
			clone[k] = v
		}
		clone["imageUrl"] = url
		return clone
	}
	return inner
}

// ImageURL pulls an image URL out of a payload, tolerating the key spelling
// variants upstream has used and stripping stray quote wrapping.
func ImageURL(obj map[string]interface{}) string {
	for _, key := range []string{"imageUrl", "imageURL", "Image URL"} {
		if raw, ok := obj[key]; ok {
			if s, ok := raw.(string); ok {
				return StripQuotes(s)
			}
		}
	}
	return ""
}

// StripQuotes removes one layer of wrapping double quotes.
func StripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// mapFlat reads the standard layout, accepting the key synonyms the
// upstream prompt has produced over time.
func mapFlat(obj map[string]interface{}) models.NormalizedTripPlan {
	plan := models.NewPlaceholderPlan()

	if dest := stringField(obj, "destination"); dest != "" {
		plan.Destination = dest
	}
	if dates := stringField(obj, "dateRange"); dates != "" {
		plan.DateRange = dates
	}

	plan.MainPlan = mapActivities(firstPresent(obj,
		"mainPlan", "main_plan", "primaryPlan", "primary_plan", "plan"))
	plan.AlternativePlan = mapActivities(firstPresent(obj,
		"alternativePlan", "alternative_plan", "secondaryPlan", "secondary_plan", "backupPlan", "backup_plan"))
	plan.Equipment = mapEquipment(firstPresent(obj,
		"equipment", "gear", "items", "packing_list", "packingList"))
	plan.ImageURL = ImageURL(obj)

	return plan
}

// mapItinerary reads the "Primary Itinerary" layout: day parts get joined
// into one activity string, the bad-weather itinerary becomes the
// alternative plan, and the packing list flattens into equipment.
func mapItinerary(obj map[string]interface{}) models.NormalizedTripPlan {
	plan := models.NewPlaceholderPlan()

	primary, _ := obj["Primary Itinerary"].(map[string]interface{})
	if primary != nil {
		// The notes field opens with "<destination>! ..." when present.
		if notes := stringField(primary, "notes"); notes != "" {
			if dest := strings.TrimSpace(strings.SplitN(notes, "!", 2)[0]); dest != "" {
				plan.Destination = dest
			}
		}

		if days, ok := primary["days"].([]interface{}); ok {
			plan.MainPlan = lo.FilterMap(days, func(raw interface{}, _ int) (models.DailyActivity, bool) {
				day, ok := raw.(map[string]interface{})
				if !ok {
					return models.DailyActivity{}, false
				}
				label := strings.TrimSpace(stringField(day, "dayOfWeek") + " (" + stringField(day, "date") + ")")
				activity := strings.TrimSpace(strings.Join([]string{
					stringField(day, "morning"),
					stringField(day, "afternoon"),
					stringField(day, "evening"),
				}, " "))
				if activity == "" {
					activity = defaultActivity
				}
				return models.DailyActivity{Day: label, Activity: activity}, true
			})
		}
	}

	if alt := alternativeItinerary(obj); alt != nil {
		weather := stringField(alt, "weatherType")
		if items, ok := alt["plan"].([]interface{}); ok {
			plan.AlternativePlan = lo.FilterMap(items, func(raw interface{}, _ int) (models.DailyActivity, bool) {
				item, ok := raw.(map[string]interface{})
				if !ok {
					return models.DailyActivity{}, false
				}
				day := stringField(item, "time")
				if day == "" {
					day = "Any time"
				}
				return models.DailyActivity{
					Day:      day,
					Activity: stringField(item, "activity"),
					Weather:  weather,
				}, true
			})
		}
	}

	if packing, ok := obj["Packing List"].(map[string]interface{}); ok {
		names := append(stringSlice(packing["mustHaves"]), stringSlice(packing["niceToHave"])...)
		plan.Equipment = lo.Map(names, func(name string, _ int) models.EquipmentItem {
			return models.EquipmentItem{Name: name}
		})
	}

	plan.ImageURL = ImageURL(obj)
	return plan
}

// alternativeItinerary tolerates the suffix drifting in and out of the key.
func alternativeItinerary(obj map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"Alternative Itinerary (Bad Weather Plan)", "Alternative Itinerary"} {
		if alt, ok := obj[key].(map[string]interface{}); ok {
			return alt
		}
	}
	return nil
}

func mapActivities(raw interface{}) []models.DailyActivity {
	items, ok := raw.([]interface{})
	if !ok {
		return []models.DailyActivity{}
	}
	return lo.FilterMap(items, func(raw interface{}, _ int) (models.DailyActivity, bool) {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return models.DailyActivity{}, false
		}
		entry := models.DailyActivity{
			Day:      stringField(item, "day"),
			Activity: stringField(item, "activity"),
			Weather:  stringField(item, "weather"),
		}
		if entry.Day == "" {
			entry.Day = defaultDay
		}
		if entry.Activity == "" {
			entry.Activity = defaultActivity
		}
		if entry.Weather == "" {
			entry.Weather = defaultWeather
		}
		return entry, true
	})
}

func mapEquipment(raw interface{}) []models.EquipmentItem {
	items, ok := raw.([]interface{})
	if !ok {
		return []models.EquipmentItem{}
	}
	return lo.FilterMap(items, func(raw interface{}, _ int) (models.EquipmentItem, bool) {
		switch v := raw.(type) {
		case string:
			return models.EquipmentItem{Name: v}, v != ""
		case map[string]interface{}:
			name := stringField(v, "name")
			return models.EquipmentItem{Name: name}, name != ""
		default:
			return models.EquipmentItem{}, false
		}
	})
}

func firstPresent(obj map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func stringSlice(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	return lo.FilterMap(items, func(raw interface{}, _ int) (string, bool) {
		s, ok := raw.(string)
		return s, ok && s != ""
	})
}
