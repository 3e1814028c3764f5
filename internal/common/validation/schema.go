// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// tripRequestSchema revalidates submissions at the service boundary. The
// frontend enforces the same rules, but requests can reach the API directly.
var tripRequestSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"destination", "startDate", "endDate", "budget", "style"},
	"properties": map[string]interface{}{
		"destination": map[string]interface{}{
			"type":      "string",
			"minLength": 2,
			"maxLength": 120,
		},
		"startDate": map[string]interface{}{
			"type":    "string",
			"pattern": `^\d{4}-\d{2}-\d{2}$`,
		},
		"endDate": map[string]interface{}{
			"type":    "string",
			"pattern": `^\d{4}-\d{2}-\d{2}$`,
		},
		"budget": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
			"maximum": 1000,
		},
		"style": map[string]interface{}{
			"type": "string",
			"enum": []string{"relaxed", "nature", "urban", "adventure"},
		},
	},
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateTripRequest checks a request document against the trip schema and
// the date-range rules the schema cannot express.
func ValidateTripRequest(data interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(tripRequestSchema)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("trip request validation failed: %v", errs)
	}

	doc, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	start, _ := doc["startDate"].(string)
	end, _ := doc["endDate"].(string)
	return ValidateDateRange(start, end)
}

// ValidateDateRange enforces calendar-valid dates with end on or after start.
func ValidateDateRange(start, end string) error {
	if !dateRe.MatchString(start) || !dateRe.MatchString(end) {
		return fmt.Errorf("dates must use YYYY-MM-DD format")
	}

	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", start, err)
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", end, err)
	}

	if endDate.Before(startDate) {
		return fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return nil
}
