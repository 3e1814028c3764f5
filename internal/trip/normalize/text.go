// internal/trip/normalize/text.go
package normalize

import (
	"regexp"
	"strings"

	"trip-planner/internal/models"
)

// Heuristic prose scanning, reached only when a payload contains no
// parseable JSON. Best effort: partial or empty results are acceptable,
// raising is not.

var (
	destinationRe = regexp.MustCompile(`(?:trip to|travell?ing to|travel to|visit(?:ing)? |welcome to|getaway to)\s*(?:the\s+)?([A-Z][A-Za-z']+(?:\s+[A-Z][A-Za-z']+)*)`)
	dateRangeRe   = regexp.MustCompile(`([A-Z][a-z]+ \d{1,2}\s*[-–]\s*(?:[A-Z][a-z]+ )?\d{1,2},?\s*\d{4}|\d{4}-\d{2}-\d{2}\s*(?:to|[-–])\s*\d{4}-\d{2}-\d{2})`)
	dayHeadingRe  = regexp.MustCompile(`^\s*(?:\*\*|#+\s*)?\s*(Day\s+\d+)[:.\s]*(.*?)\s*(?:\*\*)?\s*$`)
	bulletRe      = regexp.MustCompile(`^\s*[-*•]\s+(.*?)\s*$`)
	packingHeadRe = regexp.MustCompile(`(?i)\b(packing|equipment|gear|what to bring)\b`)
)

func extractFromText(text string) models.NormalizedTripPlan {
	plan := models.NewPlaceholderPlan()

	if m := destinationRe.FindStringSubmatch(text); m != nil {
		plan.Destination = strings.TrimRight(m[1], "!?. ")
	}
	if m := dateRangeRe.FindStringSubmatch(text); m != nil {
		plan.DateRange = strings.TrimSpace(m[1])
	}

	plan.MainPlan = extractDayEntries(text)
	plan.Equipment = extractEquipment(text)
	return plan
}

// extractDayEntries treats each "Day N" heading as one plan row, with the
// heading remainder and any bullet lines below it joined into the activity.
func extractDayEntries(text string) []models.DailyActivity {
	entries := []models.DailyActivity{}
	lines := strings.Split(text, "\n")

	var current *models.DailyActivity
	flush := func() {
		if current != nil && current.Activity != "" {
			entries = append(entries, *current)
		}
		current = nil
	}

	for _, line := range lines {
		if m := dayHeadingRe.FindStringSubmatch(line); m != nil && strings.HasPrefix(strings.TrimSpace(stripEmphasis(line)), "Day") {
			flush()
			current = &models.DailyActivity{
				Day:      m[1],
				Activity: strings.TrimSpace(m[2]),
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			current.Activity = strings.TrimSpace(current.Activity + " " + stripEmphasis(m[1]))
		}
	}
	flush()
	return entries
}

// extractEquipment collects bullet items under a packing-like heading,
// stopping at the next blank-then-heading boundary.
func extractEquipment(text string) []models.EquipmentItem {
	items := []models.EquipmentItem{}
	lines := strings.Split(text, "\n")

	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if inSection {
				if name := stripEmphasis(m[1]); name != "" {
					items = append(items, models.EquipmentItem{Name: name})
				}
			}
			continue
		}

		if trimmed == "" {
			continue
		}
		// Any non-bullet line re-decides the section.
		inSection = packingHeadRe.MatchString(trimmed)
	}
	return items
}

func stripEmphasis(s string) string {
	return strings.TrimSpace(strings.NewReplacer("**", "", "__", "", "`", "").Replace(s))
}
