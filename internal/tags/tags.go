// Package tags parses CRM follow-up tags of the form
// "south-region, March contact": a free-form segment list where one
// segment names the month the contact should next be reached.
package tags

import (
	"fmt"
	"strings"
	"time"
)

// FollowUp is the parsed form of a follow-up tag
type FollowUp struct {
	Raw      string     `json:"raw"`
	Segments []string   `json:"segments"`
	Month    time.Month `json:"month"`
	Year     int        `json:"year"`
}

// Due returns the first day of the follow-up month, UTC
func (f *FollowUp) Due() time.Time {
	return time.Date(f.Year, f.Month, 1, 0, 0, 0, 0, time.UTC)
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// Parse extracts the follow-up month from a tag and infers its year
// relative to now. A tag with no recognisable month segment is not a
// follow-up tag and yields an error.
func Parse(tag string, now time.Time) (*FollowUp, error) {
	segments := splitSegments(tag)
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty tag")
	}

	for _, segment := range segments {
		for _, word := range strings.Fields(segment) {
			if month, ok := monthNames[strings.ToLower(word)]; ok {
				return &FollowUp{
					Raw:      tag,
					Segments: segments,
					Month:    month,
					Year:     InferYear(month, now),
				}, nil
			}
		}
	}

	return nil, fmt.Errorf("tag %q names no month", tag)
}

// InferYear resolves a bare month name against the current date: a
// month at or after the current one means this year, an earlier month
// means next year. The rule flips on January 1 on purpose.
func InferYear(month time.Month, now time.Time) int {
	if month >= now.Month() {
		return now.Year()
	}
	return now.Year() + 1
}

func splitSegments(tag string) []string {
	var segments []string
	for _, part := range strings.Split(tag, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}
