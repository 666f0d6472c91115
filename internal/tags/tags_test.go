package tags

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	now := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		tag       string
		wantMonth time.Month
		wantYear  int
		wantErr   bool
	}{
		{"month segment", "south-region, March contact", time.March, 2027, false},
		{"current month", "August follow-up", time.August, 2026, false},
		{"later this year", "December outreach", time.December, 2026, false},
		{"abbreviation", "enterprise, feb check-in", time.February, 2027, false},
		{"sept spelling", "Sept renewal", time.September, 2026, false},
		{"case insensitive", "JANUARY", time.January, 2027, false},
		{"no month", "south-region, enterprise", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"only commas", " , , ", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.tag, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.tag)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.tag, err)
			}
			if got.Month != tt.wantMonth || got.Year != tt.wantYear {
				t.Errorf("Parse(%q) = %s %d, want %s %d", tt.tag, got.Month, got.Year, tt.wantMonth, tt.wantYear)
			}
		})
	}
}

func TestParseKeepsSegments(t *testing.T) {
	now := time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC)
	got, err := Parse("south-region , March contact, enterprise", now)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"south-region", "March contact", "enterprise"}
	if len(got.Segments) != len(want) {
		t.Fatalf("Segments = %v", got.Segments)
	}
	for i := range want {
		if got.Segments[i] != want[i] {
			t.Errorf("Segments[%d] = %q, want %q", i, got.Segments[i], want[i])
		}
	}
}

func TestInferYear(t *testing.T) {
	tests := []struct {
		name  string
		month time.Month
		now   time.Time
		want  int
	}{
		{"same month", time.August, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), 2026},
		{"future month", time.December, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), 2026},
		{"past month rolls over", time.March, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), 2027},
		// On January 1 every month reads as this year again
		{"january 1 same year", time.December, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), 2027},
		{"december 31 rolls most months", time.November, time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC), 2027},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferYear(tt.month, tt.now); got != tt.want {
				t.Errorf("InferYear(%s, %s) = %d, want %d", tt.month, tt.now.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestDue(t *testing.T) {
	f := &FollowUp{Month: time.March, Year: 2027}
	want := time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !f.Due().Equal(want) {
		t.Errorf("Due() = %v, want %v", f.Due(), want)
	}
}
