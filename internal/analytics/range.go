package analytics

import (
	"fmt"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/models"
)

// Range is an inclusive span of UTC calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

// DayRange returns the range of the last days days ending on the day of now.
func DayRange(now time.Time, days int) Range {
	if days < 1 {
		days = 1
	}
	to := truncateDay(now)
	return Range{From: to.AddDate(0, 0, -(days - 1)), To: to}
}

// ParseRange parses from/to query values (YYYY-MM-DD). Missing values
// default to the window of defaultDays ending today. Ranges longer than
// maxDays are rejected.
func ParseRange(from, to string, now time.Time, defaultDays, maxDays int) (Range, error) {
	r := DayRange(now, defaultDays)
	if to != "" {
		t, err := time.Parse(models.DateLayout, to)
		if err != nil {
			return Range{}, fmt.Errorf("%w: invalid to date %q", ErrInvalidRange, to)
		}
		r.To = t
		if from == "" {
			r.From = t.AddDate(0, 0, -(defaultDays - 1))
		}
	}
	if from != "" {
		f, err := time.Parse(models.DateLayout, from)
		if err != nil {
			return Range{}, fmt.Errorf("%w: invalid from date %q", ErrInvalidRange, from)
		}
		r.From = f
	}
	if r.From.After(r.To) {
		return Range{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, r.FromDate(), r.ToDate())
	}
	if maxDays > 0 && r.Days() > maxDays {
		return Range{}, fmt.Errorf("%w: range of %d days exceeds %d", ErrInvalidRange, r.Days(), maxDays)
	}
	return r, nil
}

// FromDate formats the first day.
func (r Range) FromDate() string { return r.From.Format(models.DateLayout) }

// ToDate formats the last day.
func (r Range) ToDate() string { return r.To.Format(models.DateLayout) }

// Days is the number of calendar days covered.
func (r Range) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// Dates lists every day in the range in order.
func (r Range) Dates() []string {
	out := make([]string, 0, r.Days())
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}

// Contains reports whether t falls on a day inside the range.
func (r Range) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(r.From) && !d.After(r.To)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
