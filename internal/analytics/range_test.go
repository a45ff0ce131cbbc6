package analytics

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{"defaults to window ending today", "", "", "2025-01-09", "2025-01-15", false},
		{"explicit range", "2025-01-01", "2025-01-10", "2025-01-01", "2025-01-10", false},
		{"only to", "", "2025-01-10", "2025-01-04", "2025-01-10", false},
		{"only from", "2025-01-12", "", "2025-01-12", "2025-01-15", false},
		{"single day", "2025-01-15", "2025-01-15", "2025-01-15", "2025-01-15", false},
		{"bad from", "01/02/2025", "", "", "", true},
		{"bad to", "", "2025-13-01", "", "", true},
		{"reversed", "2025-01-10", "2025-01-01", "", "", true},
		{"too long", "2024-01-01", "2025-01-01", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.from, tt.to, testNow, 7, 92)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Fatalf("expected ErrInvalidRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.FromDate() != tt.wantFrom || r.ToDate() != tt.wantTo {
				t.Errorf("got %s..%s, want %s..%s", r.FromDate(), r.ToDate(), tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestRangeDates(t *testing.T) {
	r := Range{From: day(1), To: day(3)}
	got := r.Dates()
	want := []string{"2025-01-01", "2025-01-02", "2025-01-03"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Dates()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if r.Days() != 3 {
		t.Errorf("Days() = %d, want 3", r.Days())
	}
	if !r.Contains(at(3, 23, 59, 59)) || r.Contains(at(4, 0, 0, 0)) {
		t.Error("Contains does not respect day bounds")
	}
}

func TestDayRange(t *testing.T) {
	r := DayRange(testNow, 7)
	if r.FromDate() != "2025-01-09" || r.ToDate() != "2025-01-15" {
		t.Errorf("got %s..%s", r.FromDate(), r.ToDate())
	}
	if DayRange(testNow, 0).Days() != 1 {
		t.Error("non-positive window should cover one day")
	}
}
