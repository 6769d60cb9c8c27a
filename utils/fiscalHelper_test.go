package utils

import (
	"testing"
	"time"
)

func TestFiscalYearFromDate(t *testing.T) {
	cases := []struct {
		date time.Time
		want string
	}{
		// Fiscal year runs April through March.
		{time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2024, time.March, 31, 23, 59, 59, 0, time.UTC), "2023-24"},
		{time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), "2025-26"},
		// Century rollover keeps two-digit end year.
		{time.Date(2099, time.May, 1, 0, 0, 0, 0, time.UTC), "2099-00"},
	}
	for _, c := range cases {
		got := FiscalYearFromDate(c.date)
		if got != c.want {
			t.Errorf("FiscalYearFromDate(%s) = %q, want %q", c.date.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestFiscalYearBoundaryDatesLandInDifferentYears(t *testing.T) {
	marchEnd := time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)
	aprilStart := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	if FiscalYearFromDate(marchEnd) == FiscalYearFromDate(aprilStart) {
		t.Fatalf("Mar 31 and Apr 1 of the same calendar year must fall in different fiscal years")
	}
}
