package utils

import (
	"fmt"
	"time"
)

// FiscalYearFromDate maps a calendar date to the April–March fiscal year label
// used in document numbers: April 2024 through March 2025 is "2024-25".
func FiscalYearFromDate(date time.Time) string {
	year := date.Year()
	if date.Month() >= time.April {
		return fmt.Sprintf("%d-%02d", year, (year+1)%100)
	}
	return fmt.Sprintf("%d-%02d", year-1, year%100)
}
