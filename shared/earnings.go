package shared

import (
	"strings"
	"time"
)

const (
	// EarningsDateLayout is the format layout for parsing earnings calendar dates.
	EarningsDateLayout = "2006-01-02"
	// PastEarningsLookbackDays is how far back the bulk past earnings fetch reaches.
	PastEarningsLookbackDays = 120
)

// NormalizeTicker canonicalizes a ticker symbol. Tickers are identity keys
// throughout and are always compared in this form.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// EarningsEvent represents a scheduled earnings report for a ticker.
// Ephemeral: refetched every tick, never cached across ticks.
type EarningsEvent struct {
	Ticker    string
	Scheduled time.Time
	// Hour is the reporting slot, eg. "bmo" (before market open) or
	// "amc" (after market close).
	Hour string
	// DaysUntil is recomputed relative to the current time on each fetch.
	DaysUntil int
}

// NewYorkTime returns the current time in new york (EST/EDT adjusted automatically).
func NewYorkTime() (time.Time, *time.Location, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, nil, err
	}

	return time.Now().In(loc), loc, nil
}

// DaysUntil calculates whole calendar days from now until the scheduled date.
func DaysUntil(now time.Time, scheduled time.Time) int {
	nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	schedDate := time.Date(scheduled.Year(), scheduled.Month(), scheduled.Day(), 0, 0, 0, 0, time.UTC)

	return int(schedDate.Sub(nowDate).Hours() / 24)
}
