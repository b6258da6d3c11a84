package shared

import (
	"context"
)

// CalendarFetcher defines the requirements for fetching earnings calendar
// and market quote data.
type CalendarFetcher interface {
	// FetchUpcomingEarnings fetches earnings events scheduled within the
	// provided number of days for the given tickers.
	FetchUpcomingEarnings(ctx context.Context, tickers []string, withinDays int) ([]EarningsEvent, error)
	// FetchPastEarnings fetches the most recent past earnings event per
	// ticker in a single bulk call.
	FetchPastEarnings(ctx context.Context, tickers []string) ([]EarningsEvent, error)
	// FetchQuote fetches the current market price for a ticker.
	FetchQuote(ctx context.Context, ticker string) (float64, error)
}

// SentimentScorer defines the requirements for scoring pre-earnings sentiment.
type SentimentScorer interface {
	// ScoreEarnings produces a sentiment score for the provided earnings event.
	ScoreEarnings(ctx context.Context, event *EarningsEvent) (*SentimentScore, error)
}

// OrderExecutor defines the requirements for submitting orders and reading
// account state from the execution provider.
type OrderExecutor interface {
	// SubmitOrder submits a market order and returns the confirmed fill.
	SubmitOrder(ctx context.Context, ticker string, side OrderSide, quantity int64) (*OrderResult, error)
	// GetAccountState fetches the current account balances.
	GetAccountState(ctx context.Context) (*AccountState, error)
}
