package shared

// OrderSide represents the side of an order.
type OrderSide int

const (
	BuySide OrderSide = iota
	SellSide
)

// String stringifies the provided order side.
func (s OrderSide) String() string {
	switch s {
	case BuySide:
		return "buy"
	case SellSide:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderResult represents a confirmed order fill from the execution provider.
type OrderResult struct {
	OrderID   string
	FilledQty int64
	FillPrice float64
}

// AccountState represents the account balances reported by the execution
// provider.
type AccountState struct {
	Equity      float64
	BuyingPower float64
}

// PortfolioState is derived on demand from the set of open positions and the
// current account equity. It is never stored, a fresh snapshot is computed
// immediately before every entry authorization.
type PortfolioState struct {
	Equity float64
	// TotalExposureFraction is the fraction of equity committed to open
	// positions plus in-flight entry reservations.
	TotalExposureFraction float64
	// PerTickerExposureFraction maps tickers with open positions to their
	// committed fraction.
	PerTickerExposureFraction map[string]float64
}

// HasOpen returns whether the portfolio holds an open position for the ticker.
func (p *PortfolioState) HasOpen(ticker string) bool {
	_, ok := p.PerTickerExposureFraction[ticker]
	return ok
}

// SentimentRecord represents an appended sentiment history entry.
type SentimentRecord struct {
	Ticker string
	Score  float64
	Signal Signal
	Runs   int
}
