package shared

import (
	"fmt"
	"math"
	"time"
)

// Signal represents a discrete trade recommendation derived from a
// sentiment score.
type Signal int

const (
	StrongSell Signal = iota
	Sell
	Hold
	Buy
	StrongBuy
)

// String stringifies the provided signal.
func (s Signal) String() string {
	switch s {
	case StrongSell:
		return "strong sell"
	case Sell:
		return "sell"
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case StrongBuy:
		return "strong buy"
	default:
		return "unknown"
	}
}

// Actionable returns whether the signal can trigger a position entry.
func (s Signal) Actionable() bool {
	return s == Buy || s == StrongBuy
}

// Bearish returns whether the signal routes to exit logic for open positions.
func (s Signal) Bearish() bool {
	return s == Sell || s == StrongSell
}

// SignalThresholds defines the score cuts partitioning [0,100] into the five
// signal bands. A score exactly at a cut belongs to the higher band.
type SignalThresholds struct {
	// SellCut is the lowest score classified as a sell rather than a strong sell.
	SellCut float64
	// HoldCut is the lowest score classified as a hold.
	HoldCut float64
	// BuyCut is the lowest score classified as a buy.
	BuyCut float64
	// StrongBuyCut is the lowest score classified as a strong buy.
	StrongBuyCut float64
}

// DefaultSignalThresholds returns the default score partition.
func DefaultSignalThresholds() SignalThresholds {
	return SignalThresholds{
		SellCut:      30,
		HoldCut:      40,
		BuyCut:       60,
		StrongBuyCut: 70,
	}
}

// Validate asserts the thresholds form a monotonically non-decreasing
// partition of the score range.
func (t *SignalThresholds) Validate() error {
	cuts := []float64{t.SellCut, t.HoldCut, t.BuyCut, t.StrongBuyCut}
	prev := float64(0)
	for idx := range cuts {
		if math.IsNaN(cuts[idx]) || cuts[idx] < 0 || cuts[idx] > 100 {
			return fmt.Errorf("signal threshold cut %d out of range: %v", idx, cuts[idx])
		}
		if cuts[idx] < prev {
			return fmt.Errorf("signal threshold cuts must be non-decreasing, got %v after %v",
				cuts[idx], prev)
		}
		prev = cuts[idx]
	}

	return nil
}

// ClassifySignal maps a sentiment score to a discrete trade signal using the
// provided thresholds. Scores outside [0,100] return ErrInvalidScore along
// with a hold signal, the caller decides whether to log and skip.
func ClassifySignal(score float64, thresholds SignalThresholds) (Signal, error) {
	if math.IsNaN(score) || score < 0 || score > 100 {
		return Hold, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	switch {
	case score >= thresholds.StrongBuyCut:
		return StrongBuy, nil
	case score >= thresholds.BuyCut:
		return Buy, nil
	case score >= thresholds.HoldCut:
		return Hold, nil
	case score >= thresholds.SellCut:
		return Sell, nil
	default:
		return StrongSell, nil
	}
}

// SentimentScore represents a scored earnings outlook for a ticker.
// Immutable once produced.
type SentimentScore struct {
	Ticker    string
	Value     float64
	Runs      int
	Reasoning string
	CreatedOn time.Time
}
