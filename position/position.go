package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/wrenb/earnwatch/shared"
)

// Status represents the lifecycle status of a position.
type Status int

const (
	Open Status = iota
	Closed
)

// String stringifies the provided position status.
func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExitState represents the exit trigger state of an open position.
type ExitState int

const (
	// ArmedStopOnly means only the stop loss is active, the trailing stop
	// arms once the unrealized gain first reaches the trailing trigger.
	ArmedStopOnly ExitState = iota
	// TrailingArmed means the trailing stop ratchets with the high water mark.
	TrailingArmed
)

// String stringifies the provided exit state.
func (s ExitState) String() string {
	switch s {
	case ArmedStopOnly:
		return "armed stop only"
	case TrailingArmed:
		return "trailing armed"
	default:
		return "unknown"
	}
}

// ExitReason represents why a position exit was triggered.
type ExitReason int

const (
	StopLoss ExitReason = iota
	TrailingStop
	SentimentReversal
)

// String stringifies the provided exit reason.
func (r ExitReason) String() string {
	switch r {
	case StopLoss:
		return "stop loss"
	case TrailingStop:
		return "trailing stop"
	case SentimentReversal:
		return "sentiment reversal"
	default:
		return "unknown"
	}
}

// Position represents a filled market position for a ticker. A position
// never reopens after closing, a fresh entry for the same ticker creates a
// new position record. Closed positions are retained for trade history.
type Position struct {
	ID         string
	Ticker     string
	EntryPrice float64
	Quantity   int64
	// CostBasis is the equity committed at entry, used for exposure
	// derivation while the position is open.
	CostBasis float64
	// HighWaterMark is monotonically non-decreasing while open, updated
	// only on observing a market price at or above the current mark.
	HighWaterMark float64
	Status        Status
	State         ExitState
	PNLPercent    float64
	ExitPrice     float64
	ExitReason    ExitReason
	CreatedOn     time.Time
	ClosedOn      time.Time
}

// NewPosition initializes a new open position from a confirmed fill.
func NewPosition(ticker string, fill *shared.OrderResult, now time.Time) *Position {
	return &Position{
		ID:            uuid.New().String(),
		Ticker:        ticker,
		EntryPrice:    fill.FillPrice,
		Quantity:      fill.FilledQty,
		CostBasis:     fill.FillPrice * float64(fill.FilledQty),
		HighWaterMark: fill.FillPrice,
		Status:        Open,
		State:         ArmedStopOnly,
		CreatedOn:     now,
	}
}

// evaluateExit advances the exit state machine one step for the provided
// market price. The stop loss is evaluated before any trailing logic on
// every step regardless of state. Returns whether an exit triggered and why.
func (p *Position) evaluateExit(price float64, cfg *shared.RiskConfig) (bool, ExitReason) {
	unrealized := (price - p.EntryPrice) / p.EntryPrice

	if unrealized <= -cfg.StopLossPct {
		return true, StopLoss
	}

	switch p.State {
	case ArmedStopOnly:
		if unrealized >= cfg.TrailingTriggerPct {
			p.HighWaterMark = price
			p.State = TrailingArmed
		}
	case TrailingArmed:
		if price > p.HighWaterMark {
			p.HighWaterMark = price
		}
		if (p.HighWaterMark-price)/p.HighWaterMark >= cfg.TrailingPct {
			return true, TrailingStop
		}
	}

	return false, 0
}

// close marks the position closed with the provided exit fill.
func (p *Position) close(fillPrice float64, reason ExitReason, now time.Time) {
	p.Status = Closed
	p.ExitPrice = fillPrice
	p.ExitReason = reason
	p.PNLPercent = ((fillPrice - p.EntryPrice) / p.EntryPrice) * 100
	p.ClosedOn = now
}
