// Package risk decides whether proposed position entries are allowed.
package risk

import (
	"math"

	"github.com/wrenb/earnwatch/shared"
)

const (
	// StrongBuyRiskMultiplier scales the per-trade risk fraction for
	// strong buy signals. Regular buys use 1.0.
	StrongBuyRiskMultiplier = 1.5
)

// Decision represents the outcome of an entry authorization.
type Decision int

const (
	Approved Decision = iota
	NoActionableSignal
	PositionAlreadyOpen
	ExposureLimitExceeded
	PositionTooSmall
)

// String stringifies the provided decision.
func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case NoActionableSignal:
		return "no actionable signal"
	case PositionAlreadyOpen:
		return "position already open"
	case ExposureLimitExceeded:
		return "exposure limit exceeded"
	case PositionTooSmall:
		return "position too small"
	default:
		return "unknown"
	}
}

// Authorization represents the result of gating a proposed entry.
type Authorization struct {
	Ticker   string
	Decision Decision
	// Fraction is the fraction of equity the approved entry commits.
	Fraction float64
	// Quantity is the approved whole-share order size.
	Quantity int64
}

// Approved returns whether the proposed entry was authorized.
func (a *Authorization) Approved() bool {
	return a.Decision == Approved
}

// Authorize gates a proposed entry against the portfolio and per-ticker
// exposure limits. It is a pure decision on the provided portfolio snapshot,
// callers must derive the snapshot fresh from current tracker state
// immediately before each call. Rules evaluate in order, first failure wins.
func Authorize(ticker string, signal shared.Signal, price float64,
	portfolio *shared.PortfolioState, cfg *shared.RiskConfig) Authorization {
	auth := Authorization{Ticker: ticker}

	if !signal.Actionable() {
		auth.Decision = NoActionableSignal
		return auth
	}

	if portfolio.HasOpen(ticker) {
		auth.Decision = PositionAlreadyOpen
		return auth
	}

	fraction := cfg.RiskPerTrade
	if signal == shared.StrongBuy {
		fraction *= StrongBuyRiskMultiplier
	}

	if portfolio.TotalExposureFraction+fraction > cfg.MaxExposure {
		auth.Decision = ExposureLimitExceeded
		return auth
	}

	quantity := int64(math.Floor(fraction * portfolio.Equity / price))
	if quantity <= 0 {
		auth.Decision = PositionTooSmall
		return auth
	}

	auth.Decision = Approved
	auth.Fraction = fraction
	auth.Quantity = quantity

	return auth
}
