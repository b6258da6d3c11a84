// Package position tracks open positions and their exit trigger state.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wrenb/earnwatch/risk"
	"github.com/wrenb/earnwatch/shared"
)

// TrackerConfig represents the position tracker configuration.
type TrackerConfig struct {
	// RiskConfig represents the engine risk parameters.
	RiskConfig *shared.RiskConfig
	// Notify sends the provided message.
	Notify func(message string)
	// PersistClosedPosition persists the provided closed position for
	// trade history.
	PersistClosedPosition func(position *Position) error
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger represents the tracker logger.
	Logger *zerolog.Logger
}

// reservation holds exposure for an entry that has been authorized but whose
// order is still in flight. Reserved fractions count toward total exposure
// so no concurrent authorization can interleave between an exposure check
// and its position being recorded.
type reservation struct {
	ticker   string
	fraction float64
	quantity int64
}

// ExitIntent represents a triggered exit awaiting an order submission.
type ExitIntent struct {
	PositionID string
	Ticker     string
	Quantity   int64
	Reason     ExitReason
}

// Tracker owns the set of positions and is the single exclusion domain for
// position mutation and portfolio state derivation. Its methods only hold
// the lock for state reads and mutation, provider calls happen between them.
type Tracker struct {
	cfg *TrackerConfig

	mtx          sync.Mutex
	positions    []*Position
	reservations map[string]*reservation
}

// NewTracker initializes a new position tracker.
func NewTracker(cfg *TrackerConfig) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Tracker{
		cfg:          cfg,
		positions:    []*Position{},
		reservations: make(map[string]*reservation),
	}
}

// findOpen returns the open position for the ticker, if any. Detecting more
// than one open position for a ticker is an invariant violation which is
// surfaced, never repaired by picking one arbitrarily.
func (t *Tracker) findOpen(ticker string) (*Position, error) {
	var found *Position
	for _, pos := range t.positions {
		if pos.Ticker != ticker || pos.Status != Open {
			continue
		}
		if found != nil {
			t.cfg.Logger.Error().Msgf("%v: multiple open positions for %s: %s",
				shared.ErrInvariantViolation, ticker, spew.Sdump(found, pos))
			return nil, fmt.Errorf("%w: multiple open positions for %s",
				shared.ErrInvariantViolation, ticker)
		}
		found = pos
	}

	return found, nil
}

// OpenTickers returns the tickers with open positions.
func (t *Tracker) OpenTickers() []string {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	tickers := make([]string, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.Status == Open {
			tickers = append(tickers, pos.Ticker)
		}
	}

	return tickers
}

// OpenPositions returns copies of the currently open positions.
func (t *Tracker) OpenPositions() []Position {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	open := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.Status == Open {
			open = append(open, *pos)
		}
	}

	return open
}

// portfolioState derives a fresh portfolio snapshot from the open positions,
// in-flight reservations and the provided account equity. Callers must hold
// the lock.
func (t *Tracker) portfolioState(account *shared.AccountState) *shared.PortfolioState {
	state := &shared.PortfolioState{
		Equity:                    account.Equity,
		PerTickerExposureFraction: make(map[string]float64),
	}

	for _, pos := range t.positions {
		if pos.Status != Open {
			continue
		}
		fraction := 0.0
		if account.Equity > 0 {
			fraction = pos.CostBasis / account.Equity
		}
		state.PerTickerExposureFraction[pos.Ticker] += fraction
		state.TotalExposureFraction += fraction
	}

	for _, res := range t.reservations {
		state.PerTickerExposureFraction[res.ticker] += res.fraction
		state.TotalExposureFraction += res.fraction
	}

	return state
}

// AuthorizeEntry derives a fresh portfolio snapshot and gates the proposed
// entry through the risk rules as one atomic step. On approval the entry's
// exposure is reserved until the order outcome is committed or released, so
// the exposure limit holds across concurrent in-flight entries. The returned
// id identifies the reservation. Errors only on invariant violations.
func (t *Tracker) AuthorizeEntry(ticker string, signal shared.Signal, price float64,
	account *shared.AccountState) (string, risk.Authorization, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	// Surface corrupted state for the ticker before deciding anything.
	_, err := t.findOpen(ticker)
	if err != nil {
		return "", risk.Authorization{Ticker: ticker}, err
	}

	portfolio := t.portfolioState(account)
	auth := risk.Authorize(ticker, signal, price, portfolio, t.cfg.RiskConfig)
	if !auth.Approved() {
		return "", auth, nil
	}

	id := uuid.New().String()
	t.reservations[id] = &reservation{
		ticker:   ticker,
		fraction: auth.Fraction,
		quantity: auth.Quantity,
	}

	return id, auth, nil
}

// CommitEntry converts a reservation into an open position using the
// confirmed fill. Partial fills create a position sized to the confirmed
// quantity only, with the shortfall flagged for operator visibility.
func (t *Tracker) CommitEntry(id string, fill *shared.OrderResult) (*Position, error) {
	t.mtx.Lock()

	res, ok := t.reservations[id]
	if !ok {
		t.mtx.Unlock()
		return nil, fmt.Errorf("unknown entry reservation: %s", id)
	}
	delete(t.reservations, id)

	if fill.FilledQty <= 0 {
		t.mtx.Unlock()
		return nil, fmt.Errorf("%w: no fill for %s order %s",
			shared.ErrExecutionRejected, res.ticker, fill.OrderID)
	}

	pos := NewPosition(res.ticker, fill, t.cfg.Now())
	t.positions = append(t.positions, pos)
	t.mtx.Unlock()

	if fill.FilledQty < res.quantity {
		t.cfg.Logger.Warn().Msgf("partial fill for %s: confirmed %d of %d requested shares",
			res.ticker, fill.FilledQty, res.quantity)
	}

	msg := fmt.Sprintf("Opened position (%s) for %s: %d @ %.2f",
		pos.ID, pos.Ticker, pos.Quantity, pos.EntryPrice)
	t.cfg.Notify(msg)

	return pos, nil
}

// ReleaseEntry drops a reservation whose order was not filled.
func (t *Tracker) ReleaseEntry(id string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	delete(t.reservations, id)
}

// EvaluateTick advances the exit state machine for the ticker's open
// position given the current market price. Returns an exit intent when an
// exit trigger fired, nil when the position holds or the ticker has no open
// position.
func (t *Tracker) EvaluateTick(ticker string, price float64) (*ExitIntent, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	pos, err := t.findOpen(ticker)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	exit, reason := pos.evaluateExit(price, t.cfg.RiskConfig)
	if !exit {
		return nil, nil
	}

	return &ExitIntent{
		PositionID: pos.ID,
		Ticker:     pos.Ticker,
		Quantity:   pos.Quantity,
		Reason:     reason,
	}, nil
}

// ReversalExit returns an exit intent for the ticker's open position on a
// bearish sentiment signal, regardless of price based triggers.
func (t *Tracker) ReversalExit(ticker string) (*ExitIntent, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	pos, err := t.findOpen(ticker)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	return &ExitIntent{
		PositionID: pos.ID,
		Ticker:     pos.Ticker,
		Quantity:   pos.Quantity,
		Reason:     SentimentReversal,
	}, nil
}

// ConfirmExit closes the identified position at the confirmed exit fill.
// Idempotent: confirming a position that is already closed or absent is
// treated as confirmation, not an error.
func (t *Tracker) ConfirmExit(positionID string, fillPrice float64, reason ExitReason) (*Position, error) {
	t.mtx.Lock()

	var pos *Position
	for _, candidate := range t.positions {
		if candidate.ID == positionID {
			pos = candidate
			break
		}
	}

	if pos == nil || pos.Status == Closed {
		t.mtx.Unlock()
		return nil, nil
	}

	pos.close(fillPrice, reason, t.cfg.Now())
	closed := *pos
	t.mtx.Unlock()

	err := t.cfg.PersistClosedPosition(&closed)
	if err != nil {
		t.cfg.Logger.Error().Msgf("persisting closed position %s: %v", closed.ID, err)
	}

	msg := fmt.Sprintf("Closed position (%s) for %s @ %.2f (%s, pnl %.2f%%)",
		closed.ID, closed.Ticker, closed.ExitPrice, reason.String(), closed.PNLPercent)
	t.cfg.Notify(msg)

	return &closed, nil
}
