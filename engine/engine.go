// Package engine implements the periodic decision loop turning earnings
// events and sentiment scores into gated trades and managed exits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/wrenb/earnwatch/position"
	"github.com/wrenb/earnwatch/shared"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 16
	// maxWorkers is the maximum number of concurrent per-ticker workers
	// within a tick.
	maxWorkers = 8
	// defaultConsensusRuns is the number of sentiment model runs averaged
	// into a consensus score.
	defaultConsensusRuns = 3
	// defaultMinConsensusRuns is the minimum valid runs required for a
	// usable consensus.
	defaultMinConsensusRuns = 2
)

// EngineConfig represents the decision engine configuration.
type EngineConfig struct {
	// Universe represents the tracked tickers.
	Universe []string
	// RiskConfig represents the engine risk parameters.
	RiskConfig *shared.RiskConfig
	// ConsensusRuns is the number of sentiment runs per ticker.
	ConsensusRuns int
	// MinConsensusRuns is the minimum valid runs for a usable consensus.
	MinConsensusRuns int
	// Calendar fetches earnings events and quotes.
	Calendar shared.CalendarFetcher
	// Sentiment scores pre-earnings sentiment.
	Sentiment shared.SentimentScorer
	// Executor submits orders and reads account state.
	Executor shared.OrderExecutor
	// Tracker owns the set of positions.
	Tracker *position.Tracker
	// AppendSentiment appends the provided record to sentiment history.
	AppendSentiment func(record *shared.SentimentRecord) error
	// RecordPastEarnings records a past earnings event for bookkeeping.
	RecordPastEarnings func(event *shared.EarningsEvent) error
	// JobScheduler schedules the periodic tick.
	JobScheduler *gocron.Scheduler
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger represents the engine logger.
	Logger *zerolog.Logger
}

// TickOutcome summarizes one execution of the decision cycle.
type TickOutcome struct {
	Start           time.Time
	End             time.Time
	EventsDue       int
	EntriesOpened   int
	ExitsSubmitted  int
	Holds           int
	Rejections      int
	TickersSkipped  int
	TickersErrored  int
}

// Status is a read-only snapshot of the engine for the control surface.
type Status struct {
	Running        bool
	TickInProgress bool
	LastTick       TickOutcome
	OpenPositions  []position.Position
}

// StatusRequest represents a request for an engine status snapshot.
type StatusRequest struct {
	Response chan Status
}

// NewStatusRequest initializes a new status request.
func NewStatusRequest() StatusRequest {
	return StatusRequest{
		Response: make(chan Status, 1),
	}
}

// Engine orchestrates decision ticks: it fetches due earnings, scores
// sentiment, classifies, risk gates entries, and advances exits for all
// open positions.
type Engine struct {
	cfg            *EngineConfig
	tickSignals    chan struct{}
	tickDone       chan TickOutcome
	statusRequests chan StatusRequest
	workers        chan struct{}
}

// NewEngine initializes a new decision engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if len(cfg.Universe) == 0 {
		return nil, fmt.Errorf("no tickers provided for decision engine")
	}
	if err := cfg.RiskConfig.Validate(); err != nil {
		return nil, fmt.Errorf("validating risk config: %w", err)
	}
	if cfg.ConsensusRuns <= 0 {
		cfg.ConsensusRuns = defaultConsensusRuns
	}
	if cfg.MinConsensusRuns <= 0 {
		cfg.MinConsensusRuns = defaultMinConsensusRuns
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	normalized := make([]string, len(cfg.Universe))
	for idx := range cfg.Universe {
		normalized[idx] = shared.NormalizeTicker(cfg.Universe[idx])
	}
	cfg.Universe = normalized

	return &Engine{
		cfg:            cfg,
		tickSignals:    make(chan struct{}, 1),
		tickDone:       make(chan TickOutcome, 1),
		statusRequests: make(chan StatusRequest, bufferSize),
		workers:        make(chan struct{}, maxWorkers),
	}, nil
}

// SignalTick relays a tick trigger for processing. A trigger arriving while
// one is already pending is coalesced.
func (e *Engine) SignalTick() {
	select {
	case e.tickSignals <- struct{}{}:
		// do nothing.
	default:
		e.cfg.Logger.Warn().Msg("tick signal already pending, coalescing")
	}
}

// SendStatusRequest relays the provided status request for processing.
func (e *Engine) SendStatusRequest(req StatusRequest) {
	select {
	case e.statusRequests <- req:
		// do nothing.
	default:
		e.cfg.Logger.Error().Msgf("status request channel at capacity: %d/%d",
			len(e.statusRequests), bufferSize)
	}
}

// consensusScore runs the sentiment model ConsensusRuns times for the event
// and averages the valid scores. Runs serialize at the sentiment gateway's
// pacing. Fewer than MinConsensusRuns valid scores makes the consensus
// unusable for this tick.
func (e *Engine) consensusScore(ctx context.Context, event *shared.EarningsEvent) (*shared.SentimentScore, error) {
	scores := make([]float64, 0, e.cfg.ConsensusRuns)
	var reasoning string

	for run := 1; run <= e.cfg.ConsensusRuns; run++ {
		score, err := e.cfg.Sentiment.ScoreEarnings(ctx, event)
		if err != nil {
			e.cfg.Logger.Error().Msgf("sentiment run %d/%d for %s: %v",
				run, e.cfg.ConsensusRuns, event.Ticker, err)
			continue
		}

		scores = append(scores, score.Value)
		reasoning = score.Reasoning
	}

	if len(scores) < e.cfg.MinConsensusRuns {
		return nil, fmt.Errorf("%w: only %d/%d valid consensus runs for %s",
			shared.ErrSentimentUnavailable, len(scores), e.cfg.ConsensusRuns, event.Ticker)
	}

	var sum float64
	for idx := range scores {
		sum += scores[idx]
	}

	return &shared.SentimentScore{
		Ticker:    event.Ticker,
		Value:     sum / float64(len(scores)),
		Runs:      len(scores),
		Reasoning: reasoning,
		CreatedOn: e.cfg.Now(),
	}, nil
}

// submitExit submits the exit order for the provided intent and confirms the
// close on fill. An execution rejection for an absent position counts as
// confirmation at the evaluation price.
func (e *Engine) submitExit(ctx context.Context, intent *position.ExitIntent, evalPrice float64) bool {
	fill, err := e.cfg.Executor.SubmitOrder(ctx, intent.Ticker, shared.SellSide, intent.Quantity)
	switch {
	case err == nil:
		_, err = e.cfg.Tracker.ConfirmExit(intent.PositionID, fill.FillPrice, intent.Reason)
		if err != nil {
			e.cfg.Logger.Error().Msgf("confirming exit for %s: %v", intent.Ticker, err)
			return false
		}
		return true
	case errors.Is(err, shared.ErrPositionAbsent):
		// The provider reports no position backing the order, treat the
		// rejection as confirmation rather than an error.
		e.cfg.Logger.Warn().Msgf("exit order for %s reports no open position, confirming close at %.2f: %v",
			intent.Ticker, evalPrice, err)
		_, confirmErr := e.cfg.Tracker.ConfirmExit(intent.PositionID, evalPrice, intent.Reason)
		if confirmErr != nil {
			e.cfg.Logger.Error().Msgf("confirming exit for %s: %v", intent.Ticker, confirmErr)
			return false
		}
		return true
	default:
		// Recoverable provider error, including plain rejections. The
		// position stays open and the trigger re-fires next tick.
		e.cfg.Logger.Error().Msgf("exit order for %s: %v", intent.Ticker, err)
		return false
	}
}

// evaluateExits runs the exit state machine for every open position and
// submits triggered exit orders. Returns the set of tickers exited this tick
// so the entry pass never reopens a ticker the same tick its stop fired.
func (e *Engine) evaluateExits(ctx context.Context, outcome *TickOutcome) map[string]bool {
	exited := make(map[string]bool)

	for _, ticker := range e.cfg.Tracker.OpenTickers() {
		if ctx.Err() != nil {
			return exited
		}

		price, err := e.cfg.Calendar.FetchQuote(ctx, ticker)
		if err != nil {
			e.cfg.Logger.Error().Msgf("fetching quote for open position %s: %v", ticker, err)
			outcome.TickersErrored++
			continue
		}

		intent, err := e.cfg.Tracker.EvaluateTick(ticker, price)
		if err != nil {
			e.cfg.Logger.Error().Msgf("evaluating exit for %s: %v", ticker, err)
			outcome.TickersErrored++
			continue
		}
		if intent == nil {
			continue
		}

		if e.submitExit(ctx, intent, price) {
			exited[ticker] = true
			outcome.ExitsSubmitted++
		}
	}

	return exited
}

// enterPosition authorizes, submits and records an entry for an actionable
// signal. Portfolio state is derived fresh inside the tracker's exclusion
// domain, and the approved exposure stays reserved while the order is in
// flight.
func (e *Engine) enterPosition(ctx context.Context, ticker string, signal shared.Signal, outcome *TickOutcome, mtx *sync.Mutex) {
	account, err := e.cfg.Executor.GetAccountState(ctx)
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching account state for %s: %v", ticker, err)
		mtx.Lock()
		outcome.TickersErrored++
		mtx.Unlock()
		return
	}

	price, err := e.cfg.Calendar.FetchQuote(ctx, ticker)
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching quote for %s: %v", ticker, err)
		mtx.Lock()
		outcome.TickersErrored++
		mtx.Unlock()
		return
	}

	reservationID, auth, err := e.cfg.Tracker.AuthorizeEntry(ticker, signal, price, account)
	if err != nil {
		e.cfg.Logger.Error().Msgf("authorizing entry for %s: %v", ticker, err)
		mtx.Lock()
		outcome.TickersErrored++
		mtx.Unlock()
		return
	}
	if !auth.Approved() {
		// Risk rejections are expected decisions, not failures.
		e.cfg.Logger.Info().Msgf("entry for %s rejected: %s", ticker, auth.Decision.String())
		mtx.Lock()
		outcome.Rejections++
		mtx.Unlock()
		return
	}

	if ctx.Err() != nil {
		// Stop observed, do not start a new order submission.
		e.cfg.Tracker.ReleaseEntry(reservationID)
		return
	}

	fill, err := e.cfg.Executor.SubmitOrder(ctx, ticker, shared.BuySide, auth.Quantity)
	if err != nil {
		e.cfg.Tracker.ReleaseEntry(reservationID)
		e.cfg.Logger.Error().Msgf("entry order for %s: %v", ticker, err)
		mtx.Lock()
		outcome.TickersErrored++
		mtx.Unlock()
		return
	}

	_, err = e.cfg.Tracker.CommitEntry(reservationID, fill)
	if err != nil {
		e.cfg.Logger.Error().Msgf("recording entry for %s: %v", ticker, err)
		mtx.Lock()
		outcome.TickersErrored++
		mtx.Unlock()
		return
	}

	mtx.Lock()
	outcome.EntriesOpened++
	mtx.Unlock()
}

// processEarningsEvent scores, classifies and acts on a single due earnings
// event. Failures are isolated to the event's ticker.
func (e *Engine) processEarningsEvent(ctx context.Context, event *shared.EarningsEvent, outcome *TickOutcome, mtx *sync.Mutex) {
	score, err := e.consensusScore(ctx, event)
	if err != nil {
		mtx.Lock()
		outcome.TickersErrored++
		mtx.Unlock()
		return
	}

	signal, err := shared.ClassifySignal(score.Value, e.cfg.RiskConfig.SignalThresholds)
	if err != nil {
		// Malformed scores degrade to a hold for this tick, never a
		// silent coercion.
		e.cfg.Logger.Error().Msgf("classifying score for %s: %v", event.Ticker, err)
		mtx.Lock()
		outcome.Holds++
		mtx.Unlock()
		return
	}

	err = e.cfg.AppendSentiment(&shared.SentimentRecord{
		Ticker: event.Ticker,
		Score:  score.Value,
		Signal: signal,
		Runs:   score.Runs,
	})
	if err != nil {
		e.cfg.Logger.Error().Msgf("appending sentiment history for %s: %v", event.Ticker, err)
	}

	e.cfg.Logger.Info().Msgf("%s scored %.2f over %d runs: %s",
		event.Ticker, score.Value, score.Runs, signal.String())

	switch {
	case signal.Bearish():
		intent, err := e.cfg.Tracker.ReversalExit(event.Ticker)
		if err != nil {
			e.cfg.Logger.Error().Msgf("evaluating reversal exit for %s: %v", event.Ticker, err)
			mtx.Lock()
			outcome.TickersErrored++
			mtx.Unlock()
			return
		}
		if intent == nil {
			return
		}

		// The current quote is the reference price should the close be
		// confirmed without a broker fill.
		price, err := e.cfg.Calendar.FetchQuote(ctx, event.Ticker)
		if err != nil {
			e.cfg.Logger.Error().Msgf("fetching quote for reversal exit %s: %v", event.Ticker, err)
			mtx.Lock()
			outcome.TickersErrored++
			mtx.Unlock()
			return
		}

		if e.submitExit(ctx, intent, price) {
			mtx.Lock()
			outcome.ExitsSubmitted++
			mtx.Unlock()
		}
	case signal.Actionable():
		e.enterPosition(ctx, event.Ticker, signal, outcome, mtx)
	default:
		mtx.Lock()
		outcome.Holds++
		mtx.Unlock()
	}
}

// recordPastEarnings records the most recent past earnings date for tickers
// without an upcoming event, best effort.
func (e *Engine) recordPastEarnings(ctx context.Context, upcoming []shared.EarningsEvent) {
	withUpcoming := make(map[string]bool, len(upcoming))
	for idx := range upcoming {
		withUpcoming[upcoming[idx].Ticker] = true
	}

	remaining := make([]string, 0, len(e.cfg.Universe))
	for _, ticker := range e.cfg.Universe {
		if !withUpcoming[ticker] {
			remaining = append(remaining, ticker)
		}
	}
	if len(remaining) == 0 {
		return
	}

	past, err := e.cfg.Calendar.FetchPastEarnings(ctx, remaining)
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching past earnings: %v", err)
		return
	}

	for idx := range past {
		err := e.cfg.RecordPastEarnings(&past[idx])
		if err != nil {
			e.cfg.Logger.Error().Msgf("recording past earnings for %s: %v", past[idx].Ticker, err)
		}
	}
}

// runTick executes one decision cycle. Exits for open positions evaluate
// before any new entries so a fired stop is never immediately reentered, and
// per-ticker failures never abort the rest of the tick.
func (e *Engine) runTick(ctx context.Context) TickOutcome {
	outcome := TickOutcome{Start: e.cfg.Now()}

	exited := e.evaluateExits(ctx, &outcome)

	events, err := e.cfg.Calendar.FetchUpcomingEarnings(ctx, e.cfg.Universe,
		e.cfg.RiskConfig.EarningsLookaheadDays)
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching earnings calendar: %v", err)
		outcome.TickersErrored++
		events = nil
	}

	e.recordPastEarnings(ctx, events)

	due := make([]shared.EarningsEvent, 0, len(events))
	for idx := range events {
		if events[idx].DaysUntil > e.cfg.RiskConfig.EarningsLookaheadDays {
			continue
		}
		outcome.EventsDue++

		if exited[events[idx].Ticker] {
			outcome.TickersSkipped++
			continue
		}
		due = append(due, events[idx])
	}

	var mtx sync.Mutex
	var wg sync.WaitGroup
	for idx := range due {
		event := due[idx]
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		e.workers <- struct{}{}
		go func(event *shared.EarningsEvent) {
			defer wg.Done()
			e.processEarningsEvent(ctx, event, &outcome, &mtx)
			<-e.workers
		}(&event)
	}
	wg.Wait()

	outcome.End = e.cfg.Now()

	return outcome
}

// Run manages the lifecycle processes of the decision engine. A manual stop
// through context cancellation takes effect by the start of the next tick at
// the latest.
func (e *Engine) Run(ctx context.Context) error {
	_, err := e.cfg.JobScheduler.Every(e.cfg.RiskConfig.CheckInterval).Do(e.SignalTick)
	if err != nil {
		return fmt.Errorf("scheduling decision tick: %w", err)
	}

	e.cfg.JobScheduler.StartAsync()
	defer e.cfg.JobScheduler.Stop()

	// Run the first tick immediately rather than waiting a full interval.
	e.SignalTick()

	var lastTick TickOutcome
	tickInProgress := false

	for {
		select {
		case <-ctx.Done():
			if tickInProgress {
				// Let the in-flight tick wind down before returning.
				<-e.tickDone
			}
			return nil
		case <-e.tickSignals:
			if ctx.Err() != nil {
				continue
			}
			if tickInProgress {
				e.cfg.Logger.Warn().Msg("previous tick still running, skipping")
				continue
			}
			tickInProgress = true
			go func() {
				e.tickDone <- e.runTick(ctx)
			}()
		case outcome := <-e.tickDone:
			tickInProgress = false
			lastTick = outcome
			e.cfg.Logger.Info().Msgf("tick done: %d due, %d entries, %d exits, %d holds, %d rejections, %d errors",
				outcome.EventsDue, outcome.EntriesOpened, outcome.ExitsSubmitted,
				outcome.Holds, outcome.Rejections, outcome.TickersErrored)
		case req := <-e.statusRequests:
			req.Response <- Status{
				Running:        ctx.Err() == nil,
				TickInProgress: tickInProgress,
				LastTick:       lastTick,
				OpenPositions:  e.cfg.Tracker.OpenPositions(),
			}
		}
	}
}
