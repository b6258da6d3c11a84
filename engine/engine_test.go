package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
	"github.com/wrenb/earnwatch/position"
	"github.com/wrenb/earnwatch/shared"
)

// fakeCalendar serves canned earnings events and quotes.
type fakeCalendar struct {
	mtx      sync.Mutex
	upcoming []shared.EarningsEvent
	past     []shared.EarningsEvent
	quotes   map[string]float64
	quoteErr map[string]error
	fetchErr error
}

func (f *fakeCalendar) FetchUpcomingEarnings(ctx context.Context, tickers []string, withinDays int) ([]shared.EarningsEvent, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	return f.upcoming, nil
}

func (f *fakeCalendar) FetchPastEarnings(ctx context.Context, tickers []string) ([]shared.EarningsEvent, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	return f.past, nil
}

func (f *fakeCalendar) FetchQuote(ctx context.Context, ticker string) (float64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err, ok := f.quoteErr[ticker]; ok {
		return 0, err
	}

	return f.quotes[ticker], nil
}

// fakeScorer serves a fixed sequence of scores per ticker, repeating the last
// score once the sequence is exhausted.
type fakeScorer struct {
	mtx    sync.Mutex
	scores map[string][]float64
	errs   map[string]error
	calls  map[string]int
}

func (f *fakeScorer) ScoreEarnings(ctx context.Context, event *shared.EarningsEvent) (*shared.SentimentScore, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[event.Ticker]++

	if err, ok := f.errs[event.Ticker]; ok {
		return nil, err
	}

	seq := f.scores[event.Ticker]
	idx := f.calls[event.Ticker] - 1
	if idx >= len(seq) {
		idx = len(seq) - 1
	}

	return &shared.SentimentScore{
		Ticker: event.Ticker,
		Value:  seq[idx],
		Runs:   1,
	}, nil
}

type submittedOrder struct {
	ticker   string
	side     shared.OrderSide
	quantity int64
}

// fakeExecutor records submitted orders and fills them at the configured price.
type fakeExecutor struct {
	mtx       sync.Mutex
	account   shared.AccountState
	fills     map[string]float64
	submitErr map[string]error
	orders    []submittedOrder
	nextID    int
}

func (f *fakeExecutor) GetAccountState(ctx context.Context) (*shared.AccountState, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	account := f.account
	return &account, nil
}

func (f *fakeExecutor) SubmitOrder(ctx context.Context, ticker string, side shared.OrderSide, quantity int64) (*shared.OrderResult, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err, ok := f.submitErr[ticker]; ok {
		return nil, err
	}

	f.orders = append(f.orders, submittedOrder{ticker: ticker, side: side, quantity: quantity})
	f.nextID++

	return &shared.OrderResult{
		OrderID:   strconv.Itoa(f.nextID),
		FilledQty: quantity,
		FillPrice: f.fills[ticker],
	}, nil
}

func (f *fakeExecutor) submitted() []submittedOrder {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	orders := make([]submittedOrder, len(f.orders))
	copy(orders, f.orders)

	return orders
}

type engineHarness struct {
	engine    *Engine
	calendar  *fakeCalendar
	scorer    *fakeScorer
	executor  *fakeExecutor
	tracker   *position.Tracker
	sentiment []*shared.SentimentRecord
	pastSeen  []*shared.EarningsEvent
	closed    []*position.Position
}

func setupTestEngine(t *testing.T, universe []string) *engineHarness {
	t.Helper()

	harness := &engineHarness{
		calendar: &fakeCalendar{
			quotes:   make(map[string]float64),
			quoteErr: make(map[string]error),
		},
		scorer: &fakeScorer{
			scores: make(map[string][]float64),
			errs:   make(map[string]error),
		},
		executor: &fakeExecutor{
			account:   shared.AccountState{Equity: 100_000, BuyingPower: 100_000},
			fills:     make(map[string]float64),
			submitErr: make(map[string]error),
		},
	}

	var mtx sync.Mutex

	cfg := shared.DefaultRiskConfig()
	harness.tracker = position.NewTracker(&position.TrackerConfig{
		RiskConfig: cfg,
		Notify:     func(message string) {},
		PersistClosedPosition: func(pos *position.Position) error {
			mtx.Lock()
			defer mtx.Unlock()
			harness.closed = append(harness.closed, pos)
			return nil
		},
		Logger: &log.Logger,
	})

	eng, err := NewEngine(&EngineConfig{
		Universe:   universe,
		RiskConfig: cfg,
		Calendar:   harness.calendar,
		Sentiment:  harness.scorer,
		Executor:   harness.executor,
		Tracker:    harness.tracker,
		AppendSentiment: func(record *shared.SentimentRecord) error {
			mtx.Lock()
			defer mtx.Unlock()
			harness.sentiment = append(harness.sentiment, record)
			return nil
		},
		RecordPastEarnings: func(event *shared.EarningsEvent) error {
			mtx.Lock()
			defer mtx.Unlock()
			harness.pastSeen = append(harness.pastSeen, event)
			return nil
		},
		JobScheduler: gocron.NewScheduler(time.UTC),
		Logger:       &log.Logger,
	})
	assert.NoError(t, err)
	harness.engine = eng

	return harness
}

// seedPosition opens a tracked position for the ticker through the entry path.
func seedPosition(t *testing.T, harness *engineHarness, ticker string, price float64) *position.Position {
	t.Helper()

	account := &harness.executor.account
	id, auth, err := harness.tracker.AuthorizeEntry(ticker, shared.Buy, price, account)
	assert.NoError(t, err)
	assert.True(t, auth.Approved())

	pos, err := harness.tracker.CommitEntry(id, &shared.OrderResult{
		OrderID:   "seed",
		FilledQty: auth.Quantity,
		FillPrice: price,
	})
	assert.NoError(t, err)

	return pos
}

func dueEvent(ticker string, daysUntil int) shared.EarningsEvent {
	return shared.EarningsEvent{
		Ticker:    ticker,
		Scheduled: time.Now().AddDate(0, 0, daysUntil),
		Hour:      "amc",
		DaysUntil: daysUntil,
	}
}

func TestNewEngineValidation(t *testing.T) {
	// Ensure the engine requires a universe.
	_, err := NewEngine(&EngineConfig{RiskConfig: shared.DefaultRiskConfig()})
	assert.Error(t, err)

	// Ensure the engine rejects an invalid risk config.
	bad := shared.DefaultRiskConfig()
	bad.MaxExposure = 1.5
	_, err = NewEngine(&EngineConfig{Universe: []string{"AAPL"}, RiskConfig: bad})
	assert.Error(t, err)
}

func TestRunTickEntryFlow(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 3)}
	harness.calendar.quotes["AAPL"] = 100
	harness.scorer.scores["AAPL"] = []float64{80}
	harness.executor.fills["AAPL"] = 100

	outcome := harness.engine.runTick(context.Background())

	// Ensure a strong buy consensus opened a sized position.
	assert.Equal(t, 1, outcome.EventsDue)
	assert.Equal(t, 1, outcome.EntriesOpened)
	assert.Equal(t, 0, outcome.TickersErrored)

	orders := harness.executor.submitted()
	assert.Equal(t, 1, len(orders))
	assert.Equal(t, "AAPL", orders[0].ticker)
	assert.Equal(t, shared.BuySide, orders[0].side)

	// Ensure the strong buy multiplier sized the order:
	// 0.015 x 1.5 x 100000 / 100 = 22.
	assert.Equal(t, int64(22), orders[0].quantity)

	assert.Equal(t, []string{"AAPL"}, harness.tracker.OpenTickers())

	// Ensure the consensus was appended to sentiment history.
	assert.Equal(t, 1, len(harness.sentiment))
	assert.Equal(t, float64(80), harness.sentiment[0].Score)
	assert.Equal(t, shared.StrongBuy, harness.sentiment[0].Signal)
	assert.Equal(t, 3, harness.sentiment[0].Runs)
}

func TestRunTickConsensusAveraging(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 2)}
	harness.calendar.quotes["AAPL"] = 100
	harness.scorer.scores["AAPL"] = []float64{80, 50, 62}
	harness.executor.fills["AAPL"] = 100

	outcome := harness.engine.runTick(context.Background())

	// Ensure the three runs averaged into a buy consensus: (80+50+62)/3 = 64.
	assert.Equal(t, 1, outcome.EntriesOpened)
	assert.Equal(t, 1, len(harness.sentiment))
	assert.Equal(t, float64(64), harness.sentiment[0].Score)
	assert.Equal(t, shared.Buy, harness.sentiment[0].Signal)

	// Ensure a plain buy carries no multiplier: 0.015 x 100000 / 100 = 15.
	orders := harness.executor.submitted()
	assert.Equal(t, int64(15), orders[0].quantity)
}

func TestRunTickHold(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 2)}
	harness.calendar.quotes["AAPL"] = 100
	harness.scorer.scores["AAPL"] = []float64{50}

	outcome := harness.engine.runTick(context.Background())

	// Ensure a hold consensus took no action.
	assert.Equal(t, 1, outcome.Holds)
	assert.Equal(t, 0, outcome.EntriesOpened)
	assert.Equal(t, 0, len(harness.executor.submitted()))
	assert.Equal(t, 0, len(harness.tracker.OpenTickers()))
}

func TestRunTickConsensusUnusable(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 2)}
	harness.scorer.errs["AAPL"] = fmt.Errorf("%w: model overloaded", shared.ErrSentimentUnavailable)

	outcome := harness.engine.runTick(context.Background())

	// Ensure an unusable consensus counts as a ticker error, no entry and
	// no history record.
	assert.Equal(t, 1, outcome.TickersErrored)
	assert.Equal(t, 0, outcome.EntriesOpened)
	assert.Equal(t, 0, len(harness.sentiment))
}

func TestRunTickExitBeforeEntry(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	seedPosition(t, harness, "AAPL", 100)

	// The stop loss fires at 94 while the same ticker has a bullish due
	// event this tick.
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 2)}
	harness.calendar.quotes["AAPL"] = 94
	harness.scorer.scores["AAPL"] = []float64{80}
	harness.executor.fills["AAPL"] = 94

	outcome := harness.engine.runTick(context.Background())

	// Ensure the exit pass ran first and the entry pass skipped the
	// just-exited ticker.
	assert.Equal(t, 1, outcome.ExitsSubmitted)
	assert.Equal(t, 1, outcome.TickersSkipped)
	assert.Equal(t, 0, outcome.EntriesOpened)
	assert.Equal(t, 0, len(harness.tracker.OpenTickers()))

	// Ensure the only order this tick was the exit sell.
	orders := harness.executor.submitted()
	assert.Equal(t, 1, len(orders))
	assert.Equal(t, shared.SellSide, orders[0].side)
	assert.Equal(t, int64(15), orders[0].quantity)
}

func TestRunTickReversalExit(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	seedPosition(t, harness, "AAPL", 100)

	// The open position holds at 101 but sentiment collapsed to a strong
	// sell ahead of the report.
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 1)}
	harness.calendar.quotes["AAPL"] = 101
	harness.scorer.scores["AAPL"] = []float64{20}
	harness.executor.fills["AAPL"] = 101

	outcome := harness.engine.runTick(context.Background())

	// Ensure the bearish consensus exited the open position.
	assert.Equal(t, 1, outcome.ExitsSubmitted)
	assert.Equal(t, 0, len(harness.tracker.OpenTickers()))

	orders := harness.executor.submitted()
	assert.Equal(t, 1, len(orders))
	assert.Equal(t, shared.SellSide, orders[0].side)
}

func TestRunTickReversalExitAbsentConfirms(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	seedPosition(t, harness, "AAPL", 100)

	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 1)}
	harness.calendar.quotes["AAPL"] = 101
	harness.scorer.scores["AAPL"] = []float64{20}
	harness.executor.submitErr["AAPL"] = fmt.Errorf("%w: no open position", shared.ErrPositionAbsent)

	outcome := harness.engine.runTick(context.Background())

	// Ensure a reversal exit confirmed without a broker fill closes at the
	// tick's quote, never at a zero price.
	assert.Equal(t, 1, outcome.ExitsSubmitted)
	assert.Equal(t, 0, len(harness.tracker.OpenTickers()))
	assert.Equal(t, 1, len(harness.closed))
	assert.Equal(t, float64(101), harness.closed[0].ExitPrice)
	assert.Equal(t, float64(1), harness.closed[0].PNLPercent)
}

func TestRunTickBearishWithoutPosition(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 2)}
	harness.calendar.quotes["AAPL"] = 100
	harness.scorer.scores["AAPL"] = []float64{20}

	outcome := harness.engine.runTick(context.Background())

	// Ensure a bearish consensus with nothing open submits no orders,
	// short entries are out of scope.
	assert.Equal(t, 0, outcome.ExitsSubmitted)
	assert.Equal(t, 0, len(harness.executor.submitted()))
}

func TestRunTickPerTickerIsolation(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL", "MSFT"})
	harness.calendar.upcoming = []shared.EarningsEvent{
		dueEvent("AAPL", 2),
		dueEvent("MSFT", 3),
	}
	harness.calendar.quotes["MSFT"] = 200
	harness.scorer.errs["AAPL"] = fmt.Errorf("%w: model overloaded", shared.ErrSentimentUnavailable)
	harness.scorer.scores["MSFT"] = []float64{75}
	harness.executor.fills["MSFT"] = 200

	outcome := harness.engine.runTick(context.Background())

	// Ensure the failed ticker never aborted the rest of the tick.
	assert.Equal(t, 2, outcome.EventsDue)
	assert.Equal(t, 1, outcome.TickersErrored)
	assert.Equal(t, 1, outcome.EntriesOpened)
	assert.Equal(t, []string{"MSFT"}, harness.tracker.OpenTickers())
}

func TestRunTickExitAbsentPositionConfirms(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	seedPosition(t, harness, "AAPL", 100)

	harness.calendar.quotes["AAPL"] = 94
	harness.executor.submitErr["AAPL"] = fmt.Errorf("%w: no open position", shared.ErrPositionAbsent)

	outcome := harness.engine.runTick(context.Background())

	// Ensure a provider report of no backing position is treated as
	// confirmation at the evaluation price instead of leaving a phantom
	// open position.
	assert.Equal(t, 1, outcome.ExitsSubmitted)
	assert.Equal(t, 0, len(harness.tracker.OpenTickers()))
	assert.Equal(t, 1, len(harness.closed))
	assert.Equal(t, float64(94), harness.closed[0].ExitPrice)

	// Ensure a later tick does not resubmit the exit.
	delete(harness.executor.submitErr, "AAPL")
	next := harness.engine.runTick(context.Background())
	assert.Equal(t, 0, next.ExitsSubmitted)
	assert.Equal(t, 0, len(harness.executor.submitted()))
}

func TestRunTickExitRejectionKeepsPositionOpen(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	seedPosition(t, harness, "AAPL", 100)

	harness.calendar.quotes["AAPL"] = 94
	harness.executor.submitErr["AAPL"] = fmt.Errorf("%w: tradier status 500", shared.ErrExecutionRejected)

	outcome := harness.engine.runTick(context.Background())

	// Ensure a transient broker rejection never confirms the close
	// locally, the position stays open and monitored.
	assert.Equal(t, 0, outcome.ExitsSubmitted)
	assert.Equal(t, []string{"AAPL"}, harness.tracker.OpenTickers())
	assert.Equal(t, 0, len(harness.closed))

	// Ensure the stop retries and exits once the provider recovers.
	delete(harness.executor.submitErr, "AAPL")
	harness.executor.fills["AAPL"] = 94

	next := harness.engine.runTick(context.Background())
	assert.Equal(t, 1, next.ExitsSubmitted)
	assert.Equal(t, 0, len(harness.tracker.OpenTickers()))
	assert.Equal(t, 1, len(harness.closed))
}

func TestRunTickProviderOutage(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.fetchErr = fmt.Errorf("%w: status 503", shared.ErrCalendarUnavailable)

	outcome := harness.engine.runTick(context.Background())

	// Ensure a calendar outage degrades the tick rather than failing it.
	assert.Equal(t, 0, outcome.EventsDue)
	assert.Equal(t, 1, outcome.TickersErrored)
}

func TestRunTickRecordsPastEarnings(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL", "MSFT"})
	harness.calendar.upcoming = []shared.EarningsEvent{dueEvent("AAPL", 2)}
	harness.calendar.quotes["AAPL"] = 100
	harness.scorer.scores["AAPL"] = []float64{50}
	harness.calendar.past = []shared.EarningsEvent{
		{Ticker: "MSFT", Scheduled: time.Now().AddDate(0, 0, -10), DaysUntil: -10},
	}

	harness.engine.runTick(context.Background())

	// Ensure the ticker without an upcoming event had its most recent past
	// report recorded.
	assert.Equal(t, 1, len(harness.pastSeen))
	assert.Equal(t, "MSFT", harness.pastSeen[0].Ticker)
}

func TestEngineRunAndStatus(t *testing.T) {
	harness := setupTestEngine(t, []string{"AAPL"})
	harness.calendar.quotes["AAPL"] = 100
	harness.scorer.scores["AAPL"] = []float64{50}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- harness.engine.Run(ctx)
	}()

	// Ensure the engine serves status snapshots while running.
	req := NewStatusRequest()
	harness.engine.SendStatusRequest(req)

	select {
	case status := <-req.Response:
		assert.True(t, status.Running)
		assert.Equal(t, 0, len(status.OpenPositions))
	case <-time.After(time.Second * 5):
		t.Fatal("no status response before timeout")
	}

	// Ensure the engine winds down on cancellation.
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second * 5):
		t.Fatal("engine did not stop before timeout")
	}
}
