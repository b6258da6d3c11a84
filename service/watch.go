// Package service wires the engine components together and manages their
// lifecycles.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/wrenb/earnwatch/database"
	"github.com/wrenb/earnwatch/engine"
	"github.com/wrenb/earnwatch/fetch"
	"github.com/wrenb/earnwatch/gateway"
	"github.com/wrenb/earnwatch/position"
	"github.com/wrenb/earnwatch/shared"
)

const (
	// calendarSpacing is the minimum interval between finnhub calls.
	calendarSpacing = 1500 * time.Millisecond
	// sentimentSpacing is the minimum interval between sentiment model calls.
	sentimentSpacing = 200 * time.Millisecond
	// executionSpacing is the minimum interval between tradier calls.
	executionSpacing = time.Second
	// gatewayMaxWait bounds how long any call may queue for a departure slot.
	gatewayMaxWait = 2 * time.Minute
	// statusTimeout bounds how long a status query may wait on the engine.
	statusTimeout = 5 * time.Second
)

// WatchConfig represents the configuration struct for the watch service.
type WatchConfig struct {
	// Universe represents the tracked tickers.
	Universe []string
	// RiskConfig represents the engine risk parameters.
	RiskConfig *shared.RiskConfig
	// FinnhubAPIKey is the finnhub API key.
	FinnhubAPIKey string
	// XAIAPIKey is the xAI API key.
	XAIAPIKey string
	// TradierAPIKey is the tradier API key.
	TradierAPIKey string
	// TradierAccountID is the tradier account id.
	TradierAccountID string
	// PaperTrading routes execution to the tradier sandbox.
	PaperTrading bool
	// DatabaseEndpoint represents the history database endpoint.
	DatabaseEndpoint string
	// DatabaseUser is the history database user.
	DatabaseUser string
	// DatabasePass is the history database user pass.
	DatabasePass string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config has sane inputs.
func (cfg *WatchConfig) Validate() error {
	var errs error

	if len(cfg.Universe) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no tickers provided for watch service"))
	}
	if cfg.FinnhubAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("finnhub api key cannot be an empty string"))
	}
	if cfg.XAIAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("xai api key cannot be an empty string"))
	}
	if cfg.TradierAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("tradier api key cannot be an empty string"))
	}
	if cfg.TradierAccountID == "" {
		errs = errors.Join(errs, fmt.Errorf("tradier account id cannot be an empty string"))
	}
	if cfg.DatabaseEndpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}
	if err := cfg.RiskConfig.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}

	return errs
}

// Watch represents the earnings sentiment watch service.
type Watch struct {
	cfg     *WatchConfig
	tracker *position.Tracker
	engine  *engine.Engine
	db      *database.Database
	logger  *zerolog.Logger
	wg      sync.WaitGroup
}

// NewWatch initializes a new watch service.
func NewWatch(ctx context.Context, cfg *WatchConfig) (*Watch, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating watch config: %w", err)
	}

	logger := log.With().Str("service", "earnwatch").Logger()

	_, loc, err := shared.NewYorkTime()
	if err != nil {
		return nil, fmt.Errorf("fetching new york time: %v", err)
	}

	dbLogger := logger.With().Str("component", "database").Logger()
	db, err := database.NewDatabase(ctx, &database.DatabaseConfig{
		Endpoint: cfg.DatabaseEndpoint,
		User:     cfg.DatabaseUser,
		Pass:     cfg.DatabasePass,
		Logger:   &dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating database: %v", err)
	}

	calendarGwLogger := logger.With().Str("component", "calendargateway").Logger()
	calendarGw, err := gateway.New(&gateway.Config{
		Name:    "finnhub",
		Spacing: calendarSpacing,
		MaxWait: gatewayMaxWait,
		Logger:  &calendarGwLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating calendar gateway: %v", err)
	}

	sentimentGwLogger := logger.With().Str("component", "sentimentgateway").Logger()
	sentimentGw, err := gateway.New(&gateway.Config{
		Name:    "grok",
		Spacing: sentimentSpacing,
		MaxWait: gatewayMaxWait,
		Logger:  &sentimentGwLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sentiment gateway: %v", err)
	}

	executionGwLogger := logger.With().Str("component", "executiongateway").Logger()
	executionGw, err := gateway.New(&gateway.Config{
		Name:    "tradier",
		Spacing: executionSpacing,
		MaxWait: gatewayMaxWait,
		Logger:  &executionGwLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating execution gateway: %v", err)
	}

	finnhub, err := fetch.NewFinnhubClient(&fetch.FinnhubConfig{
		APIKey:  cfg.FinnhubAPIKey,
		BaseURL: fetch.FinnhubBaseURL,
		Gateway: calendarGw,
	})
	if err != nil {
		return nil, fmt.Errorf("creating finnhub client: %v", err)
	}

	grok, err := fetch.NewGrokClient(&fetch.GrokConfig{
		APIKey:  cfg.XAIAPIKey,
		BaseURL: fetch.GrokBaseURL,
		Gateway: sentimentGw,
	})
	if err != nil {
		return nil, fmt.Errorf("creating grok client: %v", err)
	}

	tradierBaseURL := fetch.TradierLiveBaseURL
	if cfg.PaperTrading {
		tradierBaseURL = fetch.TradierSandboxBaseURL
	}
	tradier, err := fetch.NewTradierClient(&fetch.TradierConfig{
		APIKey:    cfg.TradierAPIKey,
		AccountID: cfg.TradierAccountID,
		BaseURL:   tradierBaseURL,
		Gateway:   executionGw,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tradier client: %v", err)
	}

	trackerLogger := logger.With().Str("component", "tracker").Logger()
	tracker := position.NewTracker(&position.TrackerConfig{
		RiskConfig: cfg.RiskConfig,
		Notify: func(message string) {
			logger.Info().Msg(message)
		},
		PersistClosedPosition: func(pos *position.Position) error {
			return db.AppendClosedTrade(context.Background(), pos)
		},
		Logger: &trackerLogger,
	})

	jobScheduler := gocron.NewScheduler(loc)

	engineLogger := logger.With().Str("component", "engine").Logger()
	eng, err := engine.NewEngine(&engine.EngineConfig{
		Universe:   cfg.Universe,
		RiskConfig: cfg.RiskConfig,
		Calendar:   finnhub,
		Sentiment:  grok,
		Executor:   tradier,
		Tracker:    tracker,
		AppendSentiment: func(record *shared.SentimentRecord) error {
			return db.AppendSentiment(context.Background(), record)
		},
		RecordPastEarnings: func(event *shared.EarningsEvent) error {
			return db.RecordEarnings(context.Background(), event)
		},
		JobScheduler: jobScheduler,
		Logger:       &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decision engine: %v", err)
	}

	service := &Watch{
		cfg:     cfg,
		tracker: tracker,
		engine:  eng,
		db:      db,
		logger:  &logger,
	}

	return service, nil
}

// Status fetches a read-only engine status snapshot for the presentation layer.
func (w *Watch) Status() (engine.Status, error) {
	req := engine.NewStatusRequest()
	w.engine.SendStatusRequest(req)

	select {
	case status := <-req.Response:
		return status, nil
	case <-time.After(statusTimeout):
		return engine.Status{}, fmt.Errorf("status request timed out")
	}
}

// Run handles the lifecycle processes of the watch service.
func (w *Watch) Run(ctx context.Context) {
	w.wg.Add(1)

	go func() {
		err := w.engine.Run(ctx)
		if err != nil {
			w.logger.Error().Msgf("running decision engine: %v", err)
			w.cfg.Cancel()
		}
		w.wg.Done()
	}()

	w.wg.Wait()
}
