// Package database persists sentiment and trade history to rqlite.
package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
	"github.com/wrenb/earnwatch/position"
	"github.com/wrenb/earnwatch/shared"
)

const (
	// SQL statements.
	createSentimentTableSQL = "CREATE TABLE IF NOT EXISTS sentiment_history (id INTEGER PRIMARY KEY AUTOINCREMENT, ticker TEXT, score REAL, signal TEXT, runs INTEGER, createdon INTEGER)"
	createTradeTableSQL     = "CREATE TABLE IF NOT EXISTS trade_history (id TEXT PRIMARY KEY, ticker TEXT, entryprice REAL, quantity INTEGER, exitprice REAL, exitreason TEXT, pnlpercent REAL, createdon INTEGER, closedon INTEGER)"
	createEarningsTableSQL  = "CREATE TABLE IF NOT EXISTS earnings_history (ticker TEXT, scheduled TEXT, hour TEXT, recordedon INTEGER, PRIMARY KEY (ticker, scheduled))"
	appendSentimentSQL      = "INSERT INTO sentiment_history(ticker, score, signal, runs, createdon) VALUES(?,?,?,?,?)"
	appendTradeSQL          = "INSERT INTO trade_history(id, ticker, entryprice, quantity, exitprice, exitreason, pnlpercent, createdon, closedon) VALUES(?,?,?,?,?,?,?,?,?)"
	recordEarningsSQL       = "INSERT OR REPLACE INTO earnings_history(ticker, scheduled, hour, recordedon) VALUES(?,?,?,?)"
)

// HistoryStorer defines the requirements for appending engine history.
type HistoryStorer interface {
	// AppendSentiment appends the provided sentiment record.
	AppendSentiment(ctx context.Context, record *shared.SentimentRecord) error
	// AppendClosedTrade appends the provided closed position.
	AppendClosedTrade(ctx context.Context, pos *position.Position) error
	// RecordEarnings records an observed earnings event date.
	RecordEarnings(ctx context.Context, event *shared.EarningsEvent) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the HistoryStorer interface.
var _ HistoryStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database tables.
func (db *Database) bootstrap(ctx context.Context) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createSentimentTableSQL},
		{SQL: createTradeTableSQL},
		{SQL: createEarningsTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// AppendSentiment appends the provided sentiment record to history.
func (db *Database) AppendSentiment(ctx context.Context, record *shared.SentimentRecord) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: appendSentimentSQL,
			PositionalParams: []any{record.Ticker, record.Score, record.Signal.String(),
				record.Runs, db.cfg.Now().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("appending sentiment for %s: %d -> %s", record.Ticker, idx, errStr)
	}

	return nil
}

// AppendClosedTrade appends the provided closed position to trade history.
func (db *Database) AppendClosedTrade(ctx context.Context, pos *position.Position) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: appendTradeSQL,
			PositionalParams: []any{pos.ID, pos.Ticker, pos.EntryPrice, pos.Quantity,
				pos.ExitPrice, pos.ExitReason.String(), pos.PNLPercent,
				pos.CreatedOn.Unix(), pos.ClosedOn.Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("appending trade for %s: %d -> %s", pos.Ticker, idx, errStr)
	}

	return nil
}

// RecordEarnings records an observed earnings event date for a ticker.
func (db *Database) RecordEarnings(ctx context.Context, event *shared.EarningsEvent) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: recordEarningsSQL,
			PositionalParams: []any{event.Ticker, event.Scheduled.Format(shared.EarningsDateLayout),
				event.Hour, db.cfg.Now().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("recording earnings for %s: %d -> %s", event.Ticker, idx, errStr)
	}

	return nil
}
