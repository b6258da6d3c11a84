// Package fetch implements the external data, sentiment and execution
// provider clients.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wrenb/earnwatch/gateway"
	"github.com/wrenb/earnwatch/shared"
)

const (
	// FinnhubBaseURL is the production finnhub api endpoint.
	FinnhubBaseURL = "https://finnhub.io/api/v1"
)

// FinnhubConfig represents the configuration for the finnhub client.
type FinnhubConfig struct {
	// APIKey is the finnhub API key.
	APIKey string
	// BaseURL is the api endpoint to query.
	BaseURL string
	// Gateway paces calls to the provider.
	Gateway *gateway.Gateway
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// FinnhubClient represents the finnhub earnings calendar and quote client.
type FinnhubClient struct {
	cfg   *FinnhubConfig
	httpc http.Client
}

// Ensure the finnhub client implements the CalendarFetcher interface.
var _ shared.CalendarFetcher = (*FinnhubClient)(nil)

// NewFinnhubClient initializes a new finnhub client.
func NewFinnhubClient(cfg *FinnhubConfig) (*FinnhubClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("finnhub api key cannot be an empty string")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &FinnhubClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 10},
	}, nil
}

// get executes a paced GET request against the api and returns the response body.
func (c *FinnhubClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	err := c.cfg.Gateway.Wait(ctx)
	if err != nil {
		return nil, err
	}

	params.Add("token", c.cfg.APIKey)
	formedURL := fmt.Sprintf("%s%s?%s", c.cfg.BaseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating finnhub request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrCalendarUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: finnhub status %d", shared.ErrCalendarUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading finnhub response body: %w", err)
	}

	return body, nil
}

// parseCalendar parses earnings events for the tracked tickers from the
// provided calendar response.
func (c *FinnhubClient) parseCalendar(body []byte, tickers []string) []shared.EarningsEvent {
	tracked := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		tracked[shared.NormalizeTicker(ticker)] = true
	}

	now := c.cfg.Now()
	data := gjson.GetBytes(body, "earningsCalendar").Array()
	events := make([]shared.EarningsEvent, 0, len(data))

	for idx := range data {
		ticker := shared.NormalizeTicker(data[idx].Get("symbol").String())
		if !tracked[ticker] {
			continue
		}

		scheduled, err := time.Parse(shared.EarningsDateLayout, data[idx].Get("date").String())
		if err != nil {
			continue
		}

		hour := data[idx].Get("hour").String()
		if hour == "" {
			hour = "amc"
		}

		events = append(events, shared.EarningsEvent{
			Ticker:    ticker,
			Scheduled: scheduled,
			Hour:      hour,
			DaysUntil: shared.DaysUntil(now, scheduled),
		})
	}

	return events
}

// FetchUpcomingEarnings fetches earnings events scheduled within the
// provided number of days for the given tickers.
func (c *FinnhubClient) FetchUpcomingEarnings(ctx context.Context, tickers []string, withinDays int) ([]shared.EarningsEvent, error) {
	const calendarPath = "/calendar/earnings"

	now := c.cfg.Now()
	params := url.Values{}
	params.Add("from", now.Format(shared.EarningsDateLayout))
	params.Add("to", now.AddDate(0, 0, withinDays).Format(shared.EarningsDateLayout))

	body, err := c.get(ctx, calendarPath, params)
	if err != nil {
		return nil, err
	}

	events := c.parseCalendar(body, tickers)

	// Only report future events, an event dated today has already passed
	// its pre-earnings assessment window.
	upcoming := make([]shared.EarningsEvent, 0, len(events))
	for idx := range events {
		if events[idx].DaysUntil > 0 && events[idx].DaysUntil <= withinDays {
			upcoming = append(upcoming, events[idx])
		}
	}

	return upcoming, nil
}

// FetchPastEarnings fetches the most recent past earnings event per ticker
// in a single bulk call, looking back PastEarningsLookbackDays.
func (c *FinnhubClient) FetchPastEarnings(ctx context.Context, tickers []string) ([]shared.EarningsEvent, error) {
	const calendarPath = "/calendar/earnings"

	now := c.cfg.Now()
	params := url.Values{}
	params.Add("from", now.AddDate(0, 0, -shared.PastEarningsLookbackDays).Format(shared.EarningsDateLayout))
	params.Add("to", now.Format(shared.EarningsDateLayout))

	body, err := c.get(ctx, calendarPath, params)
	if err != nil {
		return nil, err
	}

	events := c.parseCalendar(body, tickers)

	// Keep only the most recent past event per ticker.
	latest := make(map[string]shared.EarningsEvent)
	for idx := range events {
		if events[idx].DaysUntil >= 0 {
			continue
		}
		prev, ok := latest[events[idx].Ticker]
		if !ok || events[idx].Scheduled.After(prev.Scheduled) {
			latest[events[idx].Ticker] = events[idx]
		}
	}

	past := make([]shared.EarningsEvent, 0, len(latest))
	for _, event := range latest {
		past = append(past, event)
	}

	return past, nil
}

// FetchQuote fetches the current market price for a ticker.
func (c *FinnhubClient) FetchQuote(ctx context.Context, ticker string) (float64, error) {
	const quotePath = "/quote"

	params := url.Values{}
	params.Add("symbol", shared.NormalizeTicker(ticker))

	body, err := c.get(ctx, quotePath, params)
	if err != nil {
		return 0, err
	}

	price := gjson.GetBytes(body, "c").Float()
	if price <= 0 {
		return 0, fmt.Errorf("%w: invalid quote for %s: %v", shared.ErrCalendarUnavailable, ticker, price)
	}

	return price, nil
}
