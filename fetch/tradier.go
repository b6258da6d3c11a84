package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wrenb/earnwatch/gateway"
	"github.com/wrenb/earnwatch/shared"
)

const (
	// TradierSandboxBaseURL is the paper trading api endpoint.
	TradierSandboxBaseURL = "https://sandbox.tradier.com"
	// TradierLiveBaseURL is the live trading api endpoint.
	TradierLiveBaseURL = "https://api.tradier.com"

	// maxFillPolls is the number of order status polls before a submitted
	// order is reported as timed out.
	maxFillPolls = 3
)

// TradierConfig represents the configuration for the tradier client.
type TradierConfig struct {
	// APIKey is the tradier API key.
	APIKey string
	// AccountID is the tradier account id.
	AccountID string
	// BaseURL is the api endpoint to query.
	BaseURL string
	// Gateway paces calls to the provider.
	Gateway *gateway.Gateway
}

// TradierClient represents the tradier brokerage execution client.
type TradierClient struct {
	cfg   *TradierConfig
	httpc http.Client
}

// Ensure the tradier client implements the OrderExecutor interface.
var _ shared.OrderExecutor = (*TradierClient)(nil)

// NewTradierClient initializes a new tradier client.
func NewTradierClient(cfg *TradierConfig) (*TradierClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tradier api key cannot be an empty string")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("tradier account id cannot be an empty string")
	}

	return &TradierClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 10},
	}, nil
}

// do executes a paced request against the api and returns the response body.
func (c *TradierClient) do(ctx context.Context, method string, path string, form url.Values) ([]byte, error) {
	err := c.cfg.Gateway.Wait(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating tradier request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrExecutionRejected, err)
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tradier response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tradier status %d: %s",
			shared.ErrExecutionRejected, resp.StatusCode, data)
	}

	return data, nil
}

// GetAccountState fetches the current account balances.
func (c *TradierClient) GetAccountState(ctx context.Context) (*shared.AccountState, error) {
	path := fmt.Sprintf("/v1/accounts/%s/balances", c.cfg.AccountID)

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	balances := gjson.GetBytes(body, "balances")

	return &shared.AccountState{
		Equity:      balances.Get("total_equity").Float(),
		BuyingPower: balances.Get("total_cash").Float(),
	}, nil
}

// fetchOrder fetches the current state of a submitted order.
func (c *TradierClient) fetchOrder(ctx context.Context, orderID string) (gjson.Result, error) {
	path := fmt.Sprintf("/v1/accounts/%s/orders/%s", c.cfg.AccountID, orderID)

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return gjson.Result{}, err
	}

	return gjson.GetBytes(body, "order"), nil
}

// SubmitOrder submits a market order and polls for its confirmed fill.
func (c *TradierClient) SubmitOrder(ctx context.Context, ticker string, side shared.OrderSide, quantity int64) (*shared.OrderResult, error) {
	path := fmt.Sprintf("/v1/accounts/%s/orders", c.cfg.AccountID)

	form := url.Values{}
	form.Add("class", "equity")
	form.Add("symbol", shared.NormalizeTicker(ticker))
	form.Add("side", side.String())
	form.Add("quantity", strconv.FormatInt(quantity, 10))
	form.Add("type", "market")
	form.Add("duration", "day")

	body, err := c.do(ctx, http.MethodPost, path, form)
	if err != nil {
		return nil, err
	}

	order := gjson.GetBytes(body, "order")
	orderID := order.Get("id").String()
	if orderID == "" || orderID == "0" {
		return nil, fmt.Errorf("%w: no order id in response: %s", shared.ErrExecutionRejected, body)
	}

	for poll := 0; poll < maxFillPolls; poll++ {
		state, err := c.fetchOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}

		switch state.Get("status").String() {
		case "filled":
			return &shared.OrderResult{
				OrderID:   orderID,
				FilledQty: state.Get("exec_quantity").Int(),
				FillPrice: state.Get("avg_fill_price").Float(),
			}, nil
		case "partially_filled":
			// A day market order that stops filling is confirmed at
			// the executed quantity.
			return &shared.OrderResult{
				OrderID:   orderID,
				FilledQty: state.Get("exec_quantity").Int(),
				FillPrice: state.Get("avg_fill_price").Float(),
			}, nil
		case "rejected":
			reason := state.Get("reason_description").String()
			lowered := strings.ToLower(reason)
			switch {
			case strings.Contains(lowered, "quantity") || strings.Contains(lowered, "position"):
				// A sell with nothing backing it means the position is
				// already closed or absent broker side.
				return nil, fmt.Errorf("%w: order %s: %s", shared.ErrPositionAbsent, orderID, reason)
			case strings.Contains(lowered, "insufficient"):
				return nil, fmt.Errorf("%w: order %s: %s", shared.ErrInsufficientFunds, orderID, reason)
			default:
				return nil, fmt.Errorf("%w: order %s: %s", shared.ErrExecutionRejected, orderID, reason)
			}
		case "canceled", "expired":
			return nil, fmt.Errorf("%w: order %s %s", shared.ErrExecutionRejected,
				orderID, state.Get("status").String())
		}
	}

	return nil, fmt.Errorf("%w: order %s not filled after %d polls",
		shared.ErrProviderTimeout, orderID, maxFillPolls)
}
