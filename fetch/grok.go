package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/wrenb/earnwatch/gateway"
	"github.com/wrenb/earnwatch/shared"
)

const (
	// GrokBaseURL is the xAI OpenAI-compatible api endpoint.
	GrokBaseURL = "https://api.x.ai/v1"
	// grokModel is the model used for sentiment scoring.
	grokModel = "grok-4-fast-reasoning"

	grokSystemPrompt = "You are a financial sentiment analyst. Respond ONLY with " +
		"valid JSON for the classification. No additional text, explanations, or formatting."
)

// GrokConfig represents the configuration for the grok sentiment client.
type GrokConfig struct {
	// APIKey is the xAI API key.
	APIKey string
	// BaseURL is the api endpoint to query.
	BaseURL string
	// Model overrides the default model when set.
	Model string
	// Gateway paces calls to the provider.
	Gateway *gateway.Gateway
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// GrokClient scores pre-earnings sentiment using the grok model.
type GrokClient struct {
	cfg    *GrokConfig
	client *openai.Client
}

// Ensure the grok client implements the SentimentScorer interface.
var _ shared.SentimentScorer = (*GrokClient)(nil)

// NewGrokClient initializes a new grok sentiment client.
func NewGrokClient(cfg *GrokConfig) (*GrokClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("xai api key cannot be an empty string")
	}
	if cfg.Model == "" {
		cfg.Model = grokModel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ocfg := openai.DefaultConfig(cfg.APIKey)
	ocfg.BaseURL = cfg.BaseURL

	return &GrokClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(ocfg),
	}, nil
}

// buildPrompt forms the pre-earnings consensus prompt for the provided event.
func buildPrompt(event *shared.EarningsEvent) string {
	checkDate := event.Scheduled.AddDate(0, 0, -1).Format(shared.EarningsDateLayout)

	return fmt.Sprintf(`Use your up-to-date knowledge to analyze pre-earnings consensus for %s as of %s. Dig deep into available data from sources like X, Reddit r/stocks, StockTwits, Seeking Alpha, Bloomberg previews, and options IV data for sentiment.
Score positivity from 0 to 100:
- Above 70: beat expected, strong growth, hype.
- 40 to 70: balanced views with risks.
- Below 40: anticipated weakness.
Detect leaks and hype. Reason step-by-step before scoring. Return as JSON: {"score": 75, "reasoning": "..."}.`,
		event.Ticker, checkDate)
}

// parseScoreResponse extracts the sentiment score and reasoning from a model
// completion. The model occasionally wraps the JSON object in prose, so only
// the outermost object is parsed.
func parseScoreResponse(content string) (float64, string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return 0, "", fmt.Errorf("%w: no JSON object in model response", shared.ErrSentimentUnavailable)
	}

	obj := gjson.Parse(content[start : end+1])
	scoreField := obj.Get("score")
	if !scoreField.Exists() {
		return 0, "", fmt.Errorf("%w: model response missing score", shared.ErrSentimentUnavailable)
	}

	score := scoreField.Float()
	if score < 0 || score > 100 {
		return 0, "", fmt.Errorf("%w: %v", shared.ErrInvalidScore, score)
	}

	return score, obj.Get("reasoning").String(), nil
}

// ScoreEarnings produces a sentiment score for the provided earnings event.
func (c *GrokClient) ScoreEarnings(ctx context.Context, event *shared.EarningsEvent) (*shared.SentimentScore, error) {
	err := c.cfg.Gateway.Wait(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: grokSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(event)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSentimentUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", shared.ErrSentimentUnavailable)
	}

	score, reasoning, err := parseScoreResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &shared.SentimentScore{
		Ticker:    event.Ticker,
		Value:     score,
		Runs:      1,
		Reasoning: reasoning,
		CreatedOn: c.cfg.Now(),
	}, nil
}
