package anthropic

import (
	"context"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tessera-labs/tessera/internal/domain"
)

const (
	// DefaultModel is the Anthropic model used for answer generation
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultMaxTokens caps completions when the request does not set a limit
	DefaultMaxTokens = 1024
)

var (
	// ErrNoAPIKey is returned when Anthropic API key is not set
	ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY environment variable not set")
)

// MessageAPI defines the interface for message creation
type MessageAPI interface {
	CreateMessage(ctx context.Context, req domain.ChatRequest) (string, error)
}

// Client wraps the Anthropic API client
type Client struct {
	api MessageAPI
}

type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// CreateMessage calls the Anthropic Messages API
func (a *AnthropicAdapter) CreateMessage(ctx context.Context, req domain.ChatRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", errors.New("empty response from Anthropic API")
	}

	return text.String(), nil
}

type Config struct {
	APIKey string
	Model  string
}

// NewClient creates a new Anthropic client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new Anthropic client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	return &Client{
		api: NewAnthropicAdapter(cfg.APIKey, cfg.Model),
	}
}

// NewClientFromEnv creates a new Anthropic client using ANTHROPIC_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// Chat generates a completion for the given request
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	text, err := c.api.CreateMessage(ctx, req)
	if err != nil {
		return domain.ChatResponse{}, domain.NewDomainErrorWithCause(domain.ErrCodeProviderUnavailable, "anthropic messages request failed", err)
	}
	return domain.ChatResponse{Text: text}, nil
}
