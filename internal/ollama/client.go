package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
)

const (
	// DefaultBaseURL is the default Ollama server address
	DefaultBaseURL = "http://localhost:11434"
	// DefaultEmbedModel is the default local embedding model
	DefaultEmbedModel = "nomic-embed-text"
	// DefaultChatModel is the default local chat model
	DefaultChatModel = "llama3.2"
	// DefaultDimensions is the dimension of nomic-embed-text vectors
	DefaultDimensions = 768
)

// Client talks to a local Ollama server over its JSON HTTP API
type Client struct {
	httpClient *http.Client
	baseURL    string
	embedModel string
	chatModel  string
	dimensions int
}

type Config struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Dimensions int
}

// NewClient creates a new Ollama client with explicit configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    cfg.BaseURL,
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		dimensions: cfg.Dimensions,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Dimensions returns the configured embedding dimension
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Ping checks that the Ollama server is reachable
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeProviderUnavailable, "ollama server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewDomainError(domain.ErrCodeProviderUnavailable, fmt.Sprintf("ollama server returned status %d", resp.StatusCode))
	}
	return nil
}

// EmbedBatch embeds texts one at a time; the Ollama embeddings endpoint
// accepts a single prompt per call. Any failure fails the whole batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		embedding, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, embedding)
	}
	return embeddings, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeProviderUnavailable, "ollama embeddings request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, domain.NewDomainError(domain.ErrCodeProviderUnavailable, fmt.Sprintf("ollama embeddings returned status %d: %s", resp.StatusCode, msg))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Embedding) != c.dimensions {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeConfiguration, "embedding dimension does not match configuration", domain.ErrDimensionMismatch)
	}

	embedding := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Chat generates a completion using the Ollama chat endpoint
func (c *Client) Chat(ctx context.Context, chatReq domain.ChatRequest) (domain.ChatResponse, error) {
	messages := make([]chatMessage, 0, 2)
	if chatReq.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: chatReq.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: chatReq.User})

	body, err := json.Marshal(chatRequest{
		Model:    c.chatModel,
		Messages: messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: chatReq.Temperature,
			NumPredict:  chatReq.MaxTokens,
		},
	})
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ChatResponse{}, domain.NewDomainErrorWithCause(domain.ErrCodeProviderUnavailable, "ollama chat request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return domain.ChatResponse{}, domain.NewDomainError(domain.ErrCodeProviderUnavailable, fmt.Sprintf("ollama chat returned status %d: %s", resp.StatusCode, msg))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return domain.ChatResponse{Text: parsed.Message.Content}, nil
}
