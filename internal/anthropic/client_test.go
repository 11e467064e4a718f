package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tessera-labs/tessera/internal/domain"
)

// MockMessageAPI is a mock for the Anthropic Messages API
type MockMessageAPI struct {
	mock.Mock
}

func (m *MockMessageAPI) CreateMessage(ctx context.Context, req domain.ChatRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestClient_Chat_Success(t *testing.T) {
	mockAPI := new(MockMessageAPI)
	client := &Client{api: mockAPI}

	ctx := context.Background()
	req := domain.ChatRequest{
		System:      "You are a documentation assistant.",
		User:        "Why is the sky blue?",
		Temperature: 0.2,
		MaxTokens:   1024,
	}

	mockAPI.On("CreateMessage", ctx, req).Return("Rayleigh scattering. [sky.md#0]", nil)

	resp, err := client.Chat(ctx, req)

	assert.NoError(t, err)
	assert.Equal(t, "Rayleigh scattering. [sky.md#0]", resp.Text)
	mockAPI.AssertExpectations(t)
}

func TestClient_Chat_APIError(t *testing.T) {
	mockAPI := new(MockMessageAPI)
	client := &Client{api: mockAPI}

	ctx := context.Background()
	req := domain.ChatRequest{User: "Why?"}
	apiErr := errors.New("overloaded_error")

	mockAPI.On("CreateMessage", ctx, req).Return("", apiErr)

	resp, err := client.Chat(ctx, req)

	assert.Error(t, err)
	assert.Empty(t, resp.Text)
	assert.Equal(t, domain.ErrCodeProviderUnavailable, domain.ErrorCode(err))
	assert.ErrorIs(t, err, apiErr)
	mockAPI.AssertExpectations(t)
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key")

	assert.NotNil(t, client)
	assert.NotNil(t, client.api)
}

func TestNewAnthropicAdapter_DefaultModel(t *testing.T) {
	adapter := NewAnthropicAdapter("test-api-key", "")

	assert.Equal(t, DefaultModel, adapter.model)
}

func TestNewClientFromEnv_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	client, err := NewClientFromEnv()

	assert.Nil(t, client)
	assert.Error(t, err)
	assert.Equal(t, ErrNoAPIKey, err)
}

func TestNewClientFromEnv_WithAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-api-key")

	client, err := NewClientFromEnv()

	assert.NotNil(t, client)
	assert.NoError(t, err)
}
