package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-3.5-turbo"
	openAITimeout        = 60 * time.Second

	// cap on error bodies copied into error messages
	maxErrorBody = 512
	// responses larger than this are rejected unread
	maxResponseBody = 4 << 20
)

// OpenAIGenerator calls the chat completions endpoint of an OpenAI-compatible API
type OpenAIGenerator struct {
	auth         *headerAuth
	client       *http.Client
	baseURL      string
	model        string
	systemPrompt string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAIGenerator creates an OpenAI backend
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for OpenAI generator")
	}

	baseURL := openAIDefaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := openAIDefaultModel
	if cfg.Model != "" {
		model = cfg.Model
	}

	timeout := openAITimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &OpenAIGenerator{
		auth:         newBearerAuth(cfg.APIKey),
		client:       client,
		baseURL:      baseURL,
		model:        model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Generate sends the prompt as a single user message and returns the first choice
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if g.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: g.systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: g.model, Messages: messages})
	if err != nil {
		return "", generationError("failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", generationError("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := g.auth.apply(httpReq); err != nil {
		return "", generationError("failed to apply auth: %v", err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", generationError("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return "", generationError("failed to read response: %v", err)
	}
	if len(respBody) > maxResponseBody {
		return "", generationError("response exceeds %d bytes", maxResponseBody)
	}

	if resp.StatusCode != http.StatusOK {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return "", generationError("status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", generationError("malformed response: %v", err)
	}

	if len(parsed.Choices) == 0 {
		return "", generationError("response has no choices")
	}

	text := parsed.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", generationError("response is empty")
	}

	return text, nil
}

// Close releases idle connections
func (g *OpenAIGenerator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}
