package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *OpenAIGenerator {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		Provider: ProviderOpenAI,
		APIKey:   "test-key",
		BaseURL:  server.URL + "/",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	gen, err := NewOpenAIGenerator(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { gen.Close() })
	return gen
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var captured chatRequest

	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"graph TD; A-->B"}}]}`))
	}, nil)

	text, err := gen.Generate(context.Background(), "draw login")
	require.NoError(t, err)
	assert.Equal(t, "graph TD; A-->B", text)

	assert.Equal(t, "gpt-3.5-turbo", captured.Model)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, chatMessage{Role: "user", Content: "draw login"}, captured.Messages[0])
}

func TestOpenAIGenerator_SystemPrompt(t *testing.T) {
	var captured chatRequest

	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}, func(cfg *Config) {
		cfg.Model = "gpt-4o-mini"
		cfg.SystemPrompt = "Answer with Mermaid flowchart code only."
	})

	_, err := gen.Generate(context.Background(), "checkout")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
}

func TestOpenAIGenerator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"upstream error status", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`, "status=429"},
		{"malformed json", http.StatusOK, `{"choices":`, "malformed response"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			_, err := gen.Generate(context.Background(), "p")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGeneration)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestOpenAIGenerator_OversizedResponse(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"`))
		w.Write(bytes.Repeat([]byte("A"), maxResponseBody))
		w.Write([]byte(`"}}]}`))
	}, nil)

	_, err := gen.Generate(context.Background(), "draw login")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Contains(t, err.Error(), "response exceeds")
}

func TestOpenAIGenerator_Timeout(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
	})

	_, err := gen.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator(Config{})
	assert.Error(t, err)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "bard", APIKey: "k"})
	assert.Error(t, err)
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})

	out, err := g.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}
