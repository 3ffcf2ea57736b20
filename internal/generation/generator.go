// Package generation turns a prompt into flowchart text by calling a hosted
// language model. The gate only sees the Generator interface.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrGeneration wraps every failure of a generation backend
var ErrGeneration = errors.New("generation failed")

// Generator produces flowchart text for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider names accepted by New
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and configures a backend
type Config struct {
	Provider     string
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Timeout      time.Duration
}

// New builds the generator named by cfg.Provider
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIGenerator(cfg)
	case ProviderGemini:
		return NewGeminiGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// Closer is implemented by generators holding network resources
type Closer interface {
	Close() error
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func generationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrGeneration, fmt.Sprintf(format, args...))
}
