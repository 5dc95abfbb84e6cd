// Package embedding turns text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Provider is the embedding backend consumed by the memory services.
// Failures satisfy errors.Is(err, ErrUnavailable).
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// Config configures an OpenAI-compatible embedding provider.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxRetries int
	Timeout    time.Duration
	// RequestsPerSecond throttles calls to the provider. 0 disables throttling.
	RequestsPerSecond float64
}

// DefaultConfig returns the OpenAI defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.openai.com/v1",
		Model:             "text-embedding-3-small",
		Dimensions:        1536,
		MaxRetries:        3,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
	}
}

// OpenAIProvider calls any OpenAI-compatible /embeddings endpoint
// (siliconflow, openai, ollama, dashscope...).
type OpenAIProvider struct {
	config  *Config
	client  *openai.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewProvider creates a provider. Zero fields are filled from DefaultConfig.
func NewProvider(cfg *Config) (*OpenAIProvider, error) {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = &defaults
	}
	c := *cfg
	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.Dimensions <= 0 {
		c.Dimensions = defaults.Dimensions
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	clientConfig := openai.DefaultConfig(c.APIKey)
	clientConfig.BaseURL = c.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: c.Timeout}

	p := &OpenAIProvider{
		config:  &c,
		client:  openai.NewClientWithConfig(clientConfig),
		backoff: 200 * time.Millisecond,
	}
	if c.RequestsPerSecond > 0 {
		burst := max(1, int(c.RequestsPerSecond))
		p.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
	}
	return p, nil
}

// Validate checks that the provider can be called.
func (p *OpenAIProvider) Validate() error {
	if p.config.APIKey == "" {
		return errors.New("embedding API key is required")
	}
	return nil
}

func (p *OpenAIProvider) Dimensions() int { return p.config.Dimensions }

func (p *OpenAIProvider) Model() string { return p.config.Model }

// Embed generates the vector for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, Unavailable(p.config.Model, errors.New("empty input"))
	}

	req := openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(p.config.Model),
		Dimensions: p.config.Dimensions,
	}

	var lastErr error
	wait := p.backoff
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, Unavailable(p.config.Model, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, Unavailable(p.config.Model, err)
			}
		}

		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err == nil {
			if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
				return nil, Unavailable(p.config.Model, errors.New("empty embedding response"))
			}
			return resp.Data[0].Embedding, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, Unavailable(p.config.Model, lastErr)
}

// retryable reports whether a provider error is worth another attempt:
// rate limiting, server errors, and transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
