package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"drift_spider/internal/config"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

// Embedder turns text into a vector. Identical input must give identical
// output for the life of the process.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var ErrNotConfigured = errors.New("embedding backend not configured")

// OpenAIEmbedder talks to any OpenAI-compatible /v1/embeddings endpoint,
// including Ollama and vLLM.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("initializing embedding client", slog.String("model", cfg.Model), slog.String("base_url", clientCfg.BaseURL))
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{Truncate(text, o.maxTokens)},
		Model: openai.EmbeddingModel(o.model),
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}
	return resp.Data[0].Embedding, nil
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func cl100k() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, truncating by characters", slog.Any("err", err))
			return
		}
		encoding = enc
	})
	return encoding
}

// Truncate cuts text to at most maxTokens cl100k tokens. Without the
// tokenizer it keeps maxTokens runes.
func Truncate(text string, maxTokens int) string {
	// every token decodes to at least one byte
	if maxTokens <= 0 || len(text) <= maxTokens {
		return text
	}

	if enc := cl100k(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens])
	}

	if utf8.RuneCountInString(text) <= maxTokens {
		return text
	}
	return string([]rune(text)[:maxTokens])
}
