package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"drift_spider/internal/config"

	"github.com/sashabaranov/go-openai"
)

// Translator rewrites text from one language into another. Blank input is
// returned unchanged.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

var ErrNotConfigured = errors.New("translation backend not configured")

const systemPrompt = "Translate the user's text from %s to %s. Reply with the translation only, keeping line breaks, numbers and URLs as they are."

var languageNames = map[string]string{
	"sv": "Swedish",
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"fi": "Finnish",
	"no": "Norwegian",
	"da": "Danish",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// OpenAITranslator uses any OpenAI-compatible chat completions endpoint.
type OpenAITranslator struct {
	client *openai.Client
	model  string
}

func NewOpenAITranslator(cfg config.TranslationConfig) (*OpenAITranslator, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("initializing translation client", slog.String("model", cfg.Model), slog.String("base_url", clientCfg.BaseURL))
	return &OpenAITranslator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (o *OpenAITranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, languageName(from), languageName(to))},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("translation response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
