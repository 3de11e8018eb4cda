package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"onebreath/internal/config"
	"onebreath/pkg/domain"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI calls the chat completions endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a client with SDK retries disabled; the analyzer owns retry policy.
func NewOpenAI(cfg config.LLMConfig, extra ...option.RequestOption) *OpenAI {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return ProviderOpenAI }

// Generate sends prompt as a single user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classify("openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Errorf(domain.KindGenerationFailure, "openai chat completion", "no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.KindTimeout, op, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusUnauthorized, code == http.StatusForbidden,
			code == http.StatusTooManyRequests, code >= 500:
			return domain.Wrap(domain.KindUpstreamUnavailable, op, err)
		}
		return domain.Wrap(domain.KindGenerationFailure, op, err)
	}
	return domain.Wrap(domain.KindUpstreamUnavailable, op, err)
}
