package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic implements the Completer interface for Anthropic's Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a new Anthropic provider.
func NewAnthropic(model string, opts ...option.RequestOption) (*Anthropic, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	return newAnthropic(key, model, opts...), nil
}

func newAnthropic(key, model string, opts ...option.RequestOption) *Anthropic {
	// retries are handled by retryWithBackoff
	base := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	return &Anthropic{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  model,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokensOr(req.MaxTokens, 4096)),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	var resp Response
	err := retryWithBackoff(ctx, 3, func() error {
		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return anthropicError(err)
		}
		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return fmt.Errorf("empty text content in API response")
		}
		resp = Response{
			Content:    text.String(),
			TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		}
		return nil
	})
	return resp, err
}

// anthropicError maps SDK API errors onto the retry classification.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if typed := classifyStatus(apiErr.StatusCode, apiErr.Error()); typed != nil {
			return typed
		}
	}
	return fmt.Errorf("sending request: %w", err)
}
