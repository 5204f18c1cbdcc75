package reviewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	api   *anthropic.Client
	model anthropic.Model
}

func newAnthropic(cfg Config) (*anthropicClient, error) {
	hc, err := newHTTPClient(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicClient{
		api:   &client,
		model: anthropic.Model(cfg.Model),
	}, nil
}

func (c *anthropicClient) complete(ctx context.Context, system, user string) (string, map[string]any, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(defaultTemperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", nil, httpFailure(apiErr.StatusCode, apiErr.RawJSON())
		}
		return "", nil, fmt.Errorf("anthropic API call: %w", err)
	}

	usage := map[string]any{
		"input_tokens":  msg.Usage.InputTokens,
		"output_tokens": msg.Usage.OutputTokens,
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, usage, nil
		}
	}
	return "", usage, nil
}
