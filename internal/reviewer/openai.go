package reviewer

import (
	"context"
	"net/http"
)

// DefaultOpenAIBaseURL is the DashScope OpenAI-compatible endpoint.
const DefaultOpenAIBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

type openAIClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

func newOpenAI(cfg Config) (*openAIClient, error) {
	hc, err := newHTTPClient(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultOpenAIBaseURL
	}
	return &openAIClient{http: hc, baseURL: base, apiKey: cfg.APIKey, model: cfg.Model}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

func (c *openAIClient) complete(ctx context.Context, system, user string) (string, map[string]any, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp chatResponse
	if err := postJSON(ctx, c.http, joinURL(c.baseURL, "chat/completions"), headers, body, &resp); err != nil {
		return "", nil, err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Usage, nil
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}
