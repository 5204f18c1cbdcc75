package reviewer

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL is the Generative Language API root.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

func newGemini(cfg Config) (*geminiClient, error) {
	hc, err := newHTTPClient(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	return &geminiClient{http: hc, baseURL: base, apiKey: cfg.APIKey, model: cfg.Model}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata map[string]any `json:"usageMetadata"`
}

func (c *geminiClient) complete(ctx context.Context, system, user string) (string, map[string]any, error) {
	var body geminiRequest
	body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}}
	body.GenerationConfig.Temperature = defaultTemperature
	body.GenerationConfig.MaxOutputTokens = defaultMaxTokens

	endpoint := joinURL(c.baseURL, "models/"+url.PathEscape(c.model)+":generateContent")
	headers := map[string]string{"x-goog-api-key": c.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, c.http, endpoint, headers, body, &resp); err != nil {
		return "", nil, err
	}
	if len(resp.Candidates) == 0 {
		return "", resp.UsageMetadata, nil
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), resp.UsageMetadata, nil
}
