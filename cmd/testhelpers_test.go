package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// fakeReviewer serves an OpenAI-compatible chat completion returning content.
func fakeReviewer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"total_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// useReviewers points both reviewer slots at the given servers.
func useReviewers(t *testing.T, a, b *httptest.Server) {
	t.Helper()
	for role, srv := range map[string]*httptest.Server{"a": a, "b": b} {
		p := "reviewers." + role + "."
		viper.Set(p+"backend", "openai")
		viper.Set(p+"base_url", srv.URL)
		viper.Set(p+"api_key", "test-key-"+role)
	}
}

// testCmd returns a command carrying a background context.
func testCmd() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}
