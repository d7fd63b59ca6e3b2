package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ShayCichocki/orca/pkg/models"
)

func TestNewAnthropic_NoAPIKey(t *testing.T) {
	original := os.Getenv("ANTHROPIC_API_KEY")
	defer os.Setenv("ANTHROPIC_API_KEY", original)
	os.Unsetenv("ANTHROPIC_API_KEY")

	_, err := NewAnthropic(AnthropicConfig{})
	if err == nil {
		t.Fatal("NewAnthropic should fail without API key")
	}
}

func TestNewAnthropic_DefaultModels(t *testing.T) {
	p, err := NewAnthropic(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropic failed: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name = %q", p.Name())
	}
	if got := p.Model(models.TierSLM); got != "claude-haiku-4-5-20251001" {
		t.Errorf("slm model = %q", got)
	}
	if got := p.Model(models.TierLLM); got != "claude-sonnet-4-5-20250929" {
		t.Errorf("llm model = %q", got)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"claude-haiku-4-5-20251001", "us.anthropic.claude-haiku-4-5-20251001-v1:0"},
		{"us.anthropic.custom-v1:0", "us.anthropic.custom-v1:0"},
		{"some-custom-model", "some-custom-model"},
	}
	for _, tt := range tests {
		if got := translateModelForBedrock(tt.in); got != tt.want {
			t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnthropicChat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5-20251001",
			"content": [{"type": "text", "text": "hello there"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 1000, "output_tokens": 200}
		}`)
	}))
	defer srv.Close()

	retries := 0
	p, err := NewAnthropic(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, MaxRetries: &retries})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Chat(context.Background(), ChatRequest{
		Tier:     models.TierSLM,
		System:   "be brief",
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 1000 || resp.Usage.OutputTokens != 200 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	// haiku 4.5: 1000 * $1/M + 200 * $5/M
	if want := 0.002; resp.CostUSD < want-1e-9 || resp.CostUSD > want+1e-9 {
		t.Errorf("CostUSD = %v, want %v", resp.CostUSD, want)
	}
	if gotBody["model"] != "claude-haiku-4-5-20251001" {
		t.Errorf("request model = %v", gotBody["model"])
	}
}
