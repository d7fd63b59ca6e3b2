package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ShayCichocki/orca/pkg/models"
)

// GeminiConfig contains configuration for the Gemini provider.
type GeminiConfig struct {
	// APIKey is the Gemini API key. If empty, uses GEMINI_API_KEY env var.
	APIKey   string
	SLMModel string
	LLMModel string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// GeminiProvider serves both tiers from Google Gemini models.
type GeminiProvider struct {
	client *genai.Client
	models map[models.Tier]string
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	slm := cfg.SLMModel
	if slm == "" {
		slm = "gemini-2.5-flash-lite"
	}
	llm := cfg.LLMModel
	if llm == "" {
		llm = "gemini-2.5-pro"
	}

	return &GeminiProvider{
		client: client,
		models: map[models.Tier]string{models.TierSLM: slm, models.TierLLM: llm},
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Tiers() []models.Tier {
	return []models.Tier{models.TierSLM, models.TierLLM}
}

func (p *GeminiProvider) Model(tier models.Tier) string { return p.models[tier] }

func (p *GeminiProvider) IsAvailable() bool { return p.client != nil }

func (p *GeminiProvider) request(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens(req))}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	return contents, cfg
}

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := resolveModel(p, req)
	contents, cfg := p.request(req)
	start := time.Now()

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}

	out := &ChatResponse{Content: resp.Text(), Model: model}
	finishGemini(out, resp, start)
	return out, nil
}

func (p *GeminiProvider) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error) {
	model := resolveModel(p, req)
	contents, cfg := p.request(req)
	start := time.Now()

	var text strings.Builder
	var last *genai.GenerateContentResponse
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		chunk := resp.Text()
		text.WriteString(chunk)
		if chunk != "" && onDelta != nil {
			onDelta(chunk)
		}
		last = resp
	}

	out := &ChatResponse{Content: text.String(), Model: model}
	finishGemini(out, last, start)
	return out, nil
}

func finishGemini(out *ChatResponse, resp *genai.GenerateContentResponse, start time.Time) {
	out.LatencyMs = time.Since(start).Milliseconds()
	if resp == nil {
		return
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	out.CostUSD = EstimateCost(out.Model, out.Usage)
}
