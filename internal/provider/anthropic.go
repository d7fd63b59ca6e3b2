package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/orca/pkg/models"
)

// AnthropicConfig contains configuration for the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// SLMModel is the model used for the slm tier.
	SLMModel string
	// LLMModel is the model used for the llm tier.
	LLMModel string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// MaxRetries overrides the SDK retry count when non-nil.
	MaxRetries *int
}

// AnthropicProvider serves both tiers from Claude models.
type AnthropicProvider struct {
	client  anthropic.Client
	models  map[models.Tier]string
	bedrock bool
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	slm := cfg.SLMModel
	if slm == "" {
		slm = string(anthropic.ModelClaudeHaiku4_5_20251001)
	}
	llm := cfg.LLMModel
	if llm == "" {
		llm = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	if cfg.UseAWSBedrock {
		slm = translateModelForBedrock(slm)
		llm = translateModelForBedrock(llm)
	}

	return &AnthropicProvider{
		client:  anthropic.NewClient(opts...),
		models:  map[models.Tier]string{models.TierSLM: slm, models.TierLLM: llm},
		bedrock: cfg.UseAWSBedrock,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model string) string {
	if strings.HasPrefix(model, "us.anthropic.") {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if m, ok := bedrockModels[anthropic.Model(model)]; ok {
		return m
	}
	return model
}

func (p *AnthropicProvider) Name() string {
	if p.bedrock {
		return "bedrock"
	}
	return "anthropic"
}

func (p *AnthropicProvider) Tiers() []models.Tier {
	return []models.Tier{models.TierSLM, models.TierLLM}
}

func (p *AnthropicProvider) Model(tier models.Tier) string {
	return p.models[tier]
}

// IsAvailable is always true once the client is constructed; credential
// problems surface as call errors.
func (p *AnthropicProvider) IsAvailable() bool { return true }

func (p *AnthropicProvider) params(req ChatRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(resolveModel(p, req)),
		MaxTokens: maxTokens(req),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func toAnthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := p.params(req)
	start := time.Now()

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	return p.response(resp, string(params.Model), start), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error) {
	params := p.params(req)
	start := time.Now()

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream: %w", err)
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && onDelta != nil {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return p.response(&message, string(params.Model), start), nil
}

func (p *AnthropicProvider) response(msg *anthropic.Message, model string, start time.Time) *ChatResponse {
	var text strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	usage := Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens}
	if msg.Model != "" {
		model = string(msg.Model)
	}
	return &ChatResponse{
		Content:      text.String(),
		Model:        model,
		Usage:        usage,
		CostUSD:      EstimateCost(model, usage),
		LatencyMs:    time.Since(start).Milliseconds(),
		FinishReason: string(msg.StopReason),
	}
}
