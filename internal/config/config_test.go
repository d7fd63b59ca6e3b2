package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Routing.PreferLocal {
		t.Error("expected prefer_local to default to true")
	}
	if cfg.Routing.SLMConfidenceThreshold != 0.7 || cfg.Routing.ComplexityThreshold != 0.6 {
		t.Errorf("thresholds = %v/%v, want 0.7/0.6",
			cfg.Routing.SLMConfidenceThreshold, cfg.Routing.ComplexityThreshold)
	}
	if cfg.Routing.MaxReplanDepth != 2 {
		t.Errorf("expected max_replan_depth 2, got %d", cfg.Routing.MaxReplanDepth)
	}
	if cfg.Energy.Enabled {
		t.Error("expected energy accounting disabled by default")
	}
	if cfg.Budget.DefaultPreset != budget.PresetStandard {
		t.Errorf("expected default preset %q, got %q", budget.PresetStandard, cfg.Budget.DefaultPreset)
	}
	if cfg.Orchestrator.MaxParallel != 4 {
		t.Errorf("expected max_parallel 4, got %d", cfg.Orchestrator.MaxParallel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	clearKeyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, `
routing:
  prefer_local: false
  complexity_threshold: 0.8
  provider_priority:
    llm: [gemini]
  max_replan_depth: 1
energy:
  enabled: true
  carbon_grams_per_wh: 0.2
providers:
  anthropic:
    api_key: sk-ant-test-key
    use_bedrock: true
    aws_region: us-west-2
  gemini:
    llm_model: gemini-2.5-pro
orchestrator:
  max_parallel: 8
events:
  nats_url: nats://localhost:4222
protect:
  patterns: ["**/billing/**"]
  file_types: [".sqlite"]
`)

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Routing.PreferLocal {
		t.Error("expected prefer_local false")
	}
	if cfg.Routing.ComplexityThreshold != 0.8 {
		t.Errorf("expected complexity_threshold 0.8, got %v", cfg.Routing.ComplexityThreshold)
	}
	if cfg.Routing.SLMConfidenceThreshold != 0.7 {
		t.Errorf("unset threshold lost its default: %v", cfg.Routing.SLMConfidenceThreshold)
	}
	if diff := cmp.Diff([]string{"gemini"}, cfg.Routing.ProviderPriority[models.TierLLM]); diff != "" {
		t.Errorf("llm priority mismatch (-want +got):\n%s", diff)
	}
	if cfg.Routing.MaxReplanDepth != 1 {
		t.Errorf("expected max_replan_depth 1, got %d", cfg.Routing.MaxReplanDepth)
	}
	if !cfg.Energy.Enabled || cfg.Energy.CarbonGramsPerWh != 0.2 {
		t.Errorf("energy = %+v", cfg.Energy)
	}
	if cfg.Energy.WhPer1kTokens[models.TierLLM] != 0.5 {
		t.Errorf("llm energy factor = %v, want default 0.5", cfg.Energy.WhPer1kTokens[models.TierLLM])
	}
	if cfg.Orchestrator.MaxParallel != 8 || cfg.Events.NATSURL != "nats://localhost:4222" {
		t.Errorf("orchestrator/events = %+v / %+v", cfg.Orchestrator, cfg.Events)
	}

	a := cfg.AnthropicProvider()
	if a.APIKey != "sk-ant-test-key" || !a.UseAWSBedrock || a.AWSRegion != "us-west-2" {
		t.Errorf("anthropic provider config = %+v", a)
	}
	if g := cfg.GeminiProvider(); g.LLMModel != "gemini-2.5-pro" {
		t.Errorf("gemini provider config = %+v", g)
	}

	if !cfg.Protect.Enabled {
		t.Error("protect lost its enabled default")
	}
	rules := cfg.ProtectRules()
	if diff := cmp.Diff([]string{"**/billing/**"}, rules.Patterns); diff != "" {
		t.Errorf("protect patterns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{".sqlite"}, rules.FileTypes); diff != "" {
		t.Errorf("protect file types mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	clearKeyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "routing:\n  max_replan_depth: 1\n")

	t.Setenv("ORCA_ROUTING_MAX_REPLAN_DEPTH", "3")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Routing.MaxReplanDepth != 3 {
		t.Errorf("expected env override 3, got %d", cfg.Routing.MaxReplanDepth)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected api key from env, got %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "routing:\n  complexity_threshold: 1.5\norchestrator:\n  max_parallel: 0\n")

	if _, err := LoadFromPath(configPath); err == nil {
		t.Error("expected validation error")
	}
}

func TestPresets(t *testing.T) {
	dir := t.TempDir()
	presetsPath := filepath.Join(dir, "presets.yaml")
	writeFile(t, presetsPath, `
presets:
  tiny:
    max_tokens: 1000
    max_tool_calls: 1
    max_escalations: 0
    cost_ceiling_usd: 0.01
    max_latency_ms: 5000
`)

	cfg := Default()
	cfg.Energy.Enabled = true
	cfg.Budget.PresetsFile = presetsPath

	presets, err := cfg.Presets()
	if err != nil {
		t.Fatalf("Presets: %v", err)
	}
	if got := presets["tiny"].MaxTokens; got != 1000 {
		t.Errorf("tiny MaxTokens = %d, want 1000", got)
	}
	if std := presets[budget.PresetStandard]; std.MaxEnergyWh == nil || *std.MaxEnergyWh != 50 {
		t.Errorf("standard energy limit = %v, want 50", std.MaxEnergyWh)
	}

	cfg.Budget.PresetsFile = filepath.Join(dir, "missing.yaml")
	if _, err := cfg.Presets(); err == nil {
		t.Error("expected error for missing presets file")
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	clearKeyEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Orchestrator.MaxParallel = 6
	cfg.Signals.Dir = "/tmp/orca-signals"
	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Orchestrator.MaxParallel != 6 || loaded.Signals.Dir != "/tmp/orca-signals" {
		t.Errorf("round trip lost values: %+v %+v", loaded.Orchestrator, loaded.Signals)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "ORCA_DOTENV_TEST=from-file\n")
	t.Setenv("ORCA_DOTENV_TEST", "")
	os.Unsetenv("ORCA_DOTENV_TEST")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("ORCA_DOTENV_TEST"); got != "from-file" {
		t.Errorf("ORCA_DOTENV_TEST = %q, want from-file", got)
	}

	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if result := expandEnv("${TEST_VAR}"); result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}
	if result := expandEnv("prefix-${TEST_VAR}-suffix"); result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/orca" {
		t.Errorf("expected %q, got %q", "/custom/config/orca", dir)
	}
}
