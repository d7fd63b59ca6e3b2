// Package config handles configuration loading and management for orca.
// It supports XDG config paths, project-level overrides, a .env file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/protect"
	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/internal/router"
	"github.com/ShayCichocki/orca/internal/signals"
	"github.com/ShayCichocki/orca/internal/state"
	"github.com/ShayCichocki/orca/pkg/models"
)

const (
	appName           = "orca"
	projectConfigName = ".orca.yaml"
	envPrefix         = "ORCA"
)

// envKeyReplacer maps routing.max_replan_depth to ORCA_ROUTING_MAX_REPLAN_DEPTH.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds all configuration for orca.
type Config struct {
	Routing      router.Config       `mapstructure:"routing" yaml:"routing"`
	Energy       budget.EnergyConfig `mapstructure:"energy" yaml:"energy"`
	Budget       BudgetConfig        `mapstructure:"budget" yaml:"budget"`
	Providers    ProvidersConfig     `mapstructure:"providers" yaml:"providers"`
	Trace        TraceConfig         `mapstructure:"trace" yaml:"trace"`
	Orchestrator OrchestratorConfig  `mapstructure:"orchestrator" yaml:"orchestrator"`
	Logging      LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Events       EventsConfig        `mapstructure:"events" yaml:"events"`
	Signals      SignalsConfig       `mapstructure:"signals" yaml:"signals"`
	Protect      ProtectConfig       `mapstructure:"protect" yaml:"protect"`
}

// BudgetConfig selects the default preset and an optional presets file.
type BudgetConfig struct {
	DefaultPreset string `mapstructure:"default_preset" yaml:"default_preset"`
	// PresetsFile is a YAML file whose presets replace or extend the built-ins.
	PresetsFile string `mapstructure:"presets_file" yaml:"presets_file"`
}

// ProvidersConfig holds model provider settings.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Gemini    GeminiConfig    `mapstructure:"gemini" yaml:"gemini"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	SLMModel   string `mapstructure:"slm_model" yaml:"slm_model"`
	LLMModel   string `mapstructure:"llm_model" yaml:"llm_model"`
	UseBedrock bool   `mapstructure:"use_bedrock" yaml:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// GeminiConfig holds Google GenAI settings.
type GeminiConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	SLMModel string `mapstructure:"slm_model" yaml:"slm_model"`
	LLMModel string `mapstructure:"llm_model" yaml:"llm_model"`
}

// TraceConfig controls trace persistence.
type TraceConfig struct {
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
	Persist bool   `mapstructure:"persist" yaml:"persist"`
	// OTLPEndpoint, when set, exports every span over OTLP/HTTP.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// OrchestratorConfig controls decomposed execution.
type OrchestratorConfig struct {
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// EventsConfig configures stream event publishing. An empty NATSURL
// disables it.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// SignalsConfig locates the kill/pause signals directory.
type SignalsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ProtectConfig guards file tools against sensitive paths. The lists extend
// the built-in rules.
type ProtectConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Patterns  []string `mapstructure:"patterns" yaml:"patterns"`
	Keywords  []string `mapstructure:"keywords" yaml:"keywords"`
	FileTypes []string `mapstructure:"file_types" yaml:"file_types"`
}

// Default returns a Config with default values.
func Default() *Config {
	energy := budget.DefaultEnergyConfig()
	return &Config{
		Routing: router.Config{
			PreferLocal:            true,
			SLMConfidenceThreshold: 0.7,
			ComplexityThreshold:    0.6,
			ProviderPriority: map[models.Tier][]string{
				models.TierSLM: {"anthropic", "gemini"},
				models.TierLLM: {"anthropic", "gemini"},
			},
			MaxReplanDepth: 2,
		},
		Energy: energy,
		Budget: BudgetConfig{DefaultPreset: budget.DefaultPreset},
		Trace: TraceConfig{
			DBPath:  state.GlobalDBPath(),
			Persist: true,
		},
		Orchestrator: OrchestratorConfig{MaxParallel: 4},
		Logging:      LoggingConfig{Level: "warn"},
		Events:       EventsConfig{SubjectPrefix: "orca.tasks"},
		Signals:      SignalsConfig{Dir: signals.DefaultDir},
		Protect:      ProtectConfig{Enabled: true},
	}
}

// Load loads configuration from XDG paths, project overrides, a .env file in
// the working directory and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ORCA_*, ANTHROPIC_API_KEY, GEMINI_API_KEY)
// 2. Project config (.orca.yaml in current directory or parent)
// 3. User config (~/.config/orca/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file plus the environment.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	_ = v.BindEnv("providers.anthropic.api_key", "ORCA_PROVIDERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.gemini.api_key", "ORCA_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Providers.Anthropic.APIKey = expandEnv(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.Gemini.APIKey = expandEnv(cfg.Providers.Gemini.APIKey)
	cfg.Budget.PresetsFile = expandEnv(cfg.Budget.PresetsFile)
	cfg.Trace.DBPath = expandEnv(cfg.Trace.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail much later.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Routing.SLMConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("routing.slm_confidence_threshold must be in [0,1], got %v", t))
	}
	if t := c.Routing.ComplexityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("routing.complexity_threshold must be in [0,1], got %v", t))
	}
	if c.Routing.MaxReplanDepth < 0 {
		errs = append(errs, fmt.Errorf("routing.max_replan_depth must not be negative, got %d", c.Routing.MaxReplanDepth))
	}
	if c.Orchestrator.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_parallel must be at least 1, got %d", c.Orchestrator.MaxParallel))
	}
	return errors.Join(errs...)
}

// Presets returns the built-in budget presets for the energy setting, with
// the presets file applied when one is configured.
func (c *Config) Presets() (map[string]models.BudgetEnvelope, error) {
	presets := budget.DefaultPresets(c.Energy.Enabled)
	if c.Budget.PresetsFile == "" {
		return presets, nil
	}
	return budget.LoadPresetsFile(c.Budget.PresetsFile, presets)
}

// AnthropicProvider converts the Anthropic section to provider settings.
func (c *Config) AnthropicProvider() provider.AnthropicConfig {
	a := c.Providers.Anthropic
	return provider.AnthropicConfig{
		APIKey:        a.APIKey,
		SLMModel:      a.SLMModel,
		LLMModel:      a.LLMModel,
		UseAWSBedrock: a.UseBedrock,
		AWSRegion:     a.AWSRegion,
		AWSProfile:    a.AWSProfile,
	}
}

// GeminiProvider converts the Gemini section to provider settings.
func (c *Config) GeminiProvider() provider.GeminiConfig {
	g := c.Providers.Gemini
	return provider.GeminiConfig{
		APIKey:   g.APIKey,
		SLMModel: g.SLMModel,
		LLMModel: g.LLMModel,
	}
}

// ProtectRules returns the configured extra path rules.
func (c *Config) ProtectRules() protect.Rules {
	return protect.Rules{
		Patterns:  c.Protect.Patterns,
		Keywords:  c.Protect.Keywords,
		FileTypes: c.Protect.FileTypes,
	}
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes cfg to path as YAML.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	for key, value := range settings(Default()) {
		v.SetDefault(key, value)
	}
}

// settings flattens cfg into viper keys.
func settings(cfg *Config) map[string]any {
	priority := func(t models.Tier) []string { return cfg.Routing.ProviderPriority[t] }
	return map[string]any{
		"routing.prefer_local":             cfg.Routing.PreferLocal,
		"routing.slm_confidence_threshold": cfg.Routing.SLMConfidenceThreshold,
		"routing.complexity_threshold":     cfg.Routing.ComplexityThreshold,
		"routing.provider_priority.slm":    priority(models.TierSLM),
		"routing.provider_priority.llm":    priority(models.TierLLM),
		"routing.max_replan_depth":         cfg.Routing.MaxReplanDepth,
		"energy.enabled":                   cfg.Energy.Enabled,
		"energy.wh_per_1k_tokens.slm":      cfg.Energy.WhPer1kTokens[models.TierSLM],
		"energy.wh_per_1k_tokens.llm":      cfg.Energy.WhPer1kTokens[models.TierLLM],
		"energy.carbon_grams_per_wh":       cfg.Energy.CarbonGramsPerWh,
		"budget.default_preset":            cfg.Budget.DefaultPreset,
		"budget.presets_file":              cfg.Budget.PresetsFile,
		"providers.anthropic.api_key":      cfg.Providers.Anthropic.APIKey,
		"providers.anthropic.slm_model":    cfg.Providers.Anthropic.SLMModel,
		"providers.anthropic.llm_model":    cfg.Providers.Anthropic.LLMModel,
		"providers.anthropic.use_bedrock":  cfg.Providers.Anthropic.UseBedrock,
		"providers.anthropic.aws_region":   cfg.Providers.Anthropic.AWSRegion,
		"providers.anthropic.aws_profile":  cfg.Providers.Anthropic.AWSProfile,
		"providers.gemini.api_key":         cfg.Providers.Gemini.APIKey,
		"providers.gemini.slm_model":       cfg.Providers.Gemini.SLMModel,
		"providers.gemini.llm_model":       cfg.Providers.Gemini.LLMModel,
		"trace.db_path":                    cfg.Trace.DBPath,
		"trace.persist":                    cfg.Trace.Persist,
		"trace.otlp_endpoint":              cfg.Trace.OTLPEndpoint,
		"orchestrator.max_parallel":        cfg.Orchestrator.MaxParallel,
		"logging.level":                    cfg.Logging.Level,
		"logging.development":              cfg.Logging.Development,
		"events.nats_url":                  cfg.Events.NATSURL,
		"events.subject_prefix":            cfg.Events.SubjectPrefix,
		"signals.dir":                      cfg.Signals.Dir,
		"protect.enabled":                  cfg.Protect.Enabled,
		"protect.patterns":                 cfg.Protect.Patterns,
		"protect.keywords":                 cfg.Protect.Keywords,
		"protect.file_types":               cfg.Protect.FileTypes,
	}
}

// loadDotEnv loads path into the process environment. Variables already set
// win. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getUserConfigDir returns the XDG config directory for orca.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .orca.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
