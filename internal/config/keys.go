package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when a provider has no API key configured.
var ErrNoAPIKey = errors.New("no API key configured")

// Provider names with key settings.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// envKeys lists the environment variables checked for each provider, most
// specific first.
var envKeys = map[string][]string{
	ProviderAnthropic: {"ORCA_PROVIDERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	ProviderGemini:    {"ORCA_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// GetAPIKey returns the API key for a provider.
// It checks in order: environment variables, config file.
func GetAPIKey(cfg *Config, providerName string) (string, error) {
	key, _ := lookupKey(cfg, providerName)
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// ValidateAPIKey performs basic format validation on a provider API key.
// It does not contact the provider.
func ValidateAPIKey(providerName, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	switch providerName {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return errors.New("invalid API key format: expected 'sk-ant-' prefix")
		}
	case ProviderGemini:
		if !strings.HasPrefix(key, "AIza") {
			return errors.New("invalid API key format: expected 'AIza' prefix")
		}
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where a provider's API key was sourced from.
func GetAPIKeySource(cfg *Config, providerName string) KeySource {
	_, src := lookupKey(cfg, providerName)
	return src
}

func lookupKey(cfg *Config, providerName string) (string, KeySource) {
	for _, env := range envKeys[providerName] {
		if key := os.Getenv(env); key != "" {
			return key, KeySourceEnv
		}
	}

	if cfg == nil {
		return "", KeySourceNone
	}
	var configured string
	switch providerName {
	case ProviderAnthropic:
		configured = cfg.Providers.Anthropic.APIKey
	case ProviderGemini:
		configured = cfg.Providers.Gemini.APIKey
	}
	// Expand any remaining env var references
	if key := os.ExpandEnv(configured); key != "" && !strings.HasPrefix(key, "${") {
		return key, KeySourceConfig
	}
	return "", KeySourceNone
}
