package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/orca/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with API keys masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)

		fmt.Println()
		for _, p := range []string{config.ProviderAnthropic, config.ProviderGemini} {
			key, _ := config.GetAPIKey(cfg, p)
			fmt.Printf("%s key: %s (%s)\n", p, config.MaskAPIKey(key), config.GetAPIKeySource(cfg, p))
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default user config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		printStatus("✓", "wrote "+path, color.FgGreen)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Printf("project: %s\n", project)
		fmt.Printf("traces:  %s\n", cfg.Trace.DBPath)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
}

// renderConfig returns c as YAML with API keys masked.
func renderConfig(c *config.Config) (string, error) {
	masked := *c
	masked.Providers.Anthropic.APIKey = maskIfSet(c.Providers.Anthropic.APIKey)
	masked.Providers.Gemini.APIKey = maskIfSet(c.Providers.Gemini.APIKey)
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func maskIfSet(key string) string {
	if key == "" {
		return ""
	}
	return config.MaskAPIKey(key)
}
