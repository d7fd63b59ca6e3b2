package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/config"
	"github.com/ShayCichocki/orca/internal/logging"
)

var (
	// Global flags
	verbose bool

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "orca",
	Short: "Budgeted agentic task orchestration",
	Long: `orca plans, executes and synthesizes natural-language tasks under a
finite budget of tokens, tool calls, escalations, cost and latency.

Each run follows a fixed state machine: spec, classify, plan, critique,
execute steps (with verification and bounded replanning) and synthesize.
Complex compound tasks are decomposed into sub-tasks that share the
parent budget. Every run records a trace you can inspect with 'orca trace'.

Configuration is read from ~/.config/orca/config.yaml, .orca.yaml in the
project, a .env file and ORCA_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			Verbose:     verbose,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(versionCmd)
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("  %s %s\n", c.Sprint(symbol), message)
}
