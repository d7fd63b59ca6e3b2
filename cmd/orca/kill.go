package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orca/internal/signals"
)

var killClear bool

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop running tasks in this project",
	Long: `Signal every orca run in this project to stop.

Runs watch the signals directory (signals.dir, default .orca/signals) and
cancel as soon as the kill file appears. Use --clear to remove a pending
signal without starting a run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := signals.New(cfg.Signals.Dir, signals.WithLogger(logger))
		if err != nil {
			return err
		}
		defer w.Close()

		if killClear {
			if err := w.Clear(); err != nil {
				return err
			}
			printStatus("✓", "signals cleared", color.FgGreen)
			return nil
		}

		if err := w.SendKill(); err != nil {
			return err
		}
		printStatus("✓", "kill signal sent", color.FgYellow)
		return nil
	},
}

func init() {
	killCmd.Flags().BoolVar(&killClear, "clear", false, "Remove pending signals instead of sending one")
}
