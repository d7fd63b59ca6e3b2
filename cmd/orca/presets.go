package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/pkg/models"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List budget presets",
	Long: `List the budget presets available to 'orca run --preset'.

Presets come from the built-in set, overlaid by budget.presets_file when it is
configured.`,
	Args: cobra.NoArgs,
	RunE: listPresets,
}

func listPresets(cmd *cobra.Command, args []string) error {
	presets, err := cfg.Presets()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tTOKENS\tTOOL CALLS\tESCALATIONS\tCOST\tLATENCY\tENERGY")
	for _, name := range budget.PresetNames(presets) {
		env := presets[name]
		label := name
		if name == cfg.Budget.DefaultPreset {
			label += " (default)"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.2f\t%s\t%s\n",
			label,
			env.MaxTokens,
			env.MaxToolCalls,
			env.MaxEscalations,
			env.CostCeilingUSD,
			time.Duration(env.MaxLatencyMs)*time.Millisecond,
			energyLimit(env))
	}
	return w.Flush()
}

func energyLimit(env models.BudgetEnvelope) string {
	if env.MaxEnergyWh == nil {
		return "-"
	}
	return fmt.Sprintf("%.2fWh", *env.MaxEnergyWh)
}
