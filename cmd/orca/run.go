package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/signals"
	"github.com/ShayCichocki/orca/internal/tui"
	"github.com/ShayCichocki/orca/pkg/models"
)

var (
	runPreset         string
	runMaxTokens      int64
	runMaxToolCalls   int
	runMaxEscalations int
	runMaxCost        float64
	runMaxLatency     time.Duration
	runTools          []string
	runDenyTools      []string
	runLive           bool
	runJSON           bool
	runShowTrace      bool
	runNoPersist      bool
	runWorkDir        string
)

var runCmd = &cobra.Command{
	Use:   "run <task description>",
	Short: "Execute a task under a budget envelope",
	Long: `Execute a natural-language task.

The task is classified, decomposed into sub-tasks when it is compound, planned
into tool steps, executed, and synthesized into a final answer. Every model and
tool call is charged against the budget envelope selected by --preset and the
--max-* overrides.

A run stops when its budget is exhausted, on Ctrl+C, or when "orca kill" is
issued from another terminal.

Examples:
  orca run "Summarize README.md"
  orca run --preset extended "Compare the two config formats and recommend one"
  orca run --max-tokens 5000 --tools read_file,list_dir "List the Go packages"
  orca run --live "Read go.mod, then explain the dependencies"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVarP(&runPreset, "preset", "p", "", "Budget preset (see 'orca presets')")
	runCmd.Flags().Int64Var(&runMaxTokens, "max-tokens", 0, "Override the token limit")
	runCmd.Flags().IntVar(&runMaxToolCalls, "max-tool-calls", 0, "Override the tool call limit")
	runCmd.Flags().IntVar(&runMaxEscalations, "max-escalations", 0, "Override the escalation limit")
	runCmd.Flags().Float64Var(&runMaxCost, "max-cost", 0, "Override the cost ceiling in USD")
	runCmd.Flags().DurationVar(&runMaxLatency, "max-latency", 0, "Override the wall-clock limit")
	runCmd.Flags().StringSliceVar(&runTools, "tools", nil, "Restrict planning to these tools")
	runCmd.Flags().StringSliceVar(&runDenyTools, "deny-tool", nil, "Reject plan steps that use this tool (repeatable)")
	runCmd.Flags().BoolVar(&runLive, "live", false, "Show live progress")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the result as JSON")
	runCmd.Flags().BoolVar(&runShowTrace, "trace", false, "Print the execution trace after the result")
	runCmd.Flags().BoolVar(&runNoPersist, "no-persist", false, "Do not store the trace and result")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", ".", "Directory the file tools are confined to")
}

func runTask(cmd *cobra.Command, args []string) error {
	task := models.Task{
		ID:          uuid.New().String(),
		Description: strings.Join(args, " "),
		Budget: models.BudgetRequest{
			Preset:   runPreset,
			Override: budgetOverride(cmd),
		},
		AllowedTools: runTools,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := signals.New(cfg.Signals.Dir, signals.WithLogger(logger))
	if err != nil {
		logger.Warn("kill signals unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
		// A kill left over from an earlier run must not cancel this one.
		if err := watcher.Clear(); err != nil {
			logger.Warn("clear stale signals", zap.Error(err))
		}
		var release context.CancelFunc
		ctx, release = watcher.Context(ctx)
		defer release()
	}

	var emitter *events.Emitter
	var sink events.Sink
	if runLive {
		emitter = events.NewEmitter(events.DefaultBuffer, events.WithLogger(logger))
		sink = emitter
	}

	rt, err := newRuntime(ctx, cfg, logger, runtimeOptions{
		workDir:   runWorkDir,
		sink:      sink,
		denyTools: runDenyTools,
		persist:   !runNoPersist,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	var (
		res    *models.TaskResult
		runErr error
	)
	if runLive {
		res, runErr = runLiveView(ctx, rt, task, emitter)
	} else {
		res, runErr = rt.orch.Run(ctx, task)
	}
	if res == nil {
		return runErr
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if res.Status != models.TaskStatusCompleted {
		if runErr == nil {
			runErr = errors.New(res.Error)
		}
		return fmt.Errorf("task %s: %w", res.Status, runErr)
	}
	return nil
}

// runLiveView runs the task while the live view consumes its events. Quitting
// the view cancels the run.
func runLiveView(ctx context.Context, rt *runtime, task models.Task, emitter *events.Emitter) (*models.TaskResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *models.TaskResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := rt.orch.Run(ctx, task)
		emitter.Close()
		done <- outcome{res, err}
	}()

	program, app := tui.NewLiveProgram(emitter.Events())
	if _, err := program.Run(); err != nil {
		logger.Warn("live view", zap.Error(err))
	}
	if app.Quit() {
		cancel()
	}
	// Keep draining so result events never block the run.
	go func() {
		for range emitter.Events() {
		}
	}()

	out := <-done
	return out.res, out.err
}

// budgetOverride builds an override from the --max-* flags the user set.
func budgetOverride(cmd *cobra.Command) *models.BudgetOverride {
	var o models.BudgetOverride
	set := false
	flags := cmd.Flags()
	if flags.Changed("max-tokens") {
		o.MaxTokens = &runMaxTokens
		set = true
	}
	if flags.Changed("max-tool-calls") {
		o.MaxToolCalls = &runMaxToolCalls
		set = true
	}
	if flags.Changed("max-escalations") {
		o.MaxEscalations = &runMaxEscalations
		set = true
	}
	if flags.Changed("max-cost") {
		o.CostCeilingUSD = &runMaxCost
		set = true
	}
	if flags.Changed("max-latency") {
		ms := runMaxLatency.Milliseconds()
		o.MaxLatencyMs = &ms
		set = true
	}
	if !set {
		return nil
	}
	return &o
}

func printResult(res *models.TaskResult) {
	switch res.Status {
	case models.TaskStatusCompleted:
		printStatus("✓", "completed", color.FgGreen)
	case models.TaskStatusBudgetExhausted:
		printStatus("!", "budget exhausted: "+res.Error, color.FgYellow)
	default:
		printStatus("✗", "failed: "+res.Error, color.FgRed)
	}

	if res.Result != "" {
		fmt.Println()
		fmt.Println(res.Result)
	}

	u := res.BudgetUsed
	fmt.Println()
	fmt.Printf("tokens %d  tool calls %d  escalations %d  cost $%.4f  latency %dms\n",
		u.TokensUsed, u.ToolCallsUsed, u.EscalationsUsed, u.CostUSD, u.LatencyMs)
	if failed := res.FailedSteps(); failed > 0 {
		fmt.Printf("%d of %d steps failed\n", failed, len(res.StepResults))
	}
	if res.TraceID != "" {
		fmt.Printf("trace %s\n", res.TraceID)
	}

	if runShowTrace && res.Trace != nil {
		fmt.Println()
		fmt.Print(tui.RenderTrace(res.Trace, tui.TreeOptions{}))
	}
}
