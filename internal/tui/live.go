package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/pkg/models"
)

// maxLogLines is the number of recent step lines shown.
const maxLogLines = 8

// EventMsg delivers one stream event to the program.
type EventMsg struct {
	Event events.Event
}

// streamClosedMsg is sent when the event channel closes.
type streamClosedMsg struct{}

// taskLine is the live state of one task or sub-task.
type taskLine struct {
	id       string
	parent   string
	state    string
	finished bool
}

// LiveApp follows one run's stream events.
type LiveApp struct {
	source <-chan events.Event

	spinner  spinner.Model
	tasks    []*taskLine
	byID     map[string]*taskLine
	logs     []string
	output   strings.Builder
	usage    *models.BudgetUsage
	result   *models.TaskResult
	width    int
	quitting bool
	done     bool

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	stateStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	okStyle       lipgloss.Style
	failStyle     lipgloss.Style
	logStyle      lipgloss.Style
	outputStyle   lipgloss.Style
}

// NewLiveApp creates a LiveApp reading from source.
func NewLiveApp(source <-chan events.Event) *LiveApp {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &LiveApp{
		source:  source,
		spinner: sp,
		byID:    make(map[string]*taskLine),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		stateStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),

		outputStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

// NewLiveProgram creates a bubbletea program for the live view.
func NewLiveProgram(source <-chan events.Event) (*tea.Program, *LiveApp) {
	app := NewLiveApp(source)
	return tea.NewProgram(app), app
}

// Result returns the top-level result, or nil if none arrived.
func (a *LiveApp) Result() *models.TaskResult { return a.result }

// Quit reports whether the user quit before the stream ended.
func (a *LiveApp) Quit() bool { return a.quitting }

func (a *LiveApp) waitForEvent() tea.Msg {
	ev, ok := <-a.source
	if !ok {
		return streamClosedMsg{}
	}
	return EventMsg{Event: ev}
}

// Init implements tea.Model.
func (a *LiveApp) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.waitForEvent)
}

// Update implements tea.Model.
func (a *LiveApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case EventMsg:
		a.apply(msg.Event)
		return a, a.waitForEvent
	case streamClosedMsg:
		a.done = true
		return a, tea.Quit
	}
	return a, nil
}

// apply folds one event into the view state.
func (a *LiveApp) apply(ev events.Event) {
	line := a.task(ev.TaskID, ev.ParentTaskID)
	if ev.Usage != nil && ev.ParentTaskID == "" {
		u := *ev.Usage
		a.usage = &u
	}

	switch ev.Type {
	case events.TypeProgress:
		if ev.State != "" {
			line.state = ev.State
		}
		if ev.Step != nil {
			a.logStep(ev.TaskID, *ev.Step)
		}
	case events.TypeChunk:
		if ev.ParentTaskID == "" {
			a.output.WriteString(ev.Chunk)
		}
	case events.TypeResult:
		line.finished = true
		if ev.Result != nil {
			line.state = string(ev.Result.Status)
			if ev.ParentTaskID == "" {
				a.result = ev.Result
				u := ev.Result.BudgetUsed
				a.usage = &u
			}
		}
	}
}

func (a *LiveApp) task(id, parent string) *taskLine {
	if line, ok := a.byID[id]; ok {
		return line
	}
	line := &taskLine{id: id, parent: parent}
	a.byID[id] = line
	a.tasks = append(a.tasks, line)
	return line
}

func (a *LiveApp) logStep(taskID string, s models.StepResult) {
	tool := s.ToolName
	if tool == "" {
		tool = "reasoning"
	}
	mark := a.okStyle.Render("✓")
	detail := ""
	if !s.Success {
		mark = a.failStyle.Render("✗")
		detail = " " + truncate(s.Error, 60)
	}
	a.logs = append(a.logs, fmt.Sprintf("%s %s step %d %s%s", mark, shortID(taskID), s.StepIndex, tool, detail))
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

// View implements tea.Model.
func (a *LiveApp) View() string {
	if a.quitting {
		return "Stopping run.\n"
	}

	var b strings.Builder
	b.WriteString(a.headerStyle.Render("=== orca ==="))
	b.WriteString("\n\n")

	for _, t := range a.tasks {
		indent := ""
		if t.parent != "" {
			indent = "  "
		}
		icon := a.spinner.View()
		if t.finished {
			icon = a.statusIcon(models.TaskStatus(t.state))
		}
		fmt.Fprintf(&b, "%s%s %s %s\n", indent, icon, shortID(t.id), a.stateStyle.Render(t.state))
	}

	if a.usage != nil {
		b.WriteString("\n")
		b.WriteString(a.renderUsage(*a.usage))
	}

	if len(a.logs) > 0 {
		b.WriteString("\n")
		for _, l := range a.logs {
			b.WriteString("  " + a.logStyle.Render(l) + "\n")
		}
	}

	if a.output.Len() > 0 {
		b.WriteString("\n")
		b.WriteString(a.outputStyle.Render(a.output.String()))
		b.WriteString("\n")
	}

	if !a.done {
		b.WriteString("\n" + a.logStyle.Render("q: stop run") + "\n")
	}
	return b.String()
}

func (a *LiveApp) statusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return a.okStyle.Render("✓")
	case models.TaskStatusBudgetExhausted:
		return a.failStyle.Render("$")
	default:
		return a.failStyle.Render("✗")
	}
}

func (a *LiveApp) renderUsage(u models.BudgetUsage) string {
	var b strings.Builder

	limit := u.TokensUsed + u.TokensRemaining
	pct := 0.0
	if limit > 0 {
		pct = float64(u.TokensUsed) / float64(limit) * 100
	}
	b.WriteString(a.labelStyle.Render("Tokens:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d/%d", u.TokensUsed, limit)))
	b.WriteString(a.renderProgressBar(pct, 20))
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Cost:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("$%.4f", u.CostUSD)))
	b.WriteString("  ")
	b.WriteString(a.labelStyle.Render("Tools:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d", u.ToolCallsUsed)))
	b.WriteString("\n")
	return b.String()
}

func (a *LiveApp) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

func shortID(id string) string {
	if id == "" {
		return "(task)"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
