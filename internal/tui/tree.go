package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/orca/pkg/models"
)

var (
	treeTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	treeSpanStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	treeTimeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	treeEventStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	treeDataStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
)

// TreeOptions controls RenderTrace.
type TreeOptions struct {
	// HideEvents renders spans only.
	HideEvents bool
	// MaxValueLen truncates event values; zero means 80.
	MaxValueLen int
}

// RenderTrace draws tr as an indented span tree with each span's events
// listed under it.
func RenderTrace(tr *models.ExecutionTrace, opts TreeOptions) string {
	if tr == nil {
		return "(no trace)\n"
	}
	if opts.MaxValueLen <= 0 {
		opts.MaxValueLen = 80
	}

	var b strings.Builder
	b.WriteString(treeTitleStyle.Render("trace " + tr.ID))
	fmt.Fprintf(&b, " %s\n", treeTimeStyle.Render(fmt.Sprintf("task=%s %dms", tr.TaskID, tr.DurationMs)))
	if u := tr.BudgetUsed; u != nil {
		fmt.Fprintf(&b, "%s\n", treeDataStyle.Render(fmt.Sprintf(
			"tokens=%d tool_calls=%d escalations=%d cost=$%.4f",
			u.TokensUsed, u.ToolCallsUsed, u.EscalationsUsed, u.CostUSD)))
	}

	for i, s := range tr.Spans {
		renderSpan(&b, s, "", i == len(tr.Spans)-1, opts)
	}
	return b.String()
}

func renderSpan(b *strings.Builder, s *models.TraceSpan, prefix string, last bool, opts TreeOptions) {
	branch, next := "├─ ", "│  "
	if last {
		branch, next = "└─ ", "   "
	}

	duration := "open"
	if s.EndTime != nil {
		duration = fmt.Sprintf("%dms", s.EndTime.Sub(s.StartTime).Milliseconds())
	}
	fmt.Fprintf(b, "%s%s%s %s%s\n", prefix, branch, treeSpanStyle.Render(s.Name),
		treeTimeStyle.Render(duration), formatAttrs(s.Attributes))

	childPrefix := prefix + next
	if !opts.HideEvents {
		for _, ev := range s.Events {
			fmt.Fprintf(b, "%s· %s %s\n", childPrefix, treeEventStyle.Render(ev.Type),
				treeDataStyle.Render(formatData(ev.Data, opts.MaxValueLen)))
		}
	}
	for i, c := range s.Children {
		renderSpan(b, c, childPrefix, i == len(s.Children)-1, opts)
	}
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return " " + treeDataStyle.Render("["+strings.Join(parts, " ")+"]")
}

// formatData renders event data as sorted key=value pairs.
func formatData(data map[string]any, maxLen int) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := strings.ReplaceAll(fmt.Sprint(data[k]), "\n", " ")
		parts[i] = k + "=" + truncate(v, maxLen)
	}
	return strings.Join(parts, " ")
}
