package views

import (
	"fmt"
	"strings"

	"github.com/sandeepkv93/tasklane/internal/dependency"
)

const timeLayout = "2006-01-02 15:04 MST"

// RenderTaskSection lists views under title with a cursor on selectedID.
func RenderTaskSection(title string, tasks []dependency.TaskView, selectedID string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s (%d):\n", strings.ToLower(title), len(tasks)))
	if len(tasks) == 0 {
		b.WriteString("  (none)\n")
		return strings.TrimSuffix(b.String(), "\n")
	}
	for _, v := range tasks {
		cursor := " "
		if v.Task.ID == selectedID {
			cursor = ">"
		}
		b.WriteString(cursor + " " + TaskLine(v) + "\n")
		for _, blocker := range v.Outstanding {
			b.WriteString("    waits on " + blocker.String() + "\n")
		}
		if v.Task.BlockedUntil != nil && v.Blocked && len(v.Outstanding) == 0 {
			b.WriteString("    until " + v.Task.BlockedUntil.Format(timeLayout) + "\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// TaskLine is the one-line form of a task used by lists and the CLI.
func TaskLine(v dependency.TaskView) string {
	line := fmt.Sprintf("%s %s  %s", statusBadge(v), shortID(v.Task.ID), v.Task.Text)
	switch {
	case v.Task.IsCompleted():
		return doneStyle.Render(line)
	case v.Blocked:
		return blockedStyle.Render(line)
	default:
		return line
	}
}

func RenderPalette(active bool, input string) string {
	if !active {
		return ""
	}
	return fmt.Sprintf("command: /%s", input)
}

// TaskReportMarkdown describes one task and its blocker state as markdown.
func TaskReportMarkdown(v dependency.TaskView) string {
	t := v.Task
	var b strings.Builder
	b.WriteString("# " + escape(t.Text) + "\n\n")
	b.WriteString(fmt.Sprintf("- **id**: `%s`\n", t.ID))
	if t.ProjectID != "" {
		b.WriteString(fmt.Sprintf("- **project**: `%s`\n", t.ProjectID))
	}
	b.WriteString("- **created**: " + t.CreatedAt.UTC().Format(timeLayout) + "\n")
	status := "actionable"
	switch {
	case t.IsCompleted():
		status = "completed " + t.CompletedAt.UTC().Format(timeLayout)
	case v.Blocked:
		status = "blocked"
	}
	b.WriteString("- **status**: " + status + "\n")
	if t.BlockedUntil != nil {
		b.WriteString("- **blocked until**: " + t.BlockedUntil.UTC().Format(timeLayout) + "\n")
	}

	b.WriteString("\n## Blockers\n\n")
	if len(t.Blockers) == 0 {
		b.WriteString("_none_\n")
		return b.String()
	}
	for _, blocker := range t.Blockers {
		mark := "x"
		if v.Outstanding.Contains(blocker) {
			mark = " "
		}
		b.WriteString(fmt.Sprintf("- [%s] `%s`\n", mark, blocker.String()))
	}
	return b.String()
}

func RenderTaskReport(v dependency.TaskView) string {
	return RenderMarkdown(TaskReportMarkdown(v))
}

func statusBadge(v dependency.TaskView) string {
	switch {
	case v.Task.IsCompleted():
		return "[x]"
	case v.Blocked:
		return "[-]"
	default:
		return "[ ]"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func escape(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "#", `\#`).Replace(s)
}
