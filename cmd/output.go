package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/runner"
)

// Styles
var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusText renders a run status with its color, padded to width.
func statusText(status string, width int) string {
	padded := fmt.Sprintf("%-*s", width, status)
	switch status {
	case model.StatusPassed:
		return passStyle.Render(padded)
	case model.StatusFailed:
		return failStyle.Render(padded)
	case model.StatusError:
		return errorStyle.Render(padded)
	default:
		return dimStyle.Render(padded)
	}
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *s)
}

func formatRunTarget(run *model.TestRun) string {
	if run.DatasetRowID != "" {
		return run.DatasetRowID
	}
	return "(custom)"
}

// printRuns prints one line per run.
func printRuns(runs []*model.TestRun, withTest bool) {
	if withTest {
		fmt.Println(headerStyle.Render(fmt.Sprintf("%-36s  %-20s  %-10s  %-7s  %-6s  %s", "ID", "TEST", "ROW", "STATUS", "SCORE", "DETAIL")))
	} else {
		fmt.Println(headerStyle.Render(fmt.Sprintf("  %-10s  %-7s  %-6s  %s", "ROW", "STATUS", "SCORE", "DETAIL")))
	}
	for _, run := range runs {
		detail := run.ErrorMessage
		if detail == "" {
			detail = failedEvaluators(run)
		}
		if withTest {
			fmt.Printf("%-36s  %-20s  %-10s  %s  %-6s  %s\n",
				run.ID, truncate(run.TestName, 20), truncate(formatRunTarget(run), 10),
				statusText(run.Status, 7), formatScore(run.Score), dimStyle.Render(truncate(detail, 60)))
			continue
		}
		fmt.Printf("  %-10s  %s  %-6s  %s\n",
			truncate(formatRunTarget(run), 10), statusText(run.Status, 7),
			formatScore(run.Score), dimStyle.Render(truncate(detail, 70)))
	}
}

// failedEvaluators lists the keys of failed evaluations.
func failedEvaluators(run *model.TestRun) string {
	var keys []string
	for _, e := range run.Evaluations {
		if !e.Passed {
			keys = append(keys, e.EvaluatorKey)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	return "failed: " + strings.Join(keys, ", ")
}

func printSummary(testName string, s runner.Summary) {
	line := fmt.Sprintf("%s: %d runs, %s, %s, %s",
		testName, s.Total,
		passStyle.Render(fmt.Sprintf("%d passed", s.Passed)),
		failStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
		errorStyle.Render(fmt.Sprintf("%d errored", s.Errored)))
	fmt.Println(sectionStyle.Render("==> ") + line)
}

// truncate cuts a string to at most maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
