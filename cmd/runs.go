package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/store"
)

var (
	flagRunsTest   string
	flagRunsStatus string
	flagRunsLimit  int
	flagRunsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored test runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent test runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{store: true})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		runs, err := a.store.ListTestRuns(cmd.Context(), store.Filter{
			TestName: flagRunsTest,
			Status:   flagRunsStatus,
			Limit:    flagRunsLimit,
		})
		if err != nil {
			return err
		}
		if flagRunsJSON {
			if runs == nil {
				runs = []model.TestRun{}
			}
			return printJSON(cmd.OutOrStdout(), runs)
		}
		ptrs := make([]*model.TestRun, len(runs))
		for i := range runs {
			ptrs[i] = &runs[i]
		}
		printRuns(ptrs, true)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a test run with its conversation and evaluations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{store: true})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		run, err := a.store.GetTestRun(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("test run %q not found", args[0])
		}
		if err != nil {
			return err
		}
		if flagRunsJSON {
			return printJSON(cmd.OutOrStdout(), run)
		}
		printRunDetail(run)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats [test]",
	Short: "Show pass rate and average score",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{store: true})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		testName := ""
		if len(args) == 1 {
			testName = args[0]
		}
		stats, err := a.store.Stats(cmd.Context(), testName)
		if err != nil {
			return err
		}
		if flagRunsJSON {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		label := testName
		if label == "" {
			label = "all tests"
		}
		fmt.Println(sectionStyle.Render(label))
		fmt.Printf("  runs      %d (%d in flight)\n", stats.Total, stats.InFlight)
		fmt.Printf("  passed    %s\n", passStyle.Render(fmt.Sprint(stats.Passed)))
		fmt.Printf("  failed    %s\n", failStyle.Render(fmt.Sprint(stats.Failed)))
		fmt.Printf("  errored   %s\n", errorStyle.Render(fmt.Sprint(stats.Errored)))
		fmt.Printf("  pass rate %.1f%%\n", stats.PassRate)
		fmt.Printf("  avg score %s\n", formatScore(stats.AvgScore))
		return nil
	},
}

func printRunDetail(run *model.TestRun) {
	fmt.Println(sectionStyle.Render(fmt.Sprintf("%s  %s v%d  %s", run.TestName, run.PromptSlug, run.VersionNumber, formatRunTarget(run))))
	fmt.Printf("  id        %s\n", run.ID)
	fmt.Printf("  status    %s\n", statusText(run.Status, 0))
	fmt.Printf("  score     %s\n", formatScore(run.Score))
	if run.Provider != "" {
		fmt.Printf("  model     %s/%s\n", run.Provider, run.Model)
	}
	fmt.Printf("  tokens    %d in, %d out, %d total\n", run.Usage.InputTokens, run.Usage.OutputTokens, run.Usage.TotalTokens)
	fmt.Printf("  duration  %dms\n", run.ExecutionTimeMs)
	if run.ErrorMessage != "" {
		fmt.Printf("  error     %s\n", errorStyle.Render(run.ErrorMessage))
	}

	if run.RenderedSystemPrompt != "" {
		fmt.Println()
		fmt.Println(headerStyle.Render("system"))
		fmt.Println(indent(run.RenderedSystemPrompt))
	}
	for _, m := range run.Messages {
		fmt.Println()
		fmt.Println(headerStyle.Render(fmt.Sprintf("%s (turn %d)", m.Role, m.Turn)))
		fmt.Println(indent(m.Content))
		for _, tc := range m.ToolCalls {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  [tool call] %s %s", tc.Name, tc.Arguments)))
		}
	}

	if len(run.Evaluations) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("evaluations"))
		for _, e := range run.Evaluations {
			status := model.StatusFailed
			if e.Passed {
				status = model.StatusPassed
			}
			fmt.Printf("  %-20s %s %5.1f  %s\n", e.EvaluatorKey, statusText(status, 7), e.Score, dimStyle.Render(e.Feedback))
		}
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func init() {
	runsListCmd.Flags().StringVar(&flagRunsTest, "test", "", "only runs of this test")
	runsListCmd.Flags().StringVar(&flagRunsStatus, "status", "", "only runs with this status: pending, running, passed, failed, error")
	runsListCmd.Flags().IntVar(&flagRunsLimit, "limit", 50, "maximum number of runs")
	for _, c := range []*cobra.Command{runsListCmd, runsShowCmd, runsStatsCmd} {
		c.Flags().BoolVar(&flagRunsJSON, "json", false, "print JSON")
		runsCmd.AddCommand(c)
	}
	rootCmd.AddCommand(runsCmd)
}
