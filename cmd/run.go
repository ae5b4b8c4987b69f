package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/runner"
)

var (
	flagRunAll      bool
	flagRunRows     []string
	flagRunVars     []string
	flagRunParallel int
	flagRunJSON     bool
)

type testResult struct {
	Test    string           `json:"test"`
	Summary runner.Summary   `json:"summary"`
	Runs    []*model.TestRun `json:"runs"`
	Errors  []string         `json:"errors,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run [test...]",
	Short: "Run tests and store the results",
	Long: `Run one or more tests from the suite.

A test with a dataset runs once per row (restrict with --row); with --var,
or without a dataset, it runs once with custom variables. Rows run in
parallel up to --parallel, paced by rate_limit.

Vendor and render failures are recorded as runs with status error; they do
not stop the remaining rows. Exits with status 1 when any run failed or
errored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 && !flagRunAll {
			return fmt.Errorf("name at least one test, or use --all")
		}

		a, err := newApp(ctx, appOptions{runner: true})
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if errs := a.suite.Validate(a.registry); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "%s: %s\n", a.cfg.Suite, e)
			}
			return &exitError{code: 1}
		}

		names := args
		if flagRunAll {
			names = nil
			for _, t := range a.suite.Tests {
				if t.IsEnabled() {
					names = append(names, t.Name)
				}
			}
		}
		vars, err := parseVars(flagRunVars)
		if err != nil {
			return err
		}
		parallel := flagRunParallel
		if parallel <= 0 {
			parallel = a.cfg.Parallel
		}

		ok := true
		var out []testResult
		for _, name := range names {
			res, err := a.suite.Resolve(name)
			if err != nil {
				return err
			}
			results, err := a.runner.RunTest(ctx, res, runner.Options{
				Parallel:  parallel,
				RowIDs:    flagRunRows,
				Variables: vars,
			})
			if err != nil {
				return err
			}

			tr := testResult{Test: name, Summary: runner.Summarize(results)}
			for _, r := range results {
				if r.Run != nil {
					tr.Runs = append(tr.Runs, r.Run)
				}
				if r.Err != nil {
					tr.Errors = append(tr.Errors, r.Err.Error())
				}
			}
			ok = ok && tr.Summary.OK()
			out = append(out, tr)

			if !flagRunJSON {
				printSummary(name, tr.Summary)
				printRuns(tr.Runs, false)
				for _, e := range tr.Errors {
					fmt.Fprintln(os.Stderr, errorStyle.Render("  "+e))
				}
			}
		}

		if flagRunJSON {
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
		}
		if !ok {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagRunAll, "all", false, "run every enabled test")
	runCmd.Flags().StringArrayVar(&flagRunRows, "row", nil, "only run this dataset row (repeatable)")
	runCmd.Flags().StringArrayVar(&flagRunVars, "var", nil, "run once with custom variable key=value (repeatable)")
	runCmd.Flags().IntVar(&flagRunParallel, "parallel", 0, "concurrent runs per dataset (default: config parallel)")
	runCmd.Flags().BoolVar(&flagRunJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(runCmd)
}
