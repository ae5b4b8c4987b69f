package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the suite file for errors",
	Long: `Load the suite file and report every problem found: duplicate names,
tests referencing missing prompts, versions or datasets, unknown or
unsupported evaluators, conversational rows without an interlocutor prompt
and rows that do not satisfy the prompt's variables.

Exits with status 1 when any error is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{suite: true})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		errs := a.suite.Validate(a.registry)
		if len(errs) == 0 {
			fmt.Printf("%s: %d prompts, %d datasets, %d tests OK\n",
				a.cfg.Suite, len(a.suite.Prompts), len(a.suite.Datasets), len(a.suite.Tests))
			return nil
		}
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%s: %s\n", a.cfg.Suite, e)
		}
		return &exitError{code: 1}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
