package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var flagEvaluatorsJSON bool

var evaluatorsCmd = &cobra.Command{
	Use:   "evaluators",
	Short: "List the available evaluators and their default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		defs := a.registry.List()
		if flagEvaluatorsJSON {
			return printJSON(cmd.OutOrStdout(), defs)
		}
		for _, d := range defs {
			fmt.Printf("%s  %s\n", sectionStyle.Render(fmt.Sprintf("%-20s", d.Key)), d.Description)
			fmt.Printf("  %s %s\n", dimStyle.Render("modes:"), strings.Join(d.Modes, ", "))
			keys := make([]string, 0, len(d.DefaultConfig))
			for k := range d.DefaultConfig {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s %v\n", dimStyle.Render(k+":"), d.DefaultConfig[k])
			}
		}
		return nil
	},
}

func init() {
	evaluatorsCmd.Flags().BoolVar(&flagEvaluatorsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(evaluatorsCmd)
}
