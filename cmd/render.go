package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timvw/prompt-tracker/internal/render"
)

var (
	flagRenderVersion int
	flagRenderVars    []string
	flagRenderDataset string
	flagRenderRow     string
	flagRenderLenient bool
	flagRenderJSON    bool
)

var renderCmd = &cobra.Command{
	Use:   "render <prompt>",
	Short: "Render a prompt version with variables",
	Long: `Render the system and user prompt of a prompt version.

Variables come from --var key=value flags, or from a dataset row with
--dataset and --row (flags win over row data). Schema defaults are applied
first. Without --lenient, missing variables are an error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{suite: true})
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		p := a.suite.Prompt(args[0])
		if p == nil {
			return fmt.Errorf("unknown prompt %q", args[0])
		}
		v := p.ActiveVersion()
		if flagRenderVersion != 0 {
			v = p.Version(flagRenderVersion)
		}
		if v == nil {
			return fmt.Errorf("prompt %q has no version %d", p.Slug, flagRenderVersion)
		}

		vars := map[string]any{}
		if flagRenderDataset != "" {
			ds := a.suite.Dataset(flagRenderDataset)
			if ds == nil {
				return fmt.Errorf("unknown dataset %q", flagRenderDataset)
			}
			row := ds.Row(flagRenderRow)
			if row == nil {
				return fmt.Errorf("dataset %q has no row %q", ds.Name, flagRenderRow)
			}
			for k, val := range row.RowData {
				vars[k] = val
			}
		}
		custom, err := parseVars(flagRenderVars)
		if err != nil {
			return err
		}
		for k, val := range custom {
			vars[k] = val
		}

		if !flagRenderLenient {
			withDefaults := render.ApplyDefaults(v.VariablesSchema, vars)
			if errs := render.ValidateVariables(v.VariablesSchema, withDefaults); len(errs) > 0 {
				return fmt.Errorf("invalid variables: %s", strings.Join(errs, "; "))
			}
		}
		rendered, err := render.Preview(v, vars, render.Options{Lenient: flagRenderLenient})
		if err != nil {
			return err
		}

		if flagRenderJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rendered)
		}
		fmt.Printf("%s\n", sectionStyle.Render(fmt.Sprintf("# %s v%d system prompt", p.Slug, v.Number)))
		fmt.Println(rendered.SystemPrompt)
		fmt.Println()
		fmt.Printf("%s\n", sectionStyle.Render(fmt.Sprintf("# %s v%d user prompt", p.Slug, v.Number)))
		fmt.Println(rendered.UserPrompt)
		return nil
	},
}

func init() {
	renderCmd.Flags().IntVar(&flagRenderVersion, "version", 0, "version number (default: active version)")
	renderCmd.Flags().StringArrayVar(&flagRenderVars, "var", nil, "template variable as key=value (repeatable)")
	renderCmd.Flags().StringVar(&flagRenderDataset, "dataset", "", "take variables from a row of this dataset")
	renderCmd.Flags().StringVar(&flagRenderRow, "row", "row-1", "dataset row id (with --dataset)")
	renderCmd.Flags().BoolVar(&flagRenderLenient, "lenient", false, "render missing variables as empty strings")
	renderCmd.Flags().BoolVar(&flagRenderJSON, "json", false, "print JSON")
	rootCmd.AddCommand(renderCmd)
}
