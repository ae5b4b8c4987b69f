package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/prompt-tracker/internal/chat"
)

var (
	flagChatVersion int
	flagChatVars    []string
	flagChatTheme   string
)

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Chat interactively with a prompt version",
	Long: `Open a terminal UI to hold a conversation with a prompt version.

The system prompt is rendered with --var key=value flags and schema
defaults. When the user prompt renders too, it is offered as the first
message. Token usage is totalled as you go; nothing is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{suite: true})
		if err != nil {
			return err
		}
		defer a.close(ctx)

		p := a.suite.Prompt(args[0])
		if p == nil {
			return fmt.Errorf("unknown prompt %q", args[0])
		}
		v := p.ActiveVersion()
		if flagChatVersion != 0 {
			v = p.Version(flagChatVersion)
		}
		if v == nil {
			return fmt.Errorf("prompt %q has no version %d", p.Slug, flagChatVersion)
		}

		vars, err := parseVars(flagChatVars)
		if err != nil {
			return err
		}
		client, err := a.client(v.ModelConfig)
		if err != nil {
			return err
		}
		session, err := chat.NewSession(client, v, vars)
		if err != nil {
			return err
		}

		tui := &chat.TUI{
			Session: session,
			Theme:   chat.ThemeByName(flagChatTheme),
			Title:   fmt.Sprintf("%s v%d", p.Slug, v.Number),
		}
		return tui.Run(ctx)
	},
}

func init() {
	chatCmd.Flags().IntVar(&flagChatVersion, "version", 0, "version number (default: active version)")
	chatCmd.Flags().StringArrayVar(&flagChatVars, "var", nil, "template variable as key=value (repeatable)")
	chatCmd.Flags().StringVar(&flagChatTheme, "theme", "dark", "color theme: dark, light")
	rootCmd.AddCommand(chatCmd)
}
