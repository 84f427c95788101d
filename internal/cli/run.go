package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [section]",
	Short: "Deliver one note and exit",
	Long: `Run a single invocation: restore state, refresh the token if needed,
pick a note from the section and send it to Telegram.

When no section is given the first configured section is used.

Example:
  notifyer run Quotes --config config.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOnce,
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	section := ""
	if len(args) > 0 {
		section = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Auth.Timeout)
	defer cancel()

	return a.runner.Run(ctx, section)
}
