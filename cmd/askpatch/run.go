package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/tui"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a session against the chat tab",
	Long: `Send a prompt to the assistant and keep asking until its answer holds a
usable unified diff, then act on it according to --apply.

The prompt comes from the argument, --prompt, --prompt-file, piped stdin or the
clipboard, in that order.

Example:
  askpatch run "add a --verbose flag to cmd/tool" --apply apply
  git diff HEAD~1 | askpatch run --apply check --max-retries 3`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var runFlags *cli.Flags

func init() {
	runFlags = cli.NewFlags(runCmd.Flags()).Session()
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := cmd.Flags().Set("prompt", args[0]); err != nil {
			return err
		}
	}
	app, cfg, err := openApp(cmd, runFlags)
	if err != nil {
		return err
	}
	defer app.Close()

	var res *model.Result
	if !cfg.NoAnimation && isatty.IsTerminal(os.Stderr.Fd()) {
		res, err = tui.Run(cmd.Context(), os.Stderr, app.Run)
	} else {
		res, err = app.Run(cmd.Context(), nil)
	}
	if res != nil {
		ui.PrintResult(res)
	}
	if err != nil {
		return err
	}
	if res.Status != model.StatusSuccess {
		return fmt.Errorf("session ended with status %s", res.Status)
	}
	return nil
}
