package main

import (
	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/ui"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Reverse the last applied patch",
	Long: `Reverse the newest patch askpatch applied that has not been undone yet,
using git apply -R. A patch committed with --apply=commit is reversed in the
working tree only; commit the revert yourself.`,
	Args: cobra.NoArgs,
	RunE: runUndo,
}

var undoFlags *cli.Flags

func init() {
	undoFlags = cli.NewFlags(undoCmd.Flags()).Repo()
	rootCmd.AddCommand(undoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	app, _, err := openApp(cmd, undoFlags)
	if err != nil {
		return err
	}
	defer app.Close()

	entry, err := app.Undo(cmd.Context())
	if err != nil {
		return err
	}
	ui.Success("Reverted session %s.", entry.SessionID)
	ui.Path("%s", entry.DiffPath)
	return nil
}
