package main

import (
	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/patcher"
	"github.com/sokinpui/askpatch/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a diff file against the validation rules and the tree",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

var validateFlags *cli.Flags

func init() {
	validateFlags = cli.NewFlags(validateCmd.Flags()).Diff()
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	app, _, err := openApp(cmd, validateFlags)
	if err != nil {
		return err
	}
	defer app.Close()

	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	diff, err := app.Input(path)
	if err != nil {
		return err
	}
	if err := app.CheckDiff(cmd.Context(), diff); err != nil {
		return err
	}
	ui.Success("Diff is valid.")
	for _, p := range patcher.DiffPaths(diff) {
		ui.Path("%s", p)
	}
	return nil
}
