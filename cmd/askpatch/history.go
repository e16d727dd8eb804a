package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/state"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyFlags *cli.Flags

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON")
	historyFlags = cli.NewFlags(historyCmd.Flags()).Repo()
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	app, _, err := openApp(cmd, historyFlags)
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := app.History(historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		if entries == nil {
			entries = []*state.Entry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	results := make([]*model.Result, 0, len(entries))
	for _, e := range entries {
		r := e.Result
		if e.Reverted {
			r.Status += " (reverted)"
		}
		results = append(results, &r)
	}
	ui.PrintHistory(results)
	return nil
}
