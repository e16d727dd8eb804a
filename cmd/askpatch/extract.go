package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/askpatch"
	"github.com/sokinpui/askpatch/internal/source"
	"github.com/sokinpui/askpatch/internal/ui"
)

var (
	extractRepo string
	extractRaw  bool
	extractJSON bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Print the best diff found in an assistant answer",
	Long: `Read an answer in markdown from a file, stdin or the clipboard, select the
most diff-like code block and print it with its hunk line numbers corrected
against the working tree.

Example:
  pbpaste | askpatch extract > fix.diff
  askpatch extract answer.md --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractRepo, "repo", "C", ".", "Directory whose files hunks are relocated against")
	extractCmd.Flags().BoolVar(&extractRaw, "raw", false, "Print the selected diff without relocating hunks")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "Print every scored candidate as JSON")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	content, err := source.New().Content(path)
	if err != nil {
		return err
	}
	if content == "" {
		return nil
	}

	if extractJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(askpatch.Extract(content))
	}

	repo := extractRepo
	if extractRaw {
		repo = ""
	}
	diff, err := askpatch.FixDiff(content, repo)
	if err != nil {
		return err
	}
	ui.Success("Selected diff (%d bytes)", len(diff))
	fmt.Fprint(os.Stdout, diff)
	return nil
}
