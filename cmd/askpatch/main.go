// askpatch sends a prompt to a chat assistant open in your browser, pulls
// the unified diff out of its answer and validates, applies or commits it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/askpatch"
	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/ui"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "askpatch",
	Short: "Get a patch from a browser chat assistant and apply it",
	Long: `askpatch drives a chat assistant tab in a running Chrome (started with
--remote-debugging-port), waits for the answer, extracts the unified diff and
checks, applies or commits it with git. It re-prompts when no usable diff came back.

  askpatch run -p "rename Foo to Bar" --apply apply   Run a session
  pbpaste | askpatch extract                          Print the diff in an answer
  askpatch validate patch.diff                        Check a diff against the tree
  askpatch undo                                       Reverse the last applied patch
  askpatch history                                    List recorded sessions
  askpatch serve                                      Serve the ledger over HTTP`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr(cli.EnvPrefix+"CONFIG", ".askpatch.yaml"), "YAML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var de *askpatch.DetailedError
		if errors.As(err, &de) {
			fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", de.Stack)
		}
		ui.Error("Error: %v", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and the flags bound by
// flags.
func loadConfig(cmd *cobra.Command, flags *cli.Flags) (*cli.Config, error) {
	explicit := cmd.Flags().Changed("config") || os.Getenv(cli.EnvPrefix+"CONFIG") != ""
	return cli.Load(configPath, explicit, flags)
}

// openApp loads the configuration and opens the App.
func openApp(cmd *cobra.Command, flags *cli.Flags) (*askpatch.App, *cli.Config, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, nil, err
	}
	app, err := askpatch.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return app, cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
