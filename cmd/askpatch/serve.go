package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session ledger over HTTP",
	Long: `Start a read-only HTTP API over the session ledger:

  GET /health
  GET /api/sessions[?limit=N]
  GET /api/sessions/{id}
  GET /api/sessions/{id}/events
  GET /api/sessions/{id}/patch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveFlags *cli.Flags

func init() {
	serveFlags = cli.NewFlags(serveCmd.Flags()).Serve()
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, cfg, err := openApp(cmd, serveFlags)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	ui.Info("askpatch ledger for %s listening on %s", app.RepoRoot(), cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
