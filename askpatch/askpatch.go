// Package askpatch is the library entry point: it wires the browser, the
// response waiter, the session runner, git and the ledger together.
package askpatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/browser"
	"github.com/sokinpui/askpatch/internal/fs"
	"github.com/sokinpui/askpatch/internal/git"
	"github.com/sokinpui/askpatch/internal/httpapi"
	"github.com/sokinpui/askpatch/internal/nvim"
	"github.com/sokinpui/askpatch/internal/patcher"
	"github.com/sokinpui/askpatch/internal/session"
	"github.com/sokinpui/askpatch/internal/source"
	"github.com/sokinpui/askpatch/internal/state"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/internal/waiter"
	"github.com/sokinpui/askpatch/model"
)

var (
	ErrEmptyPrompt    = errors.New("prompt is empty")
	ErrNothingToUndo  = errors.New("no applied patch to undo")
	ErrPatchChanged   = errors.New("patch file changed since it was applied")
	heartbeatInterval = 30 * time.Second
)

// Page is an attached chat tab.
type Page interface {
	waiter.Snapshotter
	session.Submitter
	session.Copier
	Close()
}

// Attacher connects to the chat tab described by cfg.
type Attacher func(ctx context.Context, cfg browser.Config) (Page, error)

func attachBrowser(ctx context.Context, cfg browser.Config) (Page, error) {
	p, err := browser.Attach(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// App orchestrates the entire application logic.
type App struct {
	cfg      *cli.Config
	repoRoot string
	ledger   *state.Manager
	git      *git.Client
	reloader *nvim.Manager
	source   *source.Provider
	attach   Attacher
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error {
	return e.Err
}

// Option customizes an App.
type Option func(*App)

// WithAttacher replaces the browser connection, for tests and embedders.
func WithAttacher(a Attacher) Option {
	return func(app *App) { app.attach = a }
}

// New creates a new App instance, resolving the repository root and opening
// its ledger.
func New(ctx context.Context, cfg *cli.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = cli.Default()
	}
	a := &App{
		cfg:      cfg,
		git:      git.New(),
		reloader: nvim.FromEnv(),
		source:   source.New(),
		attach:   attachBrowser,
	}
	for _, opt := range opts {
		opt(a)
	}

	root, err := a.resolveRoot(ctx)
	if err != nil {
		return nil, err
	}
	a.repoRoot = root

	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		ledgerPath = state.DefaultPath(root)
	}
	ledger, err := state.New(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	a.ledger = ledger
	return a, nil
}

func (a *App) resolveRoot(ctx context.Context) (string, error) {
	dir := a.cfg.RepoRoot
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	if root, err := a.git.FindRoot(ctx, dir); err == nil {
		return root, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// RepoRoot returns the repository the App works on.
func (a *App) RepoRoot() string {
	return a.repoRoot
}

// Close releases the ledger.
func (a *App) Close() error {
	return a.ledger.Close()
}

// Run executes one session against the chat tab. observe, when non-nil,
// receives every progress event.
func (a *App) Run(ctx context.Context, observe func(model.Event)) (res *model.Result, err error) {
	// Centralized panic recovery.
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	prompt, err := a.prompt()
	if err != nil {
		return nil, err
	}

	page, err := a.attach(ctx, a.cfg.Browser)
	if err != nil {
		return nil, fmt.Errorf("attaching to browser: %w", err)
	}
	defer page.Close()

	deps := session.Deps{
		Submitter: page,
		Waiter:    waiter.New(page, a.cfg.Waiter),
		Copier:    page,
		Git:       a.git,
		Ledger:    a.ledger,
	}
	if a.reloader != nil {
		deps.Reloader = a.reloader
	}
	runner := session.New(deps)
	if observe != nil {
		runner.SetObserver(observe)
	}

	started := time.Now()
	stop := waiter.StartMonitor(ctx, heartbeatInterval, func(context.Context) {
		ui.Faint("  ... session running for %s", time.Since(started).Round(time.Second))
	})
	defer stop()

	return runner.Run(ctx, a.sessionOptions(prompt))
}

func (a *App) sessionOptions(prompt string) session.Options {
	c := a.cfg
	return session.Options{
		Prompt:          prompt,
		MaxRetries:      c.MaxRetries,
		ApplyMode:       model.ApplyMode(c.ApplyMode),
		SecretPolicy:    model.SecretPolicy(c.SecretPolicy),
		ExitOnPartial:   c.ExitOnPartial,
		Iterate:         c.Iterate,
		Strict:          c.Strict,
		AllowedPrefixes: c.AllowedPrefixes,
		RepoRoot:        a.repoRoot,
		CommitMessage:   c.CommitMessage,
		ArtifactDir:     c.ArtifactDir,
		Scope:           c.Scope,
		HardTimeout:     c.HardTimeout,
		MinCopyChars:    c.MinCopyChars,
	}
}

func (a *App) prompt() (string, error) {
	text := a.cfg.Prompt
	if text == "" {
		var err error
		if text, err = a.source.Content(a.cfg.PromptFile); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyPrompt
	}
	return text, nil
}

// Input reads text for commands that take it from a file, stdin or the
// clipboard.
func (a *App) Input(path string) (string, error) {
	return a.source.Content(path)
}

// CheckDiff validates diff with the configured rules and, when the App works
// inside a git repository, with git apply --check.
func (a *App) CheckDiff(ctx context.Context, diff string) error {
	opts := patcher.ValidateOptions{Strict: a.cfg.Strict, AllowedPrefixes: a.cfg.AllowedPrefixes}
	if err := patcher.Validate(diff, opts); err != nil {
		return err
	}
	if _, err := a.git.FindRoot(ctx, a.repoRoot); err != nil {
		return nil
	}

	dir, err := os.MkdirTemp("", "askpatch-check-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "patch.diff")
	if err := fs.WriteFile(path, []byte(diff)); err != nil {
		return err
	}
	res, err := a.git.Validate(ctx, path, a.repoRoot)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("git apply --check failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// History returns up to limit ledger entries, newest first.
func (a *App) History(limit int) ([]*state.Entry, error) {
	return a.ledger.List(limit)
}

// Undo reverses the newest applied session that has not been reverted yet.
// Every round of an iterate session is reversed, newest first. A patch file
// edited after it was applied is refused.
func (a *App) Undo(ctx context.Context) (*state.Entry, error) {
	entry, err := a.ledger.LastApplied()
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNothingToUndo
	}
	if err != nil {
		return nil, err
	}

	sum, err := fs.GetFileSHA256(entry.DiffPath)
	if err != nil {
		return entry, fmt.Errorf("reading patch of session %s: %w", entry.SessionID, err)
	}
	if entry.PatchSHA256 != "" && sum != entry.PatchSHA256 {
		return entry, fmt.Errorf("%w: %s", ErrPatchChanged, entry.DiffPath)
	}
	patches, err := session.AppliedPatches(filepath.Dir(entry.DiffPath))
	if err != nil {
		return entry, err
	}
	if len(patches) == 0 {
		patches = []string{entry.DiffPath}
	}

	root := entry.RepoRoot
	if root == "" {
		root = a.repoRoot
	}
	if err := a.revertAll(ctx, patches, root); err != nil {
		return entry, err
	}
	if err := a.ledger.MarkReverted(entry.SessionID); err != nil {
		return entry, err
	}
	entry.Reverted = true

	if a.reloader != nil {
		if err := a.reloader.Reload(ctx); err != nil {
			ui.Warning("Could not reload editor buffers: %v", err)
		}
	}
	return entry, nil
}

// revertAll reverses patches newest first. When one fails, the ones already
// reversed are applied again so the tree is left as it was.
func (a *App) revertAll(ctx context.Context, patches []string, root string) error {
	for i := len(patches) - 1; i >= 0; i-- {
		res, err := a.git.Revert(ctx, patches[i], root)
		if err == nil && res.OK {
			continue
		}
		if err == nil {
			err = fmt.Errorf("git apply -R %s failed: %s", filepath.Base(patches[i]), strings.TrimSpace(res.Stderr))
		}
		for _, p := range patches[i+1:] {
			if redo, rerr := a.git.Apply(ctx, p, root); rerr != nil || !redo.OK {
				ui.Error("Could not re-apply %s after a failed undo", p)
			}
		}
		return err
	}
	return nil
}

// Handler returns the read-only HTTP API over the ledger.
func (a *App) Handler() *httpapi.Handler {
	return httpapi.New(a.ledger)
}
