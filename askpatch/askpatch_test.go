package askpatch_test

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sokinpui/askpatch/askpatch"
	"github.com/sokinpui/askpatch/cli"
	"github.com/sokinpui/askpatch/internal/browser"
	"github.com/sokinpui/askpatch/internal/nvim"
	"github.com/sokinpui/askpatch/internal/patcher"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

const goodbyeDiff = "diff --git a/hello.txt b/hello.txt\n--- a/hello.txt\n+++ b/hello.txt\n@@ -1,1 +1,1 @@\n-hello\n+goodbye\n"

const answer = "Here is the change:\n\n```diff\n" + goodbyeDiff + "```\n"

func TestMain(m *testing.M) {
	ui.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakePage answers every prompt with the same markdown, or the n-th prompt
// with the n-th of answers when set.
type fakePage struct {
	mu        sync.Mutex
	answer    string
	answers   []string
	submitted []string
	closed    bool
}

func (p *fakePage) current() string {
	if len(p.answers) == 0 {
		return p.answer
	}
	i := len(p.submitted) - 1
	if i >= len(p.answers) {
		i = len(p.answers) - 1
	}
	return p.answers[i]
}

func (p *fakePage) Submit(ctx context.Context, prompt string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, prompt)
	return nil
}

func (p *fakePage) Snapshot(ctx context.Context, scope string) (model.ConversationTurn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.submitted) == 0 {
		return model.ConversationTurn{}, nil
	}
	return model.ConversationTurn{Text: p.current(), Signals: model.Signals{SendVisible: true}}, nil
}

func (p *fakePage) CopyLatest(ctx context.Context, scope string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current(), nil
}

func (p *fakePage) Close() { p.closed = true }

func setupRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "askpatch")
	t.Setenv("GIT_AUTHOR_EMAIL", "askpatch@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "askpatch")
	t.Setenv("GIT_COMMITTER_EMAIL", "askpatch@example.com")
	t.Setenv(nvim.AddressEnv, "")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"add", "hello.txt"},
		{"commit", "-q", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return dir
}

func testConfig(t *testing.T, repo string) *cli.Config {
	t.Helper()
	cfg := cli.Default()
	cfg.Prompt = "please say goodbye"
	cfg.RepoRoot = repo
	cfg.ApplyMode = string(model.ApplyApply)
	cfg.ArtifactDir = t.TempDir()
	cfg.LedgerPath = filepath.Join(t.TempDir(), "ledger.db")
	cfg.HardTimeout = 5 * time.Second
	cfg.Waiter.Interval = 5 * time.Millisecond
	cfg.Waiter.StableFor = 10 * time.Millisecond
	cfg.Waiter.Inactivity = 50 * time.Millisecond
	return cfg
}

func newApp(t *testing.T, cfg *cli.Config, page *fakePage) *askpatch.App {
	t.Helper()
	attach := func(ctx context.Context, bc browser.Config) (askpatch.Page, error) { return page, nil }
	app, err := askpatch.New(context.Background(), cfg, askpatch.WithAttacher(attach))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunApplyThenUndo(t *testing.T) {
	repo := setupRepo(t)
	page := &fakePage{answer: answer}
	app := newApp(t, testConfig(t, repo), page)
	ctx := context.Background()

	var events []model.Event
	res, err := app.Run(ctx, func(ev model.Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != model.StatusSuccess || !res.DiffApplied {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := readFile(t, filepath.Join(repo, "hello.txt")); got != "goodbye\n" {
		t.Fatalf("hello.txt = %q after apply", got)
	}
	if len(page.submitted) != 1 || !page.closed {
		t.Fatalf("page: submitted=%d closed=%v", len(page.submitted), page.closed)
	}
	if len(events) == 0 {
		t.Fatal("expected progress events")
	}

	history, err := app.History(0)
	if err != nil || len(history) != 1 || history[0].SessionID != res.SessionID {
		t.Fatalf("history = %+v, %v", history, err)
	}

	entry, err := app.Undo(ctx)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if entry.SessionID != res.SessionID || !entry.Reverted {
		t.Fatalf("undo entry = %+v", entry)
	}
	if got := readFile(t, filepath.Join(repo, "hello.txt")); got != "hello\n" {
		t.Fatalf("hello.txt = %q after undo", got)
	}
	if _, err := app.Undo(ctx); !errors.Is(err, askpatch.ErrNothingToUndo) {
		t.Fatalf("second undo err = %v, want ErrNothingToUndo", err)
	}
}

func TestUndoRevertsEveryIterateRound(t *testing.T) {
	repo := setupRepo(t)
	farewell := "Next:\n\n```diff\ndiff --git a/hello.txt b/hello.txt\n--- a/hello.txt\n+++ b/hello.txt\n@@ -1,1 +1,1 @@\n-goodbye\n+farewell\n```\n"
	page := &fakePage{answers: []string{answer, farewell, "All done, nothing else to change."}}
	cfg := testConfig(t, repo)
	cfg.Iterate = true
	app := newApp(t, cfg, page)
	ctx := context.Background()

	res, err := app.Run(ctx, nil)
	if err != nil || res.Status != model.StatusSuccess {
		t.Fatalf("Run: %+v %v", res, err)
	}
	if len(page.submitted) != 3 {
		t.Fatalf("submitted = %d, want 3", len(page.submitted))
	}
	if got := readFile(t, filepath.Join(repo, "hello.txt")); got != "farewell\n" {
		t.Fatalf("hello.txt = %q after two rounds", got)
	}

	if _, err := app.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if got := readFile(t, filepath.Join(repo, "hello.txt")); got != "hello\n" {
		t.Fatalf("hello.txt = %q after undo, want the original", got)
	}
}

func TestUndoRefusesEditedPatch(t *testing.T) {
	repo := setupRepo(t)
	app := newApp(t, testConfig(t, repo), &fakePage{answer: answer})
	ctx := context.Background()

	res, err := app.Run(ctx, nil)
	if err != nil || res.Status != model.StatusSuccess {
		t.Fatalf("Run: %+v %v", res, err)
	}
	if err := os.WriteFile(res.DiffPath, []byte(goodbyeDiff+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Undo(ctx); !errors.Is(err, askpatch.ErrPatchChanged) {
		t.Fatalf("err = %v, want ErrPatchChanged", err)
	}
	if got := readFile(t, filepath.Join(repo, "hello.txt")); got != "goodbye\n" {
		t.Fatalf("hello.txt = %q, refused undo must not touch it", got)
	}
}

func TestRunEmptyPrompt(t *testing.T) {
	repo := t.TempDir()
	t.Setenv(nvim.AddressEnv, "")
	cfg := testConfig(t, repo)
	cfg.Prompt = ""
	cfg.PromptFile = filepath.Join(repo, "prompt.txt")
	if err := os.WriteFile(cfg.PromptFile, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	page := &fakePage{answer: answer}
	app := newApp(t, cfg, page)

	if _, err := app.Run(context.Background(), nil); !errors.Is(err, askpatch.ErrEmptyPrompt) {
		t.Fatalf("err = %v, want ErrEmptyPrompt", err)
	}
	if len(page.submitted) != 0 {
		t.Fatal("nothing should be submitted")
	}
}

func TestRunAttachFailure(t *testing.T) {
	t.Setenv(nvim.AddressEnv, "")
	cfg := testConfig(t, t.TempDir())
	boom := errors.New("no browser")
	app, err := askpatch.New(context.Background(), cfg, askpatch.WithAttacher(
		func(ctx context.Context, bc browser.Config) (askpatch.Page, error) { return nil, boom },
	))
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	if _, err := app.Run(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped attach error", err)
	}
}

func TestCheckDiff(t *testing.T) {
	repo := setupRepo(t)
	app := newApp(t, testConfig(t, repo), &fakePage{})
	ctx := context.Background()

	if err := app.CheckDiff(ctx, goodbyeDiff); err != nil {
		t.Fatalf("valid diff rejected: %v", err)
	}
	stale := "diff --git a/hello.txt b/hello.txt\n--- a/hello.txt\n+++ b/hello.txt\n@@ -1,1 +1,1 @@\n-howdy\n+goodbye\n"
	if err := app.CheckDiff(ctx, stale); err == nil {
		t.Fatal("expected git to reject a diff that does not match the tree")
	}
	if err := app.CheckDiff(ctx, "just words"); !errors.Is(err, patcher.ErrNoGitHeader) {
		t.Fatalf("err = %v, want ErrNoGitHeader", err)
	}
}
