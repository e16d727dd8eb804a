// Package session runs the prompt, wait, extract and apply loop against a
// chat assistant, retrying until a usable patch arrives or the budget ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sokinpui/askpatch/internal/git"
	"github.com/sokinpui/askpatch/internal/markup"
	"github.com/sokinpui/askpatch/internal/parser"
	"github.com/sokinpui/askpatch/internal/patcher"
	"github.com/sokinpui/askpatch/internal/secrets"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

var (
	ErrNoSubmitter = errors.New("session: no submitter configured")
	ErrNoWaiter    = errors.New("session: no response waiter configured")
	ErrNoGit       = errors.New("session: apply mode needs a git integrator")
)

// Submitter sends a prompt to the assistant. It is called once per attempt.
type Submitter interface {
	Submit(ctx context.Context, prompt string) error
}

// Waiter blocks until the assistant's answer is complete. Baseline reads the
// latest turn before submission so that Wait can tell it from the new answer.
type Waiter interface {
	Baseline(ctx context.Context, scope string) (string, error)
	Wait(ctx context.Context, scope string, hardTimeout time.Duration, baseline string) (model.CompletionResult, error)
}

// Copier reads the latest answer out of band, e.g. via a copy button.
type Copier interface {
	CopyLatest(ctx context.Context, scope string) (string, error)
}

// Git checks, applies and commits patch files.
type Git interface {
	Validate(ctx context.Context, patchPath, repoRoot string) (git.Result, error)
	Apply(ctx context.Context, patchPath, repoRoot string) (git.Result, error)
	Commit(ctx context.Context, message, repoRoot string, paths ...string) (git.Result, error)
	HeadSHA(ctx context.Context, repoRoot string) (git.Result, error)
}

// Ledger records finished sessions and their progress events.
type Ledger interface {
	Record(res *model.Result, repoRoot string) error
	AddEvent(ev model.Event) error
}

// Reloader refreshes editors after files changed on disk.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Deps are the collaborators of a Runner. Submitter and Waiter are required.
type Deps struct {
	Submitter Submitter
	Waiter    Waiter
	Copier    Copier
	Git       Git
	Ledger    Ledger
	Reloader  Reloader
}

// Options configure one Run.
type Options struct {
	Prompt          string
	MaxRetries      int
	ApplyMode       model.ApplyMode
	SecretPolicy    model.SecretPolicy
	ExitOnPartial   bool
	Iterate         bool
	Strict          bool
	AllowedPrefixes []string
	RepoRoot        string
	CommitMessage   string
	ArtifactDir     string
	Scope           string
	HardTimeout     time.Duration
	// MinCopyChars is the smallest out-of-band copy preferred over the page text.
	MinCopyChars int
}

// Runner drives sessions. It is not safe for concurrent Runs because its
// collaborators share one browser page.
type Runner struct {
	deps     Deps
	observer func(model.Event)
	now      func() time.Time
	newID    func() string
}

// New creates a Runner.
func New(deps Deps) *Runner {
	return &Runner{
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// SetObserver registers a function called with every progress event.
func (r *Runner) SetObserver(fn func(model.Event)) {
	r.observer = fn
}

// run is the loop-local state of one session.
type run struct {
	opts        Options
	res         *model.Result
	art         *artifacts
	repoRoot    string
	anyDiffText bool
	last        Outcome
	appliedOnce bool
	lastCopy    string
}

// Run executes a session and returns its result document. Terminal domain
// outcomes are reported through Result.Status with a nil error; the error is
// set only when the browser, the filesystem or the context failed, and the
// result document is still written in that case.
func (r *Runner) Run(ctx context.Context, opts Options) (res *model.Result, err error) {
	if r.deps.Submitter == nil {
		return nil, ErrNoSubmitter
	}
	if r.deps.Waiter == nil {
		return nil, ErrNoWaiter
	}
	opts = withDefaults(opts)
	if opts.ApplyMode != model.ApplyNone && r.deps.Git == nil {
		return nil, ErrNoGit
	}
	if opts.Iterate && !appliesPatches(opts.ApplyMode) {
		ui.Warning("Iterate needs apply mode apply or commit; stopping after the first patch.")
		opts.Iterate = false
	}

	start := r.now()
	res = &model.Result{
		SessionID:  r.newID(),
		Status:     model.StatusPending,
		ApplyMode:  opts.ApplyMode,
		SecretScan: model.SecretScan{Policy: opts.SecretPolicy},
		CreatedAt:  start.UTC(),
	}
	art, err := newArtifacts(opts.ArtifactDir, res.SessionID)
	if err != nil {
		return nil, err
	}
	s := &run{opts: opts, res: res, art: art, repoRoot: opts.RepoRoot}
	if s.repoRoot == "" {
		s.repoRoot = "."
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("session panic: %v\n%s", p, debug.Stack())
			res.Status = model.StatusError
		}
		if err != nil && res.Error == "" {
			res.Error = err.Error()
		}
		res.ElapsedMs = r.now().Sub(start).Milliseconds()
		r.finish(s)
	}()

	ui.Header("--- Session %s ---", res.SessionID)
	prompt, blocked := r.scanSecrets(s, opts.Prompt)
	if blocked {
		return res, nil
	}
	res.PromptChars = len(prompt)

	for attempt := 0; ; attempt++ {
		res.Status = model.StatusAttempting
		res.RetryCount = attempt

		answer, err := r.ask(ctx, s, attempt, prompt)
		if err != nil {
			res.Status = model.StatusError
			return res, err
		}

		ex := r.timed(s, attempt, PhaseExtract, func() model.Extraction { return parser.Extract(answer) })
		outcome, diff, reason := r.evaluate(s, ex)
		s.last = outcome
		r.emit(s, attempt, PhaseExtract, fmt.Sprintf("%s (%s)", outcome, ex.Reason))

		if outcome == OutcomeValid {
			done, err := r.handleValid(ctx, s, attempt, diff)
			if err != nil || done {
				return res, err
			}
			// Only an applied patch leaves the loop running.
			s.appliedOnce = true
		}

		if outcome == OutcomeMissing && s.appliedOnce {
			ui.Success("Assistant confirmed the change is complete.")
			res.Status = model.StatusSuccess
			return res, nil
		}
		if outcome != OutcomeValid && ex.PartialFence && opts.ExitOnPartial {
			ui.Warning("Answer ended inside an unclosed code fence; stopping.")
			res.Status = model.StatusPartial
			return res, nil
		}

		if !ShouldRetry(attempt, opts.MaxRetries, outcome, opts.Iterate) {
			break
		}
		prompt = BuildFollowupPrompt(Followup{Outcome: outcome, Reason: reason, AppliedDiff: diff})
		ui.Warning("Attempt %d: %s diff; asking again (%d/%d).", attempt+1, outcome, attempt+1, opts.MaxRetries)
	}

	switch {
	case s.last == OutcomeValid || s.appliedOnce:
		res.Status = model.StatusSuccess
	case s.anyDiffText:
		res.Status = model.StatusInvalidDiff
	default:
		res.Status = model.StatusDiffMissing
	}
	return res, nil
}

func appliesPatches(mode model.ApplyMode) bool {
	return mode == model.ApplyApply || mode == model.ApplyCommit
}

func withDefaults(opts Options) Options {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.ApplyMode == "" {
		opts.ApplyMode = model.ApplyNone
	}
	if opts.SecretPolicy == "" {
		opts.SecretPolicy = model.SecretsSanitize
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = filepath.Join(os.TempDir(), "askpatch")
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = 5 * time.Minute
	}
	if opts.MinCopyChars <= 0 {
		opts.MinCopyChars = 20
	}
	return opts
}

// scanSecrets applies the secret policy to the prompt. It reports whether the
// session must stop before anything is sent.
func (r *Runner) scanSecrets(s *run, prompt string) (string, bool) {
	if s.opts.SecretPolicy == model.SecretsOff {
		return prompt, false
	}
	clean, matches := secrets.Sanitize(prompt)
	if len(matches) == 0 {
		return prompt, false
	}

	scan := &s.res.SecretScan
	scan.Found = true
	scan.Count = len(matches)
	scan.Kinds = secrets.Kinds(matches)

	if s.opts.SecretPolicy == model.SecretsFail {
		scan.Applied = "blocked"
		s.res.Status = model.StatusSecretDetected
		ui.Error("Prompt contains %d secret(s) (%s); nothing was sent.", len(matches), strings.Join(scan.Kinds, ", "))
		return prompt, true
	}
	scan.Applied = "redacted"
	ui.Warning("Redacted %d secret(s) from the prompt (%s).", len(matches), strings.Join(scan.Kinds, ", "))
	return clean, false
}

// ask submits one prompt and waits for the answer.
func (r *Runner) ask(ctx context.Context, s *run, attempt int, prompt string) (string, error) {
	baseline, err := r.deps.Waiter.Baseline(ctx, s.opts.Scope)
	if err != nil {
		return "", fmt.Errorf("reading the previous answer: %w", err)
	}

	r.emit(s, attempt, PhaseSubmit, fmt.Sprintf("sending %d chars", len(prompt)))
	started := r.now()
	err = r.deps.Submitter.Submit(ctx, prompt)
	s.art.phase(attempt, PhaseSubmit, started, r.now())
	if err != nil {
		return "", fmt.Errorf("submitting prompt: %w", err)
	}

	r.emit(s, attempt, PhaseWait, "waiting for the answer")
	started = r.now()
	cr, err := r.deps.Waiter.Wait(ctx, s.opts.Scope, s.opts.HardTimeout, baseline)
	s.art.phase(attempt, PhaseWait, started, r.now())
	if err != nil {
		return "", fmt.Errorf("waiting for answer: %w", err)
	}
	if cr.Reason == model.ReasonTimeout {
		ui.Warning("No completion signal before the %s timeout; using the partial answer.", s.opts.HardTimeout)
	}

	answer := r.answerText(ctx, s, cr)
	s.res.ResponseChars = len(answer)
	return answer, nil
}

// answerText picks the best representation of the answer: an out-of-band copy,
// then the rendered markup converted back to markdown, then the page text.
func (r *Runner) answerText(ctx context.Context, s *run, cr model.CompletionResult) string {
	if r.deps.Copier != nil {
		copied, err := r.deps.Copier.CopyLatest(ctx, s.opts.Scope)
		switch {
		case err != nil:
			ui.Warning("  Copying the answer failed, using page text: %v", err)
		case copied != "" && copied == s.lastCopy:
			ui.Warning("  Clipboard still holds the previous answer, using page text.")
		case len(strings.TrimSpace(copied)) >= s.opts.MinCopyChars:
			s.lastCopy = copied
			return copied
		}
	}
	if markup.HasCodeBlocks(cr.Markup) {
		md, err := markup.ToMarkdown(cr.Markup)
		if err == nil {
			return md
		}
		ui.Warning("  Converting answer markup failed: %v", err)
	}
	return cr.Text
}

// evaluate turns an extraction into an outcome, the usable diff and, for an
// invalid diff, the reason it was rejected.
func (r *Runner) evaluate(s *run, ex model.Extraction) (Outcome, string, string) {
	for _, c := range ex.Candidates {
		if c.Score > 0 {
			s.anyDiffText = true
		}
	}
	if ex.Selected == nil {
		if s.anyDiffText && ex.Reason == model.ExtractNoScoredBlocks {
			return OutcomeInvalid, "", "it has no 'diff --git' header with a valid '@@' hunk"
		}
		return OutcomeMissing, "", ""
	}
	s.anyDiffText = true
	s.res.DiffFound = true

	diff := ex.Selected.Body
	if s.opts.RepoRoot != "" {
		relocated, err := patcher.Relocate(diff, s.opts.RepoRoot)
		switch {
		case err != nil:
			ui.Warning("  Could not relocate hunks: %v", err)
		case patcher.CoversPaths(diff, relocated):
			diff = relocated
		}
	}

	vopts := patcher.ValidateOptions{Strict: s.opts.Strict, AllowedPrefixes: s.opts.AllowedPrefixes}
	verr := patcher.Validate(diff, vopts)
	if verr == nil {
		return OutcomeValid, diff, ""
	}
	// A rejected path is final; repair would only drop that file.
	var perr *patcher.PathError
	if errors.As(verr, &perr) {
		return OutcomeInvalid, diff, verr.Error()
	}
	if repaired, ok := patcher.Normalize(diff); ok && patcher.CoversPaths(diff, repaired) && patcher.Validate(repaired, vopts) == nil {
		return OutcomeValid, repaired, ""
	}
	return OutcomeInvalid, diff, verr.Error()
}

// handleValid persists a valid diff and runs the apply mode. It reports
// whether the session reached a terminal status.
func (r *Runner) handleValid(ctx context.Context, s *run, attempt int, diff string) (bool, error) {
	res := s.res
	started := r.now()
	path, err := s.art.writePatch(diff)
	if err != nil {
		res.Status = model.StatusError
		return true, fmt.Errorf("writing patch: %w", err)
	}
	res.DiffPath = path
	res.PatchBytes = len(diff)
	ui.Info("Patch saved to %s", path)

	if s.opts.ApplyMode == model.ApplyNone {
		s.art.phase(attempt, PhaseValidate, started, r.now())
		res.DiffValidated = true
		return r.finishValid(s), nil
	}

	r.emit(s, attempt, PhaseValidate, "git apply --check")
	check, err := r.deps.Git.Validate(ctx, path, s.repoRoot)
	s.art.phase(attempt, PhaseValidate, started, r.now())
	if failed(check, err) {
		res.Status = model.StatusApplyFailed
		res.Stderr = stderrOf(check, err)
		ui.Error("Patch does not apply: %s", strings.TrimSpace(res.Stderr))
		return true, nil
	}
	res.DiffValidated = true
	if s.opts.ApplyMode == model.ApplyCheck {
		res.Status = model.StatusSuccess
		ui.Success("Patch applies cleanly.")
		return true, nil
	}

	r.emit(s, attempt, PhaseApply, "git apply")
	started = r.now()
	applied, err := r.deps.Git.Apply(ctx, path, s.repoRoot)
	s.art.phase(attempt, PhaseApply, started, r.now())
	if failed(applied, err) {
		res.Status = model.StatusApplyFailed
		res.Stderr = stderrOf(applied, err)
		ui.Error("Applying the patch failed: %s", strings.TrimSpace(res.Stderr))
		return true, nil
	}
	res.DiffApplied = true
	ui.Success("Patch applied.")
	if err := s.art.keepApplied(attempt, diff); err != nil {
		ui.Warning("  Could not keep a copy of the applied patch: %v", err)
	}
	if r.deps.Reloader != nil {
		if err := r.deps.Reloader.Reload(ctx); err != nil {
			ui.Warning("  Could not reload editor buffers: %v", err)
		}
	}

	if s.opts.ApplyMode == model.ApplyCommit {
		r.emit(s, attempt, PhaseCommit, "git commit")
		started = r.now()
		ok := r.commit(ctx, s, diff)
		s.art.phase(attempt, PhaseCommit, started, r.now())
		if !ok {
			res.Status = model.StatusCommitFailed
			return true, nil
		}
	}
	return r.finishValid(s), nil
}

// finishValid ends the session on a handled diff unless iterate mode asks
// the assistant for more.
func (r *Runner) finishValid(s *run) bool {
	if s.opts.Iterate {
		return false
	}
	s.res.Status = model.StatusSuccess
	return true
}

func (r *Runner) commit(ctx context.Context, s *run, diff string) bool {
	msg := s.opts.CommitMessage
	if msg == "" {
		msg = fmt.Sprintf("askpatch: apply assistant patch (session %s)", short(s.res.SessionID, 8))
	}
	committed, err := r.deps.Git.Commit(ctx, msg, s.repoRoot, patcher.DiffPaths(diff)...)
	if failed(committed, err) {
		s.res.Stderr = stderrOf(committed, err)
		ui.Error("Commit failed: %s", strings.TrimSpace(s.res.Stderr))
		return false
	}
	head, err := r.deps.Git.HeadSHA(ctx, s.repoRoot)
	if failed(head, err) {
		s.res.Stderr = stderrOf(head, err)
		ui.Error("Reading HEAD failed: %s", strings.TrimSpace(s.res.Stderr))
		return false
	}
	s.res.CommitSHA = head.Stdout
	ui.Success("Committed %s", short(head.Stdout, 12))
	return true
}

func failed(res git.Result, err error) bool {
	return err != nil || !res.OK
}

func stderrOf(res git.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Stderr
}

func (r *Runner) timed(s *run, attempt int, phase string, fn func() model.Extraction) model.Extraction {
	started := r.now()
	ex := fn()
	s.art.phase(attempt, phase, started, r.now())
	return ex
}

func (r *Runner) emit(s *run, attempt int, phase, msg string) {
	ev := model.Event{SessionID: s.res.SessionID, Attempt: attempt, Phase: phase, Message: msg, Time: r.now()}
	if r.observer != nil {
		r.observer(ev)
	}
	if r.deps.Ledger != nil {
		if err := r.deps.Ledger.AddEvent(ev); err != nil {
			ui.Warning("  Could not record event: %v", err)
		}
	}
}

// finish writes the result documents and records the session.
func (r *Runner) finish(s *run) {
	if err := s.art.writeResult(s.res); err != nil {
		ui.Error("Writing result documents failed: %v", err)
	}
	if r.deps.Ledger != nil {
		if err := r.deps.Ledger.Record(s.res, s.repoRoot); err != nil {
			ui.Error("Recording session failed: %v", err)
		}
	}
	if r.observer != nil {
		r.observer(model.Event{SessionID: s.res.SessionID, Attempt: s.res.RetryCount, Phase: "done", Message: string(s.res.Status), Time: r.now()})
	}
}

// short cuts an id or hash to n bytes.
func short(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
