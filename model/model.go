// Package model defines the domain types shared across askpatch packages.
// It has no dependencies on other askpatch packages.
package model

import "time"

// Signals are the UI affordances observed alongside a conversation turn.
type Signals struct {
	Busy           bool `json:"busy"`
	StopVisible    bool `json:"stopVisible"`
	SendVisible    bool `json:"sendVisible"`
	SpinnerVisible bool `json:"spinnerVisible"`
}

// ConversationTurn is one snapshot of the assistant's latest turn.
type ConversationTurn struct {
	Text    string  `json:"text"`
	Markup  string  `json:"markup"`
	Signals Signals `json:"signals"`
}

// CompletionReason explains why the response waiter stopped polling.
type CompletionReason string

const (
	ReasonUISignal   CompletionReason = "ui_signal"
	ReasonInactivity CompletionReason = "inactivity_fallback"
	ReasonTimeout    CompletionReason = "timeout"
)

// CompletionResult is the terminal value of a wait.
type CompletionResult struct {
	Text   string
	Markup string
	Reason CompletionReason
}

// Origin records where a diff candidate came from.
type Origin string

const (
	OriginFencedBlock          Origin = "fenced_block"
	OriginNormalizedBeginPatch Origin = "normalized_begin_patch"
	// OriginRepairedBlock is a fenced block rebuilt by the lenient parser.
	OriginRepairedBlock Origin = "repaired_block"
)

// DiffCandidate is a scored code block that may hold a unified diff.
type DiffCandidate struct {
	Body   string `json:"body"`
	Score  int    `json:"score"`
	Origin Origin `json:"origin"`
	Lang   string `json:"lang,omitempty"`
}

// ExtractReason is the structured outcome of an extraction.
type ExtractReason string

const (
	ExtractSelected       ExtractReason = "selected"
	ExtractNoFencedBlocks ExtractReason = "no_fenced_blocks"
	ExtractPartialFence   ExtractReason = "partial_fence"
	ExtractNoScoredBlocks ExtractReason = "no_scored_blocks"
)

// Extraction is the result of scanning an answer for diffs.
type Extraction struct {
	Candidates []DiffCandidate
	Selected   *DiffCandidate
	Reason     ExtractReason
	// PartialFence is set when an opening fence was never closed.
	PartialFence bool
}

// Hunk is one contiguous region of change.
type Hunk struct {
	Header string
	Lines  []string
}

// FileDiff is the set of hunks touching one file.
type FileDiff struct {
	Path  string
	New   bool
	Hunks []Hunk
}

// UnifiedDiff is an ordered list of file diffs.
type UnifiedDiff struct {
	Files []FileDiff
}

// Paths returns the file paths touched by the diff, in order.
func (d UnifiedDiff) Paths() []string {
	paths := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Status is the terminal state of a session.
type Status string

const (
	StatusPending        Status = "pending"
	StatusAttempting     Status = "attempting"
	StatusSuccess        Status = "success"
	StatusInvalidDiff    Status = "invalid_diff"
	StatusDiffMissing    Status = "diff_missing"
	StatusApplyFailed    Status = "apply_failed"
	StatusCommitFailed   Status = "commit_failed"
	StatusPartial        Status = "partial"
	StatusSecretDetected Status = "secret_detected"
	// StatusError marks a transport or UI failure surfaced to the caller.
	StatusError Status = "error"
)

// Terminal reports whether no further attempts follow this status.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusAttempting
}

// ApplyMode selects what happens to a valid diff.
type ApplyMode string

const (
	ApplyNone   ApplyMode = "none"
	ApplyCheck  ApplyMode = "check"
	ApplyApply  ApplyMode = "apply"
	ApplyCommit ApplyMode = "commit"
)

// SecretPolicy selects how detected secrets in a prompt are handled.
type SecretPolicy string

const (
	SecretsOff      SecretPolicy = "off"
	SecretsSanitize SecretPolicy = "sanitize"
	SecretsFail     SecretPolicy = "fail"
)

// SecretScan summarizes the prompt secret scan.
type SecretScan struct {
	Policy  SecretPolicy `json:"policy"`
	Found   bool         `json:"found"`
	Count   int          `json:"count"`
	Kinds   []string     `json:"kinds,omitempty"`
	Applied string       `json:"applied,omitempty"` // "redacted", "blocked" or ""
}

// Result is the structured document written at the end of every session.
type Result struct {
	SessionID     string     `json:"sessionId"`
	Status        Status     `json:"status"`
	DiffFound     bool       `json:"diffFound"`
	DiffValidated bool       `json:"diffValidated"`
	DiffApplied   bool       `json:"diffApplied"`
	ApplyMode     ApplyMode  `json:"applyMode"`
	RetryCount    int        `json:"retryCount"`
	ElapsedMs     int64      `json:"elapsedMs"`
	PromptChars   int        `json:"promptChars"`
	ResponseChars int        `json:"responseChars"`
	PatchBytes    int        `json:"patchBytes"`
	SecretScan    SecretScan `json:"secretScan"`
	DiffPath      string     `json:"diffPath,omitempty"`
	CommitSHA     string     `json:"commitSha,omitempty"`
	Stderr        string     `json:"stderr,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// PhaseTiming is one timed phase of one attempt.
type PhaseTiming struct {
	Attempt     int       `json:"attempt"`
	Phase       string    `json:"phase"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// Metrics is the per-session timing document.
type Metrics struct {
	SessionID string        `json:"sessionId"`
	Phases    []PhaseTiming `json:"phases"`
}

// Event is a progress notification emitted by a running session.
type Event struct {
	SessionID string    `json:"sessionId"`
	Attempt   int       `json:"attempt"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
