package session

import (
	"fmt"
	"strings"
)

// Outcome classifies one attempt's answer.
type Outcome string

const (
	// OutcomeMissing means the answer held nothing diff-like.
	OutcomeMissing Outcome = "missing"
	// OutcomeInvalid means diff text was present but unusable.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeValid means a usable diff was found and handled.
	OutcomeValid Outcome = "valid"
)

// ShouldRetry decides whether another attempt follows. A valid diff only
// leads to another round in iterate mode.
func ShouldRetry(attempt, maxRetries int, outcome Outcome, iterate bool) bool {
	if attempt >= maxRetries {
		return false
	}
	switch outcome {
	case OutcomeMissing, OutcomeInvalid:
		return true
	case OutcomeValid:
		return iterate
	}
	return false
}

// Followup is the input to BuildFollowupPrompt.
type Followup struct {
	Outcome Outcome
	// Reason explains why the previous diff was rejected.
	Reason string
	// AppliedDiff is the diff accepted in the previous round.
	AppliedDiff string
}

const fence = "```"

const missingDiffPrompt = `Your previous answer did not contain a patch I could use.

Reply with the complete change as a git-style unified diff inside one fenced code block, like this:

` + fence + `diff
diff --git a/path/to/file b/path/to/file
--- a/path/to/file
+++ b/path/to/file
@@ -10,3 +10,4 @@
 unchanged line
-removed line
+added line
` + fence

const invalidDiffPrompt = `The patch in your previous answer could not be used: %s

Reply with exactly one fenced ` + fence + `diff code block and no commentary before or after it.
Every file needs "diff --git a/P b/P", "--- a/P" and "+++ b/P" headers, every hunk needs an
"@@ -a,b +c,d @@" header, and every hunk line must start with "+", "-" or a space.`

const iteratePrompt = `This patch was applied successfully:

` + fence + `diff
%s` + fence + `

If the task is now complete, reply with a short confirmation and no code blocks.
Otherwise reply with one fenced diff holding only the additional changes, written
against the files with the patch above already applied.`

// BuildFollowupPrompt returns the prompt for the next attempt.
func BuildFollowupPrompt(f Followup) string {
	switch f.Outcome {
	case OutcomeInvalid:
		reason := strings.TrimSpace(f.Reason)
		if reason == "" {
			reason = "it is not a valid unified diff"
		}
		return fmt.Sprintf(invalidDiffPrompt, reason)
	case OutcomeValid:
		diff := f.AppliedDiff
		if !strings.HasSuffix(diff, "\n") {
			diff += "\n"
		}
		return fmt.Sprintf(iteratePrompt, diff)
	default:
		return missingDiffPrompt
	}
}
