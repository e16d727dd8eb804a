package session

import (
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		attempt, max int
		outcome      Outcome
		iterate      bool
		want         bool
	}{
		{0, 2, OutcomeMissing, false, true},
		{1, 2, OutcomeInvalid, false, true},
		{2, 2, OutcomeMissing, false, false},
		{0, 0, OutcomeInvalid, false, false},
		{0, 2, OutcomeValid, false, false},
		{0, 2, OutcomeValid, true, true},
		{2, 2, OutcomeValid, true, false},
	}
	for _, tc := range tests {
		if got := ShouldRetry(tc.attempt, tc.max, tc.outcome, tc.iterate); got != tc.want {
			t.Errorf("ShouldRetry(%d, %d, %s, %v) = %v, want %v", tc.attempt, tc.max, tc.outcome, tc.iterate, got, tc.want)
		}
	}
}

func TestBuildFollowupPrompt(t *testing.T) {
	missing := BuildFollowupPrompt(Followup{Outcome: OutcomeMissing})
	if !strings.Contains(missing, "```diff\ndiff --git a/path/to/file") {
		t.Fatalf("missing prompt lacks an example diff:\n%s", missing)
	}

	invalid := BuildFollowupPrompt(Followup{Outcome: OutcomeInvalid, Reason: "missing 'diff --git' header"})
	if !strings.Contains(invalid, "exactly one fenced") || !strings.Contains(invalid, "missing 'diff --git' header") {
		t.Fatalf("invalid prompt:\n%s", invalid)
	}
	if strings.Contains(invalid, "%!") {
		t.Fatalf("format verb leaked:\n%s", invalid)
	}

	diff := "diff --git a/f b/f\n--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b"
	iterate := BuildFollowupPrompt(Followup{Outcome: OutcomeValid, AppliedDiff: diff})
	if !strings.Contains(iterate, "```diff\n"+diff+"\n```") {
		t.Fatalf("iterate prompt does not show the applied diff:\n%s", iterate)
	}
}
