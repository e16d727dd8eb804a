// Package secrets finds credential-shaped strings in prompt text.
package secrets

import (
	"regexp"
	"sort"
)

// Placeholder replaces every redacted secret.
const Placeholder = "[REDACTED]"

// Match is one detected secret.
type Match struct {
	Kind  string
	Start int
	End   int
}

type pattern struct {
	kind string
	re   *regexp.Regexp
	// group is the submatch holding the secret; 0 means the whole match.
	group int
}

var patterns = []pattern{
	{kind: "aws_access_key", re: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{kind: "aws_secret_key", re: regexp.MustCompile(`(?i)aws_?secret_?(?:access_?)?key\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`), group: 1},
	{kind: "bearer_token", re: regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9\-._~+/]{16,}=*)`), group: 1},
	{kind: "private_key", re: regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`)},
	{kind: "github_token", re: regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})\b`)},
	{kind: "openai_key", re: regexp.MustCompile(`\bsk-(?:proj-|ant-)?[A-Za-z0-9_\-]{20,}\b`)},
	{kind: "slack_token", re: regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},
	{kind: "google_api_key", re: regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},
	{kind: "jwt", re: regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{8,}\.eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\b`)},
	{
		kind:  "assignment",
		re:    regexp.MustCompile(`(?i)\b[A-Z0-9_]*(?:API_?KEY|SECRET|TOKEN|PASSWORD|PASSWD)[A-Z0-9_]*\s*[:=]\s*["']?([^\s"'#;,]{8,})["']?`),
		group: 1,
	},
}

// Scan returns the secrets in text ordered by position. Overlapping matches
// are merged into the earliest one.
func Scan(text string) []Match {
	var found []Match
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if p.group > 0 && len(loc) > 2*p.group+1 && loc[2*p.group] >= 0 {
				start, end = loc[2*p.group], loc[2*p.group+1]
			}
			if start == end {
				continue
			}
			found = append(found, Match{Kind: p.kind, Start: start, End: end})
		}
	}
	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})
	merged := []Match{found[0]}
	for _, m := range found[1:] {
		last := &merged[len(merged)-1]
		if m.Start < last.End {
			if m.End > last.End {
				last.End = m.End
			}
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// Sanitize replaces every secret in text with Placeholder.
func Sanitize(text string) (string, []Match) {
	matches := Scan(text)
	if len(matches) == 0 {
		return text, nil
	}
	out := make([]byte, 0, len(text))
	prev := 0
	for _, m := range matches {
		out = append(out, text[prev:m.Start]...)
		out = append(out, Placeholder...)
		prev = m.End
	}
	out = append(out, text[prev:]...)
	return string(out), matches
}

// Kinds lists the distinct kinds among matches, sorted.
func Kinds(matches []Match) []string {
	seen := make(map[string]bool)
	var kinds []string
	for _, m := range matches {
		if !seen[m.Kind] {
			seen[m.Kind] = true
			kinds = append(kinds, m.Kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}
