package patcher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sokinpui/askpatch/internal/fs"
)

var (
	gitHeaderRegex  = regexp.MustCompile(`(?m)^diff --git \S`)
	validHunkRegex  = regexp.MustCompile(`(?m)^@@ -\d+(?:,\d+)? \+\d+(?:,\d+)? @@`)
	ErrNoGitHeader  = errors.New("missing 'diff --git' header")
	ErrNoHunkHeader = errors.New("missing valid '@@ -a,b +c,d @@' hunk header")
	ErrNoFileHeader = errors.New("missing '---'/'+++' file header pair")
)

// ValidateOptions tunes Validate.
type ValidateOptions struct {
	// Strict additionally requires file headers and rejects unsafe paths.
	Strict bool
	// AllowedPrefixes restricts touched paths when non-empty.
	AllowedPrefixes []string
}

// PathError reports a diff path rejected by validation.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q %s", e.Path, e.Reason)
}

// HasGitHeader reports whether text holds at least one "diff --git" line.
func HasGitHeader(text string) bool {
	return gitHeaderRegex.MatchString(text)
}

// HasHunkHeader reports whether text holds at least one valid hunk header.
func HasHunkHeader(text string) bool {
	return validHunkRegex.MatchString(text)
}

// Validate checks that diff is a usable unified diff. The strict checks are a
// superset of the non-strict ones.
func Validate(diff string, opts ValidateOptions) error {
	if !HasGitHeader(diff) {
		return ErrNoGitHeader
	}
	if !HasHunkHeader(diff) {
		return ErrNoHunkHeader
	}

	paths := DiffPaths(diff)
	if opts.Strict {
		if !hasFileHeaderPair(diff) {
			return ErrNoFileHeader
		}
		for _, p := range paths {
			if !fs.IsSafePath(p) {
				return &PathError{Path: p, Reason: "escapes the repository"}
			}
		}
	}
	for _, p := range paths {
		if !fs.HasAllowedPrefix(p, opts.AllowedPrefixes) {
			return &PathError{Path: p, Reason: fmt.Sprintf("is outside allowed prefixes %v", opts.AllowedPrefixes)}
		}
	}
	return nil
}

// IsValidUnifiedDiff is Validate as a predicate.
func IsValidUnifiedDiff(diff string, opts ValidateOptions) bool {
	return Validate(diff, opts) == nil
}

func hasFileHeaderPair(diff string) bool {
	lines := strings.Split(diff, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if strings.HasPrefix(lines[i], "--- ") && strings.HasPrefix(lines[i+1], "+++ ") {
			return true
		}
	}
	return false
}

// DiffPaths lists every path named by git, old-file and new-file header lines,
// without a/ b/ prefixes and excluding /dev/null.
func DiffPaths(diff string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || p == devNull || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	lines := strings.Split(diff, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "diff --git "))
			if idx := strings.Index(rest, " b/"); idx >= 0 {
				add(trimSidePrefix(rest[:idx]))
				add(strings.TrimSpace(rest[idx+len(" b/"):]))
				continue
			}
			for _, f := range strings.Fields(rest) {
				add(trimSidePrefix(f))
			}
		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			// Only a ---/+++ pair is a file header; a lone "--- x" may be a
			// removed line inside a hunk.
			add(cleanHeaderPath(line[len("--- "):]))
			add(cleanHeaderPath(lines[i+1][len("+++ "):]))
			i++
		}
	}
	return paths
}

// CoversPaths reports whether rewritten still names every path of original.
// Repairs that silently drop a file, such as one with an unsafe path, fail it.
func CoversPaths(original, rewritten string) bool {
	kept := make(map[string]bool)
	for _, p := range DiffPaths(rewritten) {
		kept[p] = true
	}
	for _, p := range DiffPaths(original) {
		if !kept[p] {
			return false
		}
	}
	return true
}
