package askpatch

import (
	"errors"
	"fmt"

	"github.com/sokinpui/askpatch/internal/parser"
	"github.com/sokinpui/askpatch/internal/patcher"
	"github.com/sokinpui/askpatch/model"
)

// ErrNoDiff is returned when an answer holds no usable diff.
var ErrNoDiff = errors.New("no usable diff")

// Extract scans an assistant answer in markdown for diff candidates and
// selects the best one.
func Extract(markdown string) model.Extraction {
	return parser.Extract(markdown)
}

// FixDiff extracts the selected diff from markdown and, when repoRoot is set,
// rewrites its hunk line numbers against the files there.
func FixDiff(markdown, repoRoot string) (string, error) {
	ex := parser.Extract(markdown)
	if ex.Selected == nil {
		return "", fmt.Errorf("%w: %s", ErrNoDiff, ex.Reason)
	}
	diff := ex.Selected.Body
	if repoRoot == "" {
		return diff, nil
	}
	return patcher.Relocate(diff, repoRoot)
}

// ParseDiff parses diff text leniently into files and hunks.
func ParseDiff(text string) model.UnifiedDiff {
	return model.UnifiedDiff{Files: patcher.ParseLenient(text)}
}
