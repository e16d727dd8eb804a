package patcher

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sokinpui/askpatch/internal/fs"
	"github.com/sokinpui/askpatch/internal/ui"
)

// getTargetBlock creates a "search pattern" from a diff hunk.
// It uses only lines that are guaranteed to be in the original source file
// (context ` ` and removed `-` lines). It also ignores empty lines to make
// matching more robust against whitespace-only changes.
func getTargetBlock(lines []string) []string {
	var block []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, " ") {
			continue
		}
		content := line[1:]
		if strings.TrimSpace(content) != "" {
			block = append(block, content)
		}
	}
	return block
}

// normalizeLineForMatching trims whitespace and collapses internal runs to a
// single space.
func normalizeLineForMatching(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// matchBlock finds where block occurs in source, ignoring blank lines and
// whitespace differences. Among several matches the one closest to hint wins.
// It returns the 1-based original line number, or -1.
func matchBlock(source, block []string, hint int) int {
	if len(block) == 0 {
		return -1
	}

	normalizedBlock := make([]string, len(block))
	for i, line := range block {
		normalizedBlock[i] = normalizeLineForMatching(line)
	}

	var filteredSource []string
	var originalLineNumbers []int
	for i, line := range source {
		normalizedLine := normalizeLineForMatching(line)
		if normalizedLine != "" {
			filteredSource = append(filteredSource, normalizedLine)
			originalLineNumbers = append(originalLineNumbers, i+1)
		}
	}

	best := -1
	for i := 0; i <= len(filteredSource)-len(normalizedBlock); i++ {
		match := true
		for j := 0; j < len(normalizedBlock); j++ {
			if filteredSource[i+j] != normalizedBlock[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		line := originalLineNumbers[i]
		if best == -1 || abs(line-hint) < abs(best-hint) {
			best = line
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Relocate rewrites hunk start lines of diff against the files under
// repoRoot, so that a model-written diff with guessed line numbers applies
// cleanly. Only "@@" lines change; every other line is kept verbatim. New and
// deleted files, missing files, unsafe paths and hunks whose context cannot
// be found keep their original headers.
func Relocate(diff, repoRoot string) (string, error) {
	lines := strings.Split(diff, "\n")
	resolver := fs.NewPathResolver([]string{repoRoot})

	var (
		source []string
		path   string
		offset int
		hunkNo int
	)
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			source, path, offset, hunkNo = nil, oldPathFromGitHeader(line), 0, 0
			if path == "" || !fs.IsSafePath(path) {
				continue
			}
			src, err := readSource(resolver, path)
			if err != nil {
				return "", err
			}
			source = src
		case strings.HasPrefix(line, "new file mode") || strings.HasPrefix(line, "deleted file mode"):
			source = nil
		case isFileHeaderPair(lines, i):
			oldPath := cleanHeaderPath(line[len("--- "):])
			newPath := cleanHeaderPath(lines[i+1][len("+++ "):])
			i++
			source, path, offset, hunkNo = nil, oldPath, 0, 0
			if oldPath == devNull || newPath == devNull || !fs.IsSafePath(oldPath) {
				continue
			}
			src, err := readSource(resolver, oldPath)
			if err != nil {
				return "", err
			}
			source = src
		case strings.HasPrefix(line, "@@"):
			end := hunkEnd(lines, i+1)
			body := trimTrailingBlank(lines[i+1 : end])
			hunkNo++
			oldLines, newLines := countLines(body)
			if source != nil {
				if header, ok := relocateHunk(line, body, source, offset); ok {
					lines[i] = header
				} else {
					ui.Warning("  -> Could not locate hunk %d of %s; keeping its header", hunkNo, path)
				}
			}
			offset += newLines - oldLines
			i = end - 1
		}
	}
	return strings.Join(lines, "\n"), nil
}

// relocateHunk computes the header of one hunk from where its context sits
// in source. offset is the new-minus-old shift of earlier hunks in the file.
func relocateHunk(header string, body, source []string, offset int) (string, bool) {
	hint, section := headerStartAndSection(header)
	oldStart := matchBlock(source, getTargetBlock(body), hint)
	if oldStart == -1 {
		return "", false
	}
	// The target block skips leading blank context lines; step back over
	// them so the hunk starts where its body starts.
	oldStart -= leadingBlankContext(body)
	if oldStart < 1 {
		oldStart = 1
	}
	oldLines, newLines := countLines(body)
	return buildHunkHeader(oldStart, oldLines, oldStart+offset, newLines, section), true
}

func readSource(resolver *fs.PathResolver, path string) ([]string, error) {
	sourcePath := resolver.ResolveExisting(path)
	if sourcePath == "" {
		return nil, nil
	}
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.Split(string(content), "\n"), nil
}

// oldPathFromGitHeader returns the a/ side of a "diff --git" line.
func oldPathFromGitHeader(line string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "diff --git "))
	if idx := strings.Index(rest, " b/"); idx >= 0 {
		return trimSidePrefix(strings.TrimSpace(rest[:idx]))
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return trimSidePrefix(fields[0])
}

func isFileHeaderPair(lines []string, i int) bool {
	return strings.HasPrefix(lines[i], "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

// hunkEnd returns the index just past the hunk body starting at from.
func hunkEnd(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "@@") || strings.HasPrefix(lines[i], "diff --git ") || isFileHeaderPair(lines, i) {
			return i
		}
	}
	return len(lines)
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return lines[:end]
}

// leadingBlankContext counts blank context/removed lines before the first
// line that contributes to the target block.
func leadingBlankContext(lines []string) int {
	n := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "+") {
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "-")) && strings.TrimSpace(line[1:]) == "" {
			n++
			continue
		}
		break
	}
	return n
}

func headerStartAndSection(header string) (int, string) {
	m := hunkHeaderRegex.FindStringSubmatch(header)
	if m == nil {
		return 1, ""
	}
	start, _ := strconv.Atoi(m[1])
	return start, strings.TrimSpace(m[5])
}
