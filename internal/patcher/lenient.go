package patcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sokinpui/askpatch/internal/fs"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

var (
	// hunkHeaderRegex matches a unified hunk header; counts may be omitted.
	hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

	// noiseRegex matches lines that are loading indicators or copy/edit
	// affordances captured from a rendered chat page.
	noiseRegex = regexp.MustCompile(`^\s*(?:[\x{2800}-\x{28FF}\x{25D0}-\x{25D3}\x{25F4}-\x{25F7}\x{2022}\x{00B7}]+|\.{3}|\x{2026}|(?i:thinking|loading|generating|searching|analyzing|working)(?:\.{3}|\x{2026})?|(?i:copy code|copy|copied!?|regenerate|stop generating))\s*$`)
)

const (
	beginPatchMarker = "*** Begin Patch"
	endPatchMarker   = "*** End Patch"
	updateFileMarker = "*** Update File:"
	addFileMarker    = "*** Add File:"
	deleteFileMarker = "*** Delete File:"
	patchSigil       = "***"
	devNull          = "/dev/null"
)

type lenientParser struct {
	files      []model.FileDiff
	cur        int
	hunk       *model.Hunk
	hasHeader  bool // current file already consumed its ---/+++ pair
	discarding bool // current file had an unsafe path
	delta      int  // new-minus-old line offset accumulated in the current file
}

// ParseLenient rebuilds file diffs from diff-like text that may be missing
// headers, carry prose, or have lost the leading space of context lines.
// Files with unsafe paths are dropped with a warning; files without hunks are
// dropped silently.
func ParseLenient(text string) []model.FileDiff {
	p := &lenientParser{cur: -1}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}

		switch {
		case strings.HasPrefix(line, "diff --git "):
			p.startFile(pathFromGitHeader(line), false)
		case strings.HasPrefix(line, updateFileMarker):
			p.startFile(strings.TrimSpace(strings.TrimPrefix(line, updateFileMarker)), false)
		case strings.HasPrefix(line, addFileMarker):
			p.startFile(strings.TrimSpace(strings.TrimPrefix(line, addFileMarker)), true)
			if p.cur >= 0 {
				// Added files carry bare '+' lines with no hunk header.
				p.hunk = &model.Hunk{}
			}
		case strings.HasPrefix(line, deleteFileMarker):
			p.closeHunk()
			ui.Warning("Ignoring file deletion in patch: %s", strings.TrimSpace(strings.TrimPrefix(line, deleteFileMarker)))
			p.cur = -1
			p.discarding = true
		case strings.HasPrefix(line, patchSigil):
			p.closeHunk()
		case strings.HasPrefix(line, "--- ") && (p.hunk == nil || strings.HasPrefix(next, "+++ ")):
			if p.fileHeader(line, next) {
				i++
			}
		case strings.HasPrefix(line, "+++ ") && p.hunk == nil:
			p.strayNewHeader(line)
		case strings.HasPrefix(line, "@@"):
			p.startHunk(line)
		case p.hunk != nil:
			p.hunkLine(line)
		}
	}
	p.closeHunk()

	result := make([]model.FileDiff, 0, len(p.files))
	for _, f := range p.files {
		if len(f.Hunks) > 0 {
			result = append(result, f)
		}
	}
	return result
}

func (p *lenientParser) startFile(path string, isNew bool) {
	p.closeHunk()
	p.hasHeader = false
	p.delta = 0
	if !fs.IsSafePath(path) {
		ui.Warning("Skipping diff for unsafe path %q", path)
		p.cur = -1
		p.discarding = true
		return
	}
	p.discarding = false
	p.files = append(p.files, model.FileDiff{Path: path, New: isNew})
	p.cur = len(p.files) - 1
}

// fileHeader handles a "--- X" line. It reports whether the following
// "+++ Y" line was consumed too.
func (p *lenientParser) fileHeader(line, next string) bool {
	oldPath := cleanHeaderPath(line[len("--- "):])
	newPath := ""
	consumed := false
	if strings.HasPrefix(next, "+++ ") {
		newPath = cleanHeaderPath(next[len("+++ "):])
		consumed = true
	}

	// The header pair right after "diff --git" belongs to that file.
	if p.cur >= 0 && !p.hasHeader && p.hunk == nil && len(p.files[p.cur].Hunks) == 0 {
		p.hasHeader = true
		if oldPath == devNull {
			p.files[p.cur].New = true
		}
		return consumed
	}
	if p.discarding && p.hunk == nil && !p.hasHeader {
		p.hasHeader = true
		return consumed
	}

	path := newPath
	if path == "" || path == devNull {
		path = oldPath
	}
	p.startFile(path, oldPath == devNull)
	p.hasHeader = true
	return consumed
}

func (p *lenientParser) strayNewHeader(line string) {
	if p.cur >= 0 && len(p.files[p.cur].Hunks) == 0 {
		p.hasHeader = true
		return
	}
	path := cleanHeaderPath(line[len("+++ "):])
	if path == devNull {
		return
	}
	p.startFile(path, false)
	p.hasHeader = true
}

func (p *lenientParser) startHunk(line string) {
	p.closeHunk()
	if p.discarding {
		return
	}
	if p.cur < 0 {
		if len(p.files) == 0 {
			return
		}
		p.cur = len(p.files) - 1
	}
	p.hunk = &model.Hunk{Header: strings.TrimSpace(line)}
}

func (p *lenientParser) hunkLine(line string) {
	switch {
	case line == "":
		p.hunk.Lines = append(p.hunk.Lines, "")
	case line[0] == '+' || line[0] == '-' || line[0] == ' ':
		p.hunk.Lines = append(p.hunk.Lines, line)
	case strings.HasPrefix(line, `\ `):
		p.hunk.Lines = append(p.hunk.Lines, line)
	case noiseRegex.MatchString(line):
		// Spinner and copy-button residue; the hunk stays open.
	default:
		p.hunk.Lines = append(p.hunk.Lines, " "+line)
	}
}

func (p *lenientParser) closeHunk() {
	h := p.hunk
	p.hunk = nil
	if h == nil || p.cur < 0 {
		return
	}

	end := len(h.Lines)
	for end > 0 && h.Lines[end-1] == "" {
		end--
	}
	lines := make([]string, 0, end)
	for _, l := range h.Lines[:end] {
		if l == "" {
			l = " "
		}
		lines = append(lines, l)
	}
	if !hasBodyLines(lines) {
		return
	}
	h.Lines = lines

	oldLines, newLines := countLines(lines)
	h.Header = fixHunkHeader(h.Header, oldLines, newLines, p.delta, p.files[p.cur].New)
	p.delta += newLines - oldLines
	p.files[p.cur].Hunks = append(p.files[p.cur].Hunks, *h)
}

func hasBodyLines(lines []string) bool {
	for _, l := range lines {
		if !strings.HasPrefix(l, `\`) {
			return true
		}
	}
	return false
}

// countLines returns the old-side and new-side line counts of a hunk body.
func countLines(lines []string) (oldLines, newLines int) {
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "+"):
			newLines++
		case strings.HasPrefix(l, "-"):
			oldLines++
		case strings.HasPrefix(l, `\`):
		default:
			oldLines++
			newLines++
		}
	}
	return oldLines, newLines
}

// fixHunkHeader keeps a header whose counts already match its body and
// otherwise rebuilds it, preserving any start lines and section text.
func fixHunkHeader(header string, oldLines, newLines, delta int, isNew bool) string {
	if m := hunkHeaderRegex.FindStringSubmatch(header); m != nil {
		if countOrOne(m[2]) == oldLines && countOrOne(m[4]) == newLines {
			return header
		}
		oldStart, _ := strconv.Atoi(m[1])
		newStart, _ := strconv.Atoi(m[3])
		return buildHunkHeader(oldStart, oldLines, newStart, newLines, strings.TrimSpace(m[5]))
	}

	section := strings.TrimSpace(strings.TrimPrefix(header, "@@"))
	section = strings.TrimSpace(strings.TrimSuffix(section, "@@"))

	oldStart := 1
	if isNew || oldLines == 0 {
		oldStart = 0
	}
	newStart := oldStart + delta
	if newLines == 0 {
		newStart = 0
	} else if newStart < 1 {
		newStart = 1
	}
	return buildHunkHeader(oldStart, oldLines, newStart, newLines, section)
}

func countOrOne(s string) int {
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func buildHunkHeader(oldStart, oldLines, newStart, newLines int, section string) string {
	header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", oldStart, oldLines, newStart, newLines)
	if section != "" {
		header += " " + section
	}
	return header
}

func pathFromGitHeader(line string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "diff --git "))
	if idx := strings.Index(rest, " b/"); idx >= 0 {
		return strings.TrimSpace(rest[idx+len(" b/"):])
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return trimSidePrefix(fields[len(fields)-1])
}

func cleanHeaderPath(s string) string {
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == devNull {
		return s
	}
	return trimSidePrefix(s)
}

func trimSidePrefix(s string) string {
	if strings.HasPrefix(s, "a/") || strings.HasPrefix(s, "b/") {
		return s[2:]
	}
	return s
}

// Reconstruct serializes file diffs as a git-style unified diff, one blank
// line between files.
func Reconstruct(files []model.FileDiff) string {
	var b strings.Builder
	for _, f := range files {
		if len(f.Hunks) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", f.Path, f.Path)
		if f.New {
			b.WriteString("new file mode 100644\n")
			b.WriteString("--- " + devNull + "\n")
		} else {
			fmt.Fprintf(&b, "--- a/%s\n", f.Path)
		}
		fmt.Fprintf(&b, "+++ b/%s\n", f.Path)
		for _, h := range f.Hunks {
			b.WriteString(h.Header)
			b.WriteString("\n")
			for _, l := range h.Lines {
				b.WriteString(l)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// Normalize runs text through the lenient parser and reports whether the
// reconstruction is a valid (non-strict) unified diff.
func Normalize(text string) (string, bool) {
	files := ParseLenient(text)
	if len(files) == 0 {
		return "", false
	}
	out := Reconstruct(files)
	return out, IsValidUnifiedDiff(out, ValidateOptions{})
}

// FindBeginPatch returns the first "*** Begin Patch" envelope in text. A
// missing "*** End Patch" runs the envelope to the end of the text.
func FindBeginPatch(text string) (string, bool) {
	start := strings.Index(text, beginPatchMarker)
	if start < 0 {
		return "", false
	}
	body := text[start:]
	if end := strings.Index(body, endPatchMarker); end >= 0 {
		body = body[:end+len(endPatchMarker)]
	}
	if !strings.Contains(body, updateFileMarker) && !strings.Contains(body, addFileMarker) {
		return "", false
	}
	return body, true
}

// NormalizeBeginPatch converts a Begin-Patch envelope into a unified diff.
func NormalizeBeginPatch(text string) (string, bool) {
	body, ok := FindBeginPatch(text)
	if !ok {
		return "", false
	}
	return Normalize(body)
}
