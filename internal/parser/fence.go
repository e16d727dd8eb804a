package parser

import "strings"

// fenceState tracks whether a line scan is inside a code fence.
type fenceState struct {
	inFence   bool
	fenceChar byte
	fenceLen  int
	openLine  int
}

// processLine updates the state for one trimmed line and reports whether the
// line is a fence delimiter or fenced content.
func (f *fenceState) processLine(trimmed string, lineNo int) bool {
	if len(trimmed) < 3 {
		return f.inFence
	}

	if !f.inFence {
		if trimmed[0] != '`' && trimmed[0] != '~' {
			return false
		}
		char := trimmed[0]
		n := countLeadingChars(trimmed, char)
		if n < 3 {
			return false
		}
		// A backtick fence's info string may not contain backticks.
		if char == '`' && strings.IndexByte(trimmed[n:], '`') >= 0 {
			return false
		}
		f.inFence = true
		f.fenceChar = char
		f.fenceLen = n
		f.openLine = lineNo
		return true
	}

	if trimmed[0] == f.fenceChar {
		n := countLeadingChars(trimmed, f.fenceChar)
		if n >= f.fenceLen && n == len(trimmed) {
			f.inFence = false
			f.fenceChar = 0
			f.fenceLen = 0
			return true
		}
	}
	return true
}

func countLeadingChars(s string, char byte) int {
	n := 0
	for n < len(s) && s[n] == char {
		n++
	}
	return n
}

// danglingFence reports whether text ends inside an opened, never closed
// fence, and the 1-based line that opened it.
func danglingFence(text string) (bool, int) {
	var fence fenceState
	for i, line := range strings.Split(text, "\n") {
		fence.processLine(strings.TrimSpace(line), i+1)
	}
	return fence.inFence, fence.openLine
}
