package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/sokinpui/askpatch/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PathColor    = color.New(color.FgYellow)
	FaintColor   = color.New(color.Faint)
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects all printers. It returns the previous writer so callers
// can restore it.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	if w == nil {
		w = io.Discard
	}
	out = w
	return prev
}

func emit(c *color.Color, format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	c.Fprintf(out, format+"\n", a...)
}

func Header(format string, a ...interface{}) {
	emit(HeaderColor, format, a...)
}

func Info(format string, a ...interface{}) {
	emit(InfoColor, format, a...)
}

func Success(format string, a ...interface{}) {
	emit(SuccessColor, format, a...)
}

func Warning(format string, a ...interface{}) {
	emit(WarningColor, format, a...)
}

func Error(format string, a ...interface{}) {
	emit(ErrorColor, format, a...)
}

func Path(format string, a ...interface{}) {
	emit(PathColor, "  "+format, a...)
}

func Faint(format string, a ...interface{}) {
	emit(FaintColor, format, a...)
}

// --- Summaries ---

// PrintResult renders a finished session for the terminal.
func PrintResult(res *model.Result) {
	Header("\n--- Session %s ---", res.SessionID)

	switch res.Status {
	case model.StatusSuccess:
		Success("Status: %s", res.Status)
	case model.StatusPartial, model.StatusDiffMissing, model.StatusInvalidDiff:
		Warning("Status: %s", res.Status)
	default:
		Error("Status: %s", res.Status)
	}

	Info("Retries: %d, elapsed: %dms, apply mode: %s", res.RetryCount, res.ElapsedMs, res.ApplyMode)
	if res.DiffPath != "" {
		Path("patch: %s (%d bytes)", res.DiffPath, res.PatchBytes)
	}
	if res.CommitSHA != "" {
		Path("commit: %s", res.CommitSHA)
	}
	if res.SecretScan.Found {
		Warning("Secret scan: %d match(es), %s", res.SecretScan.Count, res.SecretScan.Applied)
	}
	if res.Stderr != "" {
		Error("%s", res.Stderr)
	}
	if res.Error != "" {
		Error("Error: %s", res.Error)
	}
}

// PrintHistory lists ledger entries, newest first.
func PrintHistory(results []*model.Result) {
	Header("--- History ---")
	if len(results) == 0 {
		Info("No sessions recorded.")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, r := range results {
		line := fmt.Sprintf("  %s  %-16s retries=%d  %s",
			r.SessionID, r.Status, r.RetryCount, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if r.Error != "" {
			line += "  " + model.Truncate(r.Error, 60)
		}
		fmt.Fprintln(out, line)
	}
}
