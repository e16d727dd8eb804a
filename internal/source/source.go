package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"

	"github.com/sokinpui/askpatch/internal/ui"
)

// Provider reads input text for commands that take it from outside: a named
// file, piped stdin, or the clipboard, in that order.
type Provider struct {
	stdin     io.Reader
	piped     bool
	clipboard func() (string, error)
}

// New creates a Provider over the process's stdin and the system clipboard.
func New() *Provider {
	fd := os.Stdin.Fd()
	return &Provider{
		stdin:     os.Stdin,
		piped:     !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
		clipboard: clipboard.ReadAll,
	}
}

// Content returns the text of path when set ("-" is stdin), else piped stdin,
// else the clipboard. An empty clipboard yields "" and no error.
func (p *Provider) Content(path string) (string, error) {
	switch {
	case path == "-":
		return p.readStdin()
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	case p.piped:
		return p.readStdin()
	}

	ui.Header("--- Reading from clipboard ---")
	content, err := p.clipboard()
	if err != nil {
		return "", fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		ui.Warning("Clipboard is empty. Nothing to process.")
		return "", nil
	}
	return content, nil
}

func (p *Provider) readStdin() (string, error) {
	ui.Header("--- Reading from stdin ---")
	content, err := io.ReadAll(p.stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return string(content), nil
}
