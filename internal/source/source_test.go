package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sokinpui/askpatch/internal/ui"
)

func TestMain(m *testing.M) {
	ui.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func fake(stdin string, piped bool, clip string, clipErr error) *Provider {
	return &Provider{
		stdin:     strings.NewReader(stdin),
		piped:     piped,
		clipboard: func() (string, error) { return clip, clipErr },
	}
}

func TestContentOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.md")
	if err := os.WriteFile(path, []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		p    *Provider
		path string
		want string
	}{
		{"file wins", fake("in", true, "clip", nil), path, "from file"},
		{"dash reads stdin", fake("in", false, "clip", nil), "-", "in"},
		{"piped stdin", fake("in", true, "clip", nil), "", "in"},
		{"clipboard", fake("in", false, "clip", nil), "", "clip"},
		{"empty clipboard", fake("", false, "  \n", nil), "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.p.Content(tc.path)
			if err != nil {
				t.Fatalf("Content: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestContentErrors(t *testing.T) {
	if _, err := fake("", false, "", nil).Content(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected a read error for a missing file")
	}
	boom := errors.New("no clipboard")
	if _, err := fake("", false, "", boom).Content(""); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped clipboard error", err)
	}
}
