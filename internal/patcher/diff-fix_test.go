package patcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMatchBlockPrefersMatchClosestToHint(t *testing.T) {
	source := []string{"x", "a", "b", "y", "z", "w", "v", "a", "b"}
	block := []string{"a", "b"}

	if got := matchBlock(source, block, 1); got != 2 {
		t.Fatalf("hint 1: got %d, want 2", got)
	}
	if got := matchBlock(source, block, 7); got != 8 {
		t.Fatalf("hint 7: got %d, want 8", got)
	}
	if got := matchBlock(source, []string{"missing"}, 1); got != -1 {
		t.Fatalf("missing block: got %d, want -1", got)
	}
}

func TestMatchBlockIgnoresWhitespace(t *testing.T) {
	source := []string{"func main() {", "", "\tx  :=  1", "}"}
	block := []string{"x := 1", "}"}
	if got := matchBlock(source, block, 1); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestRelocateRewritesStartLines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\nfour\nfive\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff := "--- a/a.txt\n+++ b/a.txt\n@@ -1,2 +1,2 @@\n four\n-five\n+FIVE\n"
	got, err := Relocate(diff, dir)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if !strings.Contains(got, "@@ -4,2 +4,2 @@\n four\n-five\n+FIVE\n") {
		t.Fatalf("unexpected relocation:\n%s", got)
	}
}

func TestRelocateKeepsUnmatchedAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha\nbeta\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff := "diff --git a/a.txt b/a.txt\n--- a/a.txt\n+++ b/a.txt\n@@ -7,1 +7,1 @@\n-gamma\n+delta\n" +
		"\n" +
		"diff --git a/b.txt b/b.txt\nnew file mode 100644\n--- /dev/null\n+++ b/b.txt\n@@ -0,0 +1,1 @@\n+hello\n"
	got, err := Relocate(diff, dir)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if got != diff {
		t.Fatalf("expected diff unchanged, got:\n%s", got)
	}
}

func TestRelocateKeepsRenameHeaders(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.txt"), []byte("one\ntwo\nthree\nfour\nfive\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff := "diff --git a/old.txt b/new.txt\nsimilarity index 80%\nrename from old.txt\nrename to new.txt\n" +
		"index 1111111..2222222 100644\n--- a/old.txt\n+++ b/new.txt\n@@ -1,2 +1,2 @@\n four\n-five\n+FIVE\n"
	got, err := Relocate(diff, dir)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	want := strings.Replace(diff, "@@ -1,2 +1,2 @@", "@@ -4,2 +4,2 @@", 1)
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestRelocateLeavesDeletionUntouched(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gone.txt"), []byte("a\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff := "diff --git a/gone.txt b/gone.txt\ndeleted file mode 100644\nindex 3333333..0000000\n" +
		"--- a/gone.txt\n+++ /dev/null\n@@ -1,2 +0,0 @@\n-a\n-b\n"
	got, err := Relocate(diff, dir)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if got != diff {
		t.Fatalf("deletion was rewritten:\n%s", got)
	}
}

func TestRelocateUsesGitHeaderWithoutFilePair(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x\ny\nz\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff := "diff --git a/a.txt b/a.txt\n@@ -9,1 +9,1 @@\n-z\n+Z\n"
	got, err := Relocate(diff, dir)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if !strings.Contains(got, "@@ -3,1 +3,1 @@\n-z\n+Z\n") {
		t.Fatalf("unexpected relocation:\n%s", got)
	}
}
