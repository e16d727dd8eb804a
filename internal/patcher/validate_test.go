package patcher

import (
	"errors"
	"testing"
)

const scenarioDiff = "diff --git a/f b/f\n--- a/f\n+++ b/f\n@@ -1,1 +1,1 @@\n-old\n+new\n"

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		diff     string
		opts     ValidateOptions
		wantErr  error
		wantPath bool
	}{
		{name: "valid", diff: scenarioDiff},
		{name: "valid strict", diff: scenarioDiff, opts: ValidateOptions{Strict: true}},
		{name: "no git header", diff: "--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n", wantErr: ErrNoGitHeader},
		{name: "no hunk header", diff: "diff --git a/f b/f\n--- a/f\n+++ b/f\n@@ broken @@\n-a\n+b\n", wantErr: ErrNoHunkHeader},
		{name: "no file header lenient", diff: "diff --git a/f b/f\n@@ -1 +1 @@\n-a\n+b\n"},
		{name: "no file header strict", diff: "diff --git a/f b/f\n@@ -1 +1 @@\n-a\n+b\n", opts: ValidateOptions{Strict: true}, wantErr: ErrNoFileHeader},
		{
			name: "traversal lenient",
			diff: "diff --git a/../x b/../x\n--- a/../x\n+++ b/../x\n@@ -1 +1 @@\n-a\n+b\n",
		},
		{
			name:     "traversal strict",
			diff:     "diff --git a/../x b/../x\n--- a/../x\n+++ b/../x\n@@ -1 +1 @@\n-a\n+b\n",
			opts:     ValidateOptions{Strict: true},
			wantPath: true,
		},
		{
			name:     "drive letter strict",
			diff:     "diff --git a/C:/x b/C:/x\n--- a/C:/x\n+++ b/C:/x\n@@ -1 +1 @@\n-a\n+b\n",
			opts:     ValidateOptions{Strict: true},
			wantPath: true,
		},
		{
			name:     "outside allowed prefix",
			diff:     "diff --git a/docs/x b/docs/x\n--- a/docs/x\n+++ b/docs/x\n@@ -1 +1 @@\n-a\n+b\n",
			opts:     ValidateOptions{AllowedPrefixes: []string{"src/"}},
			wantPath: true,
		},
		{
			name: "inside allowed prefix",
			diff: "diff --git a/src/x b/src/x\n--- a/src/x\n+++ b/src/x\n@@ -1 +1 @@\n-a\n+b\n",
			opts: ValidateOptions{AllowedPrefixes: []string{"src/"}, Strict: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.diff, tc.opts)
			switch {
			case tc.wantPath:
				var pathErr *PathError
				if !errors.As(err, &pathErr) {
					t.Fatalf("expected PathError, got %v", err)
				}
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestStrictImpliesLenient(t *testing.T) {
	corpus := []string{
		scenarioDiff,
		"diff --git a/f b/f\n@@ -1 +1 @@\n-a\n+b\n",
		"diff --git a/../x b/../x\n--- a/../x\n+++ b/../x\n@@ -1 +1 @@\n-a\n+b\n",
		"--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n",
		"plain prose",
		"",
		"diff --git a/new b/new\nnew file mode 100644\n--- /dev/null\n+++ b/new\n@@ -0,0 +1 @@\n+x\n",
	}
	for _, prefixes := range [][]string{nil, {"src/"}} {
		for _, d := range corpus {
			strict := IsValidUnifiedDiff(d, ValidateOptions{Strict: true, AllowedPrefixes: prefixes})
			lenient := IsValidUnifiedDiff(d, ValidateOptions{AllowedPrefixes: prefixes})
			if strict && !lenient {
				t.Errorf("strict accepted but lenient rejected:\n%s", d)
			}
		}
	}
}

func TestDiffPathsIgnoresRemovedLinesInsideHunks(t *testing.T) {
	diff := "diff --git a/f b/f\n--- a/f\n+++ b/f\n@@ -1,2 +1,1 @@\n--- not a header\n keep\n"
	paths := DiffPaths(diff)
	if len(paths) != 1 || paths[0] != "f" {
		t.Fatalf("paths = %q, want [f]", paths)
	}
}

func TestNormalizeRepairsHeaderlessDiff(t *testing.T) {
	out, ok := Normalize("--- a/f\n+++ b/f\n@@ -1 +1 @@\n-old\n+new\n")
	if !ok {
		t.Fatalf("expected repaired diff to validate, got:\n%s", out)
	}
	if !HasGitHeader(out) {
		t.Fatalf("expected git header in:\n%s", out)
	}
}

func TestCoversPathsRejectsDroppedUnsafeFile(t *testing.T) {
	original := "--- a/f\n+++ b/f\n@@ -1 +1 @@\n-old\n+new\n" +
		"--- a/../../etc/passwd\n+++ b/../../etc/passwd\n@@ -1 +1 @@\n-root\n+owned\n"
	repaired, ok := Normalize(original)
	if !ok {
		t.Fatalf("expected the safe file to survive normalization")
	}
	if CoversPaths(original, repaired) {
		t.Fatalf("repair dropped ../../etc/passwd but CoversPaths accepted it:\n%s", repaired)
	}
	if !CoversPaths("--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n", repaired) {
		t.Fatal("expected repair of a single safe file to cover its path")
	}
}
