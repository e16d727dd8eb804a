package markup

import (
	"strings"
	"testing"
)

func TestToMarkdownRestoresFences(t *testing.T) {
	in := `<div class="markdown"><p>Here is the fix:</p>` +
		`<pre><div class="toolbar"><span>diff</span><button>Copy code</button></div>` +
		`<code class="hljs language-diff">diff --git a/f b/f
--- a/f
+++ b/f
@@ -1,1 +1,1 @@
-old
+new
</code></pre><p>Done.</p></div>`

	got, err := ToMarkdown(in)
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	want := "```diff\ndiff --git a/f b/f\n--- a/f\n+++ b/f\n@@ -1,1 +1,1 @@\n-old\n+new\n```"
	if !strings.Contains(got, want) {
		t.Fatalf("fence not restored:\n%s", got)
	}
	if strings.Contains(got, "Copy code") {
		t.Fatalf("toolbar text leaked into output:\n%s", got)
	}
	if !strings.HasPrefix(got, "Here is the fix:") {
		t.Fatalf("expected prose first, got:\n%s", got)
	}
}

func TestToMarkdownKeepsBlankContextLinesInsideFence(t *testing.T) {
	in := "<pre><code>a\n\n\nb</code></pre>"
	got, err := ToMarkdown(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "a\n\n\nb\n```") {
		t.Fatalf("blank lines collapsed inside fence:\n%q", got)
	}
}

func TestHasCodeBlocks(t *testing.T) {
	if !HasCodeBlocks("<PRE>x</PRE>") {
		t.Fatal("expected code block")
	}
	if HasCodeBlocks("<p>text</p>") {
		t.Fatal("expected no code block")
	}
}
