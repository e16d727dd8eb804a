// Package markup turns the rendered HTML of an assistant turn back into
// markdown close enough for fenced-block extraction.
package markup

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HasCodeBlocks reports whether markup carries preformatted code.
func HasCodeBlocks(markup string) bool {
	return strings.Contains(strings.ToLower(markup), "<pre")
}

// ToMarkdown converts rendered markup to markdown. <pre> blocks become
// fenced code blocks tagged with the language from a "language-x" class;
// block elements become line breaks; other elements contribute their text.
func ToMarkdown(markup string) (string, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parsing markup: %w", err)
	}
	var b strings.Builder
	walk(&b, root)
	return tidy(b.String()), nil
}

func walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Pre:
			writeFence(b, n)
			return
		case atom.Script, atom.Style, atom.Button, atom.Svg:
			// Copy buttons and icons are not part of the answer.
			return
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Code:
			b.WriteString("`")
			walkChildren(b, n)
			b.WriteString("`")
			return
		case atom.Li:
			b.WriteString("\n- ")
			walkChildren(b, n)
			return
		}
		if isBlock(n.DataAtom) {
			b.WriteString("\n")
			walkChildren(b, n)
			b.WriteString("\n")
			return
		}
	}
	walkChildren(b, n)
}

func walkChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(b, c)
	}
}

func writeFence(b *strings.Builder, pre *html.Node) {
	lang := ""
	if code := findFirst(pre, atom.Code); code != nil {
		lang = languageOf(code)
	}
	if lang == "" {
		lang = languageOf(pre)
	}

	body := textContent(pre)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	b.WriteString("\n```" + lang + "\n")
	b.WriteString(body)
	b.WriteString("```\n")
}

func languageOf(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, class := range strings.Fields(a.Val) {
			if lang, ok := strings.CutPrefix(class, "language-"); ok {
				return lang
			}
			if lang, ok := strings.CutPrefix(class, "lang-"); ok {
				return lang
			}
		}
	}
	return ""
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// textContent concatenates the text under n, skipping toolbar elements
// that some chat UIs render inside <pre>.
func textContent(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Button, atom.Svg, atom.Script, atom.Style:
				return
			case atom.Br:
				b.WriteString("\n")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	if code := findFirst(n, atom.Code); code != nil {
		rec(code)
	} else {
		rec(n)
	}
	return b.String()
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// tidy collapses runs of blank lines outside fences and trims the result.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	blank := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
		}
		if !inFence && strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		if !inFence {
			line = strings.TrimRight(line, " \t")
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}
