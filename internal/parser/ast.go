package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced code block found in markdown.
type CodeBlock struct {
	// Lang is the first word of the info string, e.g. "diff".
	Lang string
	// Content is the raw text between the fences.
	Content string
	// Line is the 1-based line of the opening fence.
	Line int
}

// ExtractCodeBlocks uses a markdown AST to find all fenced code blocks in
// document order. An unterminated fence runs to the end of the document, as
// CommonMark specifies.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	var blocks []CodeBlock
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		fenced, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var block CodeBlock
		if fenced.Info != nil {
			if fields := strings.Fields(string(fenced.Info.Text(source))); len(fields) > 0 {
				block.Lang = strings.ToLower(fields[0])
			}
		}

		var content bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			content.Write(line.Value(source))
		}
		block.Content = content.String()
		switch {
		case lines.Len() > 0:
			block.Line = bytes.Count(source[:lines.At(0).Start], []byte("\n"))
		case fenced.Info != nil:
			block.Line = bytes.Count(source[:fenced.Info.Segment.Start], []byte("\n")) + 1
		}

		blocks = append(blocks, block)
		return ast.WalkSkipChildren, nil
	}

	if err := ast.Walk(root, walker); err != nil {
		return nil, err
	}
	return blocks, nil
}
