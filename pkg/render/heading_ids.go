package render

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/Sriram-PR/doc-site/pkg/toc"
)

// headingIDTransformer assigns every heading element the same id the TOC
// extractor derives for its source line.
type headingIDTransformer struct{}

// Transform implements parser.ASTTransformer.
func (t *headingIDTransformer) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	source := reader.Source()

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if id := headingID(heading, source); id != "" {
			heading.SetAttributeString("id", []byte(id))
		}
		return ast.WalkSkipChildren, nil
	})
}

// headingID resolves the id for one heading. ATX headings that the line-based
// extractor recognises reuse its result exactly. Anything else (setext headings,
// headings inside block quotes or list items, indented markers) falls back to
// the anchor of the heading's own text.
func headingID(heading *ast.Heading, source []byte) string {
	lines := heading.Lines()
	if lines.Len() == 0 {
		return ""
	}

	first := lines.At(0)
	if h, ok := toc.ParseHeadingLine(sourceLine(source, first.Start)); ok {
		return h.ID
	}

	var buf bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		if i > 0 {
			buf.WriteByte(' ')
		}
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return toc.AnchorID(strings.TrimSpace(buf.String()))
}

// sourceLine returns the full line of source containing offset, without its terminator.
func sourceLine(source []byte, offset int) string {
	if offset > len(source) {
		offset = len(source)
	}
	start := bytes.LastIndexByte(source[:offset], '\n') + 1
	end := bytes.IndexByte(source[offset:], '\n')
	if end < 0 {
		end = len(source)
	} else {
		end += offset
	}
	return string(source[start:end])
}
