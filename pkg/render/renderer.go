package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// Renderer converts Markdown documents to HTML fragments.
// A Renderer is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a Renderer configured with GFM, hard line breaks and raw HTML passthrough.
// Heading elements receive ids derived by the same function the TOC uses.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithASTTransformers(
				util.Prioritized(&headingIDTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithUnsafe(),
		),
	)
	return &Renderer{md: md}
}

// Render converts src to an HTML fragment.
func (r *Renderer) Render(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("%w: convert markdown: %w", utils.ErrRender, err)
	}
	return buf.String(), nil
}
