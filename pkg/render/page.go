package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"

	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// PageData is the input to the page template.
type PageData struct {
	Title          string
	Lang           string
	StylesheetHref string
	TOC            template.HTML // Pre-rendered TOC block, empty when omitted
	Body           template.HTML // Rendered document fragment
}

// defaultPageTemplate is a white-theme page around a .markdown-body container.
const defaultPageTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0, maximum-scale=1.0, user-scalable=no">
    <title>{{.Title}}</title>
    {{- if .StylesheetHref}}
    <link rel="stylesheet" href="{{.StylesheetHref}}">
    {{- end}}
    <style>
        body {
            background-color: #ffffff;
            color: #24292e;
            margin: 0;
            padding: 0;
        }
        .markdown-body {
            box-sizing: border-box;
            max-width: 800px;
            margin: 0 auto;
            padding: 1rem;
            background-color: #ffffff;
        }
        .markdown-body h1,
        .markdown-body h2,
        .markdown-body h3 {
            color: #24292e;
            border-bottom: 1px solid #eaecef;
        }
        .markdown-body p {
            color: #24292e;
        }
        .markdown-body code {
            background-color: #f6f8fa;
            color: #24292e;
        }
        .markdown-body pre {
            background-color: #f6f8fa;
        }
        .markdown-body blockquote {
            color: #6a737d;
            border-left: 0.25em solid #dfe2e5;
        }
        .toc {
            background: #f5f5f5;
            padding: 1rem;
            border-radius: 4px;
            margin-bottom: 2rem;
        }
        .toc-title {
            margin-top: 0;
            border-bottom: none;
        }
        .toc-list {
            list-style: none;
            padding-left: 0;
        }
        .toc-sublist {
            list-style: none;
            padding-left: 1.5rem;
        }
        .toc-link {
            color: #0366d6;
            text-decoration: none;
        }
    </style>
</head>
<body>
    <div class="markdown-body">
        {{.TOC}}
        {{.Body}}
    </div>
</body>
</html>
`

// PageTemplate wraps rendered documents into complete HTML pages.
type PageTemplate struct {
	tmpl *template.Template
}

// DefaultPageTemplate returns the built-in page template.
func DefaultPageTemplate() *PageTemplate {
	return &PageTemplate{tmpl: template.Must(template.New("page").Parse(defaultPageTemplate))}
}

// NewPageTemplate parses a custom page template. The template receives a PageData.
func NewPageTemplate(text string) (*PageTemplate, error) {
	tmpl, err := template.New("page").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: parse page template: %w", utils.ErrTemplate, err)
	}
	return &PageTemplate{tmpl: tmpl}, nil
}

// LoadPageTemplate returns the template stored at path, or the built-in one when path is empty.
func LoadPageTemplate(path string) (*PageTemplate, error) {
	if path == "" {
		return DefaultPageTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read page template '%s': %w", utils.ErrTemplate, path, err)
	}
	return NewPageTemplate(string(data))
}

// Execute renders data into a full HTML document.
func (p *PageTemplate) Execute(data PageData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute page template: %w", utils.ErrTemplate, err)
	}
	return buf.String(), nil
}
