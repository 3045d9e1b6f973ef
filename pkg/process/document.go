package process

import (
	"html/template"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/render"
	"github.com/Sriram-PR/doc-site/pkg/toc"
)

// Options controls how a DocumentProcessor turns a source document into a page
type Options struct {
	TOCEnabled         bool
	TOCTitle           string
	Lang               string
	StylesheetHref     string
	RewriteMDLinks     bool
	TitleFromHeading   bool
	DocumentExtensions []string
}

// Document is the result of processing one source document
type Document struct {
	Title      string
	Headings   []toc.Heading
	Outline    toc.Outline
	TOC        string // TOC block markup, empty when omitted
	Body       string // Rendered fragment after link rewriting
	Page       string // Complete HTML document
	LinkCount  int
	ImageCount int
	TokenCount int // -1 when token counting is disabled
}

// DocumentProcessor runs the per-document pipeline: headings, TOC, body, links, page.
// It holds no per-document state and is safe for concurrent use.
type DocumentProcessor struct {
	opts     Options
	renderer *render.Renderer
	page     *render.PageTemplate
	links    *LinkProcessor
	tokens   *TokenCounter // nil disables token counting
	log      *logrus.Entry
}

// NewDocumentProcessor creates a DocumentProcessor. page and tokens may be nil.
func NewDocumentProcessor(opts Options, page *render.PageTemplate, tokens *TokenCounter, log *logrus.Entry) *DocumentProcessor {
	if page == nil {
		page = render.DefaultPageTemplate()
	}
	exts := opts.DocumentExtensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	return &DocumentProcessor{
		opts:     opts,
		renderer: render.New(),
		page:     page,
		links:    NewLinkProcessor(exts, opts.RewriteMDLinks),
		tokens:   tokens,
		log:      log,
	}
}

// NewDocumentProcessorFromConfig resolves the effective settings for a site and
// loads its page template and tokenizer.
func NewDocumentProcessorFromConfig(appCfg config.AppConfig, siteCfg config.SiteConfig, log *logrus.Entry) (*DocumentProcessor, error) {
	pageCfg := config.GetEffectivePage(siteCfg, appCfg)
	page, err := render.LoadPageTemplate(pageCfg.TemplateFile)
	if err != nil {
		return nil, err
	}

	var tokens *TokenCounter
	if appCfg.EnableTokenCounting {
		tokens, err = NewTokenCounter(appCfg.TokenizerEncoding)
		if err != nil {
			return nil, err
		}
	}

	opts := Options{
		TOCEnabled:         config.GetEffectiveTOCEnabled(siteCfg, appCfg),
		TOCTitle:           config.GetEffectiveTOCTitle(siteCfg, appCfg),
		Lang:               pageCfg.Lang,
		StylesheetHref:     pageCfg.StylesheetHref,
		RewriteMDLinks:     config.GetEffectiveRewriteMDLinks(siteCfg, appCfg),
		TitleFromHeading:   config.GetEffectiveTitleFromHeading(siteCfg, appCfg),
		DocumentExtensions: appCfg.DocumentExtensions,
	}
	return NewDocumentProcessor(opts, page, tokens, log), nil
}

// Process converts the raw source of the document called name into a page.
// name is only used to derive the default title from its base name.
func (dp *DocumentProcessor) Process(src []byte, name string) (*Document, error) {
	text := string(src)
	docLog := dp.log.WithField("document", name)

	headings := toc.ExtractHeadings(text)
	doc := &Document{
		Title:      DocumentTitle(name, headings, dp.opts.TitleFromHeading),
		Headings:   headings,
		Outline:    toc.BuildOutline(headings),
		TokenCount: -1,
	}

	if dp.opts.TOCEnabled {
		doc.TOC = toc.BuildMarkup(headings, toc.Options{Title: dp.opts.TOCTitle})
	}

	body, err := dp.renderer.Render(src)
	if err != nil {
		return nil, err
	}

	body, stats, err := dp.links.Process(body, docLog)
	if err != nil {
		// Counting and rewriting are best effort; keep the rendered body
		docLog.Warnf("Link processing skipped: %v", err)
	}
	doc.Body = body
	doc.LinkCount = stats.Links
	doc.ImageCount = stats.Images

	if dp.tokens != nil {
		doc.TokenCount = dp.tokens.Count(text)
	}

	doc.Page, err = dp.page.Execute(render.PageData{
		Title:          doc.Title,
		Lang:           dp.opts.Lang,
		StylesheetHref: dp.opts.StylesheetHref,
		TOC:            template.HTML(doc.TOC),
		Body:           template.HTML(doc.Body),
	})
	if err != nil {
		return nil, err
	}

	docLog.Debugf("Processed document: %d headings, %d links, %d images", len(headings), stats.Links, stats.Images)
	return doc, nil
}

// DocumentTitle is the file base name without extension, or the first level-1
// heading when fromHeading is set and one exists.
func DocumentTitle(name string, headings []toc.Heading, fromHeading bool) string {
	if fromHeading {
		for _, h := range headings {
			if h.Level == 1 {
				return h.Text
			}
		}
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
