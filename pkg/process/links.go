package process

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// LinkStats summarizes the anchors and images found in a rendered fragment
type LinkStats struct {
	Links     int // <a href> elements
	Images    int // <img> elements
	Rewritten int // hrefs changed from a document extension to .html
}

// LinkProcessor rewrites links between source documents so they point at the built pages
type LinkProcessor struct {
	docExts map[string]bool // Lower-case extensions, with leading dot
	rewrite bool
}

// NewLinkProcessor creates a LinkProcessor. When rewrite is false, links are only counted.
func NewLinkProcessor(documentExtensions []string, rewrite bool) *LinkProcessor {
	exts := make(map[string]bool, len(documentExtensions))
	for _, ext := range documentExtensions {
		exts[strings.ToLower(ext)] = true
	}
	return &LinkProcessor{docExts: exts, rewrite: rewrite}
}

// Process counts links and images in an HTML fragment and rewrites local document links.
// The fragment is returned untouched when nothing was rewritten, so the renderer's
// exact markup survives for the common case.
func (lp *LinkProcessor) Process(fragment string, taskLog *logrus.Entry) (string, LinkStats, error) {
	var stats LinkStats

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment, stats, fmt.Errorf("%w: parsing rendered html: %w", utils.ErrParsing, err)
	}

	stats.Images = doc.Find("img").Length()

	doc.Find("a[href]").Each(func(_ int, element *goquery.Selection) {
		stats.Links++
		if !lp.rewrite {
			return
		}
		href, _ := element.Attr("href")
		if newHref, ok := lp.rewriteHref(href); ok {
			element.SetAttr("href", newHref)
			stats.Rewritten++
			taskLog.Tracef("Rewrote link '%s' -> '%s'", href, newHref)
		}
	})

	if stats.Rewritten == 0 {
		return fragment, stats, nil
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return fragment, stats, fmt.Errorf("%w: serializing rewritten html: %w", utils.ErrParsing, err)
	}
	taskLog.Debugf("Rewrote %d local document links.", stats.Rewritten)
	return out, stats, nil
}

// rewriteHref maps a site-local link to a document onto its built page, keeping any
// query and fragment. External, protocol-relative and fragment-only links are left alone.
func (lp *LinkProcessor) rewriteHref(href string) (string, bool) {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "//") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}

	pathPart, rest := href, ""
	if idx := strings.IndexAny(href, "?#"); idx >= 0 {
		pathPart, rest = href[:idx], href[idx:]
	}
	if !lp.docExts[strings.ToLower(path.Ext(pathPart))] {
		return "", false
	}
	return utils.ReplaceExt(pathPart, ".html") + rest, true
}
