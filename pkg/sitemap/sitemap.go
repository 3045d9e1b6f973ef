// Package sitemap writes the sitemap.xml of a built site.
package sitemap

import (
	"encoding/xml"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/Sriram-PR/doc-site/pkg/models"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

const (
	// Filename is written to the output root of sites with a base_url
	Filename = "sitemap.xml"

	namespace     = "http://www.sitemaps.org/schemas/sitemap/0.9"
	lastModFormat = "2006-01-02"
	indexPage     = "index.html"
)

// URL represents a <url> element in a sitemap
type URL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// URLSet represents a <urlset> element in a sitemap
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	URLs    []URL    `xml:"url"`
}

// NormalizeBaseURL parses a site's base URL. It lowercases the scheme and host,
// removes default ports (80 for http, 443 for https), drops the query and fragment,
// and makes the path end in "/" so page paths resolve below it.
func NormalizeBaseURL(raw string) (*url.URL, error) {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, err
	}
	normalized := *parsed

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	if normalized.Scheme != "http" && normalized.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme '%s'", parsed.Scheme)
	}
	normalized.Host = strings.ToLower(normalized.Host)
	if normalized.Host == "" {
		return nil, fmt.Errorf("missing host in '%s'", raw)
	}

	if host, port, err := net.SplitHostPort(normalized.Host); err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if !strings.HasSuffix(normalized.Path, "/") {
		normalized.Path += "/"
	}
	normalized.RawPath = ""
	normalized.Fragment = ""
	normalized.RawQuery = ""
	normalized.ForceQuery = false

	return &normalized, nil
}

// PageURL resolves a page output path against base.
// Directory index pages map to their directory URL.
func PageURL(base *url.URL, outputPath string) string {
	rel := strings.TrimPrefix(outputPath, "/")
	if rel == indexPage {
		rel = ""
	} else if strings.HasSuffix(rel, "/"+indexPage) {
		rel = strings.TrimSuffix(rel, indexPage)
	}
	return base.ResolveReference(&url.URL{Path: rel}).String()
}

// Build returns the URL set for pages, sorted by location.
// A page's lastmod is the date it was last rendered.
func Build(base *url.URL, pages []models.PageMetadata) *URLSet {
	set := &URLSet{Xmlns: namespace, URLs: make([]URL, 0, len(pages))}
	for _, page := range pages {
		u := URL{Loc: PageURL(base, page.OutputPath)}
		if !page.BuiltAt.IsZero() {
			u.LastMod = page.BuiltAt.UTC().Format(lastModFormat)
		}
		set.URLs = append(set.URLs, u)
	}
	sort.Slice(set.URLs, func(i, j int) bool { return set.URLs[i].Loc < set.URLs[j].Loc })
	return set
}

// Write encodes set as an XML document at path
func Write(path string, set *URLSet) error {
	data, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding sitemap: %w", utils.ErrParsing, err)
	}
	out := make([]byte, 0, len(xml.Header)+len(data)+1)
	out = append(out, xml.Header...)
	out = append(out, data...)
	out = append(out, '\n')

	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("%w: writing sitemap '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
