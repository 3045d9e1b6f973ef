package toc

import (
	"html"
	"strings"
)

// Options controls the wrapper emitted around the TOC list.
type Options struct {
	// Title is rendered as a heading above the list; empty omits it.
	Title string
	// Class is the class attribute of the wrapper div. Defaults to "toc".
	Class string
}

// listState is the accumulator threaded through the fold over the headings.
type listState struct {
	b         *strings.Builder
	lastLevel int
	open      int // nested containers currently open below the root list
}

// step emits one heading, opening or closing one container per level of difference.
func (s listState) step(h Heading) listState {
	for ; s.lastLevel < h.Level; s.lastLevel++ {
		s.b.WriteString(`<ul class="toc-sublist">`)
		s.open++
	}
	for ; s.lastLevel > h.Level; s.lastLevel-- {
		s.b.WriteString("</ul>")
		s.open--
	}

	s.b.WriteString(`<li><a class="toc-link" href="#`)
	s.b.WriteString(html.EscapeString(h.ID))
	s.b.WriteString(`">`)
	s.b.WriteString(html.EscapeString(h.Text))
	s.b.WriteString("</a></li>")
	return s
}

// finish closes every container still open below the root list.
func (s listState) finish() listState {
	for ; s.open > 0; s.open-- {
		s.b.WriteString("</ul>")
	}
	s.lastLevel = 1
	return s
}

// BuildList renders the nested <ul> markup for headings without any wrapper.
// The running level starts at 1, so a first heading deeper than level 1 opens
// its extra containers directly inside the root list.
func BuildList(headings []Heading) string {
	if len(headings) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<ul class="toc-list">`)
	state := listState{b: &b, lastLevel: 1}
	for _, h := range headings {
		state = state.step(h)
	}
	state.finish()
	b.WriteString("</ul>")
	return b.String()
}

// BuildMarkup renders the complete table of contents block. It returns the empty
// string when there are no headings so callers can omit the block entirely.
func BuildMarkup(headings []Heading, opts Options) string {
	list := BuildList(headings)
	if list == "" {
		return ""
	}

	class := opts.Class
	if class == "" {
		class = "toc"
	}

	var b strings.Builder
	b.WriteString(`<div class="`)
	b.WriteString(html.EscapeString(class))
	b.WriteString(`">`)
	if opts.Title != "" {
		b.WriteString(`<h3 class="toc-title">`)
		b.WriteString(html.EscapeString(opts.Title))
		b.WriteString("</h3>")
	}
	b.WriteString(list)
	b.WriteString("</div>")
	return b.String()
}
