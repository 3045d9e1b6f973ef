package toc

import (
	"regexp"
	"strings"
)

// headingLineRe matches an ATX heading line: 1-6 markers, whitespace, then the text.
// Seven or more markers never match.
var headingLineRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Heading is a single entry of a document outline.
type Heading struct {
	Level int    `json:"level" yaml:"level"`
	Text  string `json:"text" yaml:"text"`
	ID    string `json:"id" yaml:"id"`
}

// ParseHeadingLine tests a single line against the heading pattern.
// A trailing carriage return is ignored so CRLF sources behave like LF sources.
func ParseHeadingLine(line string) (Heading, bool) {
	line = strings.TrimSuffix(line, "\r")
	match := headingLineRe.FindStringSubmatch(line)
	if match == nil {
		return Heading{}, false
	}

	text := strings.TrimSpace(match[2])
	if text == "" {
		return Heading{}, false
	}

	return Heading{
		Level: len(match[1]),
		Text:  text,
		ID:    AnchorID(text),
	}, true
}

// ExtractHeadings scans raw document text and returns its headings in line order.
// Documents without heading lines yield an empty (nil) slice.
func ExtractHeadings(document string) []Heading {
	var headings []Heading
	for _, line := range strings.Split(document, "\n") {
		if h, ok := ParseHeadingLine(line); ok {
			headings = append(headings, h)
		}
	}
	return headings
}
