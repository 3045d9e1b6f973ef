package toc

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

var (
	// anchorStripRe matches every rune that may not appear in an anchor: anything
	// other than letters and marks of any script, decimal digits, underscore,
	// Han ideographs, whitespace and hyphen.
	anchorStripRe = regexp.MustCompile(`[^\p{L}\p{M}\p{Nd}_\p{Han}\s\p{Zs}-]`)
	whitespaceRe  = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// AnchorID derives the fragment identifier for a heading text.
//
// It is the only place anchors are computed: the TOC builder and the renderer's
// heading-id hook both call it, so a TOC link always resolves to its heading.
// Case is preserved and identical texts produce identical ids.
func AnchorID(text string) string {
	id := norm.NFC.String(text)
	id = anchorStripRe.ReplaceAllString(id, "")
	return whitespaceRe.ReplaceAllString(id, "-")
}
