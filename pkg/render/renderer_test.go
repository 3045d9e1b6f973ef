package render

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/doc-site/pkg/toc"
)

var headingIDAttrRe = regexp.MustCompile(`<h[1-6] id="([^"]*)"`)

func renderedIDs(t *testing.T, html string) []string {
	t.Helper()
	var ids []string
	for _, m := range headingIDAttrRe.FindAllStringSubmatch(html, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func TestRender_HeadingIDsMatchExtractedIDs(t *testing.T) {
	src := strings.Join([]string{
		"# Getting Started",
		"",
		"Intro paragraph.",
		"",
		"## Install & Configure!",
		"",
		"### 安装 步骤",
		"",
		"## Getting Started",
		"",
		"#### snake_case-and-dash",
	}, "\n")

	out, err := New().Render([]byte(src))
	require.NoError(t, err)

	var want []string
	for _, h := range toc.ExtractHeadings(src) {
		want = append(want, h.ID)
	}
	assert.Equal(t, want, renderedIDs(t, out))
	assert.Equal(t, []string{"Getting-Started", "Install-Configure", "安装-步骤", "Getting-Started", "snake_case-and-dash"}, want)
}

func TestRender_CRLFSource(t *testing.T) {
	src := "# One\r\n\r\n## Two Words\r\n"
	out, err := New().Render([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two-Words"}, renderedIDs(t, out))
}

func TestRender_ClosingSequenceUsesSourceLine(t *testing.T) {
	src := "## Title ##\n"
	out, err := New().Render([]byte(src))
	require.NoError(t, err)

	hs := toc.ExtractHeadings(src)
	require.Len(t, hs, 1)
	assert.Equal(t, []string{hs[0].ID}, renderedIDs(t, out))
}

func TestRender_SetextHeadingFallsBackToText(t *testing.T) {
	src := "Setext Title\n============\n"
	out, err := New().Render([]byte(src))
	require.NoError(t, err)
	assert.Contains(t, out, `<h1 id="Setext-Title">`)
	assert.Empty(t, toc.ExtractHeadings(src), "setext headings are not part of the TOC")
}

func TestRender_HardWrapsAndRawHTML(t *testing.T) {
	out, err := New().Render([]byte("line one\nline two\n\n<div class=\"note\">raw</div>\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "line one<br>")
	assert.Contains(t, out, `<div class="note">raw</div>`)
}

func TestRender_GFMTable(t *testing.T) {
	out, err := New().Render([]byte("| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "<table>")
}

func TestRender_EmptyDocument(t *testing.T) {
	out, err := New().Render(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSourceLine(t *testing.T) {
	src := []byte("first\nsecond line\nthird")
	assert.Equal(t, "first", sourceLine(src, 2))
	assert.Equal(t, "second line", sourceLine(src, 8))
	assert.Equal(t, "third", sourceLine(src, len(src)))
}
