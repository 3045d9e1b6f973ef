package site

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/storage"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

func testLogEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func testAppConfig() *config.AppConfig {
	return &config.AppConfig{
		NumWorkers:         2,
		MaxConcurrentFiles: 4,
		DocumentExtensions: []string{".md"},
	}
}

// newSourceTree lays out a small documentation repo and returns its root.
func newSourceTree(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "repo")
	writeFile(t, filepath.Join(src, "README.md"), "# 项目介绍\n\nSee [setup](guide/setup.md#Install).\n\n## Features\n")
	writeFile(t, filepath.Join(src, "guide", "setup.md"), "# Setup\n\n## Install\n\n### From source\n")
	writeFile(t, filepath.Join(src, "img", "logo.png"), "\x89PNG")
	writeFile(t, filepath.Join(src, ".git", "config"), "[core]")
	writeFile(t, filepath.Join(src, "node_modules", "x", "index.js"), "module.exports = 1")
	writeFile(t, filepath.Join(src, "package.json"), "{}")
	writeFile(t, filepath.Join(src, "build.js"), "// old builder")
	writeFile(t, filepath.Join(src, "drafts", "wip.md"), "# WIP\n")
	return src
}

func newTestBuilder(t *testing.T, appCfg *config.AppConfig, siteCfg *config.SiteConfig, opts *BuilderOptions) *Builder {
	t.Helper()
	b, err := NewBuilder(appCfg, siteCfg, "docs", testLogEntry(), opts)
	require.NoError(t, err)
	return b
}

func TestBuilder_FullBuild(t *testing.T) {
	src := newSourceTree(t)
	out := filepath.Join(src, "dist")
	writeFile(t, filepath.Join(out, "stale.html"), "old")

	on := true
	appCfg := testAppConfig()
	siteCfg := &config.SiteConfig{
		SourceDir:           src,
		OutputDir:           out,
		ExcludePatterns:     []string{"^drafts/"},
		EnableOutputMapping: &on,
		EnableStructureFile: &on,
	}

	b := newTestBuilder(t, appCfg, siteCfg, nil)
	require.NoError(t, b.Run(context.Background()))

	readme, err := os.ReadFile(filepath.Join(out, "README.html"))
	require.NoError(t, err)
	page := string(readme)
	assert.Contains(t, page, "<title>README</title>")
	assert.Contains(t, page, `<a class="toc-link" href="#Features">Features</a>`)
	assert.Contains(t, page, `<h2 id="Features">`)
	assert.Contains(t, page, `href="guide/setup.html#Install"`)

	assert.FileExists(t, filepath.Join(out, "guide", "setup.html"))
	logo, err := os.ReadFile(filepath.Join(out, "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(logo))

	for _, excluded := range []string{".git", "node_modules", "package.json", "build.js", "drafts", "stale.html", "dist"} {
		assert.NoFileExists(t, filepath.Join(out, excluded), excluded)
		assert.NoDirExists(t, filepath.Join(out, excluded), excluded)
	}

	progress := b.GetProgress()
	assert.Equal(t, int64(2), progress.DocumentsRendered)
	assert.Equal(t, int64(1), progress.AssetsCopied)
	assert.Zero(t, progress.DocumentsFailed)
	assert.False(t, progress.IsRunning)

	meta, err := LoadMetadata(*appCfg, *siteCfg)
	require.NoError(t, err)
	assert.Equal(t, "docs", meta.SiteKey)
	assert.NotEmpty(t, meta.BuildID)
	assert.Equal(t, 2, meta.DocumentsRendered)
	require.Len(t, meta.Pages, 2)
	assert.Equal(t, "README.md", meta.Pages[0].SourcePath)
	assert.Equal(t, "README.html", meta.Pages[0].OutputPath)
	assert.Equal(t, 2, meta.Pages[0].HeadingCount)
	assert.Equal(t, 1, meta.Pages[0].LinkCount)
	assert.Equal(t, "guide/setup.md", meta.Pages[1].SourcePath)
	assert.Equal(t, 3, meta.Pages[1].Outline.Len())
	assert.False(t, meta.BuildEndTime.Before(meta.BuildStartTime))

	mapping, err := os.ReadFile(filepath.Join(out, "source_to_output_map.tsv"))
	require.NoError(t, err)
	assert.Contains(t, string(mapping), "README.md\tREADME.html\n")
	assert.Contains(t, string(mapping), "guide/setup.md\tguide/setup.html\n")

	structure, err := os.ReadFile(filepath.Join(out, StructureFilename))
	require.NoError(t, err)
	assert.Contains(t, string(structure), "guide/")
}

func TestBuilder_RefusesUnsafeClean(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.md"), "# A\n")

	tests := []struct {
		name   string
		output string
	}{
		{"parent of source", root},
		{"filesystem root", string(filepath.Separator)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t, testAppConfig(), &config.SiteConfig{SourceDir: src, OutputDir: tt.output}, nil)
			err := b.Run(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrUnsafeOutputDir))
			assert.FileExists(t, filepath.Join(src, "a.md"))
		})
	}
}

func TestBuilder_NoCleanKeepsExistingFiles(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	out := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "a.md"), "# A\n")
	writeFile(t, filepath.Join(out, "keep.txt"), "keep")

	off := false
	b := newTestBuilder(t, testAppConfig(), &config.SiteConfig{SourceDir: src, OutputDir: out, CleanOutput: &off}, nil)
	require.NoError(t, b.Run(context.Background()))
	assert.FileExists(t, filepath.Join(out, "keep.txt"))
	assert.FileExists(t, filepath.Join(out, "a.html"))
}

func TestBuilder_FailedDocumentMakesBuildIncomplete(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	out := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "good.md"), "# Good\n")
	writeFile(t, filepath.Join(src, "clash.md"), "# Clash\n")
	// A source directory with the page's name is mirrored first, so the page cannot be written.
	writeFile(t, filepath.Join(src, "clash.html", "note.txt"), "x")

	ctx := context.Background()
	store, err := storage.NewBadgerStore(ctx, t.TempDir(), "docs", false, testLogEntry())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := newTestBuilder(t, testAppConfig(), &config.SiteConfig{SourceDir: src, OutputDir: out}, &BuilderOptions{Store: store})
	err = b.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrBuildIncomplete))

	assert.FileExists(t, filepath.Join(out, "good.html"))
	assert.FileExists(t, filepath.Join(out, "clash.html", "note.txt"))
	assert.Equal(t, int64(1), b.GetProgress().DocumentsFailed)

	failed, err := store.ListFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clash.md"}, failed)
}

func TestBuilder_Incremental(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	out := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "a.md"), "# A\n")
	writeFile(t, filepath.Join(src, "b.md"), "# B\n")
	writeFile(t, filepath.Join(src, "logo.png"), "png")

	ctx := context.Background()
	store, err := storage.NewBadgerStore(ctx, t.TempDir(), "docs", true, testLogEntry())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	appCfg := testAppConfig()
	siteCfg := &config.SiteConfig{SourceDir: src, OutputDir: out}
	run := func() BuildProgress {
		b := newTestBuilder(t, appCfg, siteCfg, &BuilderOptions{Store: store, Incremental: true})
		require.NoError(t, b.Run(ctx))
		return b.GetProgress()
	}

	first := run()
	assert.Equal(t, int64(2), first.DocumentsRendered)
	assert.Zero(t, first.DocumentsUnchanged)

	second := run()
	assert.Zero(t, second.DocumentsRendered)
	assert.Equal(t, int64(2), second.DocumentsUnchanged)
	assert.Equal(t, int64(1), second.AssetsCopied)

	writeFile(t, filepath.Join(src, "a.md"), "# A changed\n")
	third := run()
	assert.Equal(t, int64(1), third.DocumentsRendered)
	assert.Equal(t, int64(1), third.DocumentsUnchanged)
	page, err := os.ReadFile(filepath.Join(out, "a.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), `id="A-changed"`)

	require.NoError(t, os.Remove(filepath.Join(src, "b.md")))
	run()
	assert.NoFileExists(t, filepath.Join(out, "b.html"))
	assert.FileExists(t, filepath.Join(out, "a.html"))

	meta, err := LoadMetadata(*appCfg, *siteCfg)
	require.NoError(t, err)
	require.Len(t, meta.Pages, 1)
	assert.True(t, meta.Pages[0].Unchanged)
	assert.True(t, meta.Incremental)
}

func TestBuilder_IncrementalRebuildsMissingPage(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	out := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "a.md"), "# A\n")

	ctx := context.Background()
	store, err := storage.NewBadgerStore(ctx, t.TempDir(), "docs", true, testLogEntry())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	siteCfg := &config.SiteConfig{SourceDir: src, OutputDir: out}
	opts := &BuilderOptions{Store: store, Incremental: true}
	require.NoError(t, newTestBuilder(t, testAppConfig(), siteCfg, opts).Run(ctx))
	require.NoError(t, os.Remove(filepath.Join(out, "a.html")))

	b := newTestBuilder(t, testAppConfig(), siteCfg, opts)
	require.NoError(t, b.Run(ctx))
	assert.Equal(t, int64(1), b.GetProgress().DocumentsRendered)
	assert.FileExists(t, filepath.Join(out, "a.html"))
}

func TestBuilder_Canceled(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(src, "a.md"), "# A\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestBuilder(t, testAppConfig(), &config.SiteConfig{SourceDir: src, OutputDir: filepath.Join(t.TempDir(), "out")}, nil)
	err := b.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBuilder_ReservedControlFileSkipped(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	out := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "metadata.yaml"), "source: file\n")
	writeFile(t, filepath.Join(src, "a.md"), "# A\n")

	b := newTestBuilder(t, testAppConfig(), &config.SiteConfig{SourceDir: src, OutputDir: out}, nil)
	require.NoError(t, b.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(out, "metadata.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "site_key: docs"))
	assert.Zero(t, b.GetProgress().AssetsCopied)
}

func TestNewBuilder_BadPattern(t *testing.T) {
	_, err := NewBuilder(testAppConfig(), &config.SiteConfig{SourceDir: t.TempDir(), OutputDir: t.TempDir(), ExcludePatterns: []string{"("}}, "docs", testLogEntry(), nil)
	require.Error(t, err)
}

func TestIsExcluded(t *testing.T) {
	b := newTestBuilder(t, testAppConfig(), &config.SiteConfig{
		SourceDir:       t.TempDir(),
		OutputDir:       t.TempDir(),
		Exclude:         []string{"secret.md"},
		ExcludePatterns: []string{"^drafts/", `\.tmp$`},
	}, nil)

	tests := []struct {
		name  string
		rel   string
		isDir bool
		want  bool
	}{
		{".git", ".git", true, true},
		{"node_modules", "web/node_modules", true, true},
		{"secret.md", "a/secret.md", false, true},
		{"drafts", "drafts", true, true},
		{"wip.md", "drafts/wip.md", false, true},
		{"x.tmp", "x.tmp", false, true},
		{"guide", "guide", true, false},
		{"README.md", "README.md", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, b.isExcluded(tt.name, tt.rel, tt.isDir))
		})
	}
}

func TestOutputRelPath(t *testing.T) {
	assert.Equal(t, "README.html", outputRelPath("README.md"))
	assert.Equal(t, "guide/intro.html", outputRelPath("guide/intro.md"))
	assert.Equal(t, "notes.v2.html", outputRelPath("notes.v2.markdown"))
}
