package orchestrate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
)

func testLogEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testAppConfig(siteKeys ...string) *config.AppConfig {
	sites := make(map[string]config.SiteConfig, len(siteKeys))
	for _, key := range siteKeys {
		sites[key] = config.SiteConfig{
			SourceDir: key + "-src",
			OutputDir: key + "-out",
		}
	}
	return &config.AppConfig{
		Sites: sites,
	}
}

// buildableConfig lays out one source tree per site under a temp dir.
func buildableConfig(t *testing.T, siteKeys ...string) *config.AppConfig {
	t.Helper()
	root := t.TempDir()
	cfg := testAppConfig()
	cfg.NumWorkers = 2
	cfg.MaxConcurrentFiles = 2
	cfg.StateDir = filepath.Join(root, "state")
	cfg.DocumentExtensions = []string{".md"}
	for _, key := range siteKeys {
		src := filepath.Join(root, key, "src")
		require.NoError(t, os.MkdirAll(filepath.Join(src, "guide"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "index.md"), []byte("# "+key+"\n\n## Intro\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(src, "guide", "a.md"), []byte("# A\n"), 0644))
		cfg.Sites[key] = config.SiteConfig{SourceDir: src, OutputDir: filepath.Join(root, key, "out")}
	}
	return cfg
}

func TestOrchestrator_RunBuildsAllSites(t *testing.T) {
	cfg := buildableConfig(t, "docs", "blog")
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)

	o := NewOrchestrator(context.Background(), cfg, []string{"docs", "blog"}, false, testLogEntry(), &Options{Recorder: rec, StatusLog: true})
	results := o.Run()

	require.Len(t, results, 2)
	assert.Equal(t, "blog", results[0].SiteKey)
	assert.Equal(t, "docs", results[1].SiteKey)
	assert.True(t, AllSucceeded(results))
	for _, r := range results {
		assert.Equal(t, int64(2), r.DocumentsRendered, r.SiteKey)
		assert.NoError(t, r.Error)
		assert.FileExists(t, filepath.Join(cfg.Sites[r.SiteKey].OutputDir, "index.html"))
	}

	status, err := os.ReadFile(filepath.Join(cfg.StateDir, "docs_build_status.tsv"))
	require.NoError(t, err)
	assert.Contains(t, string(status), "guide/a.md\tsuccess")

	series, err := testutil.GatherAndCount(reg, "docsite_build_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)

	progress := o.GetProgress()
	require.Len(t, progress, 2)
	assert.Equal(t, "blog", progress[0].SiteKey)
	assert.False(t, progress[0].IsRunning)
}

func TestOrchestrator_IncrementalSecondRun(t *testing.T) {
	cfg := buildableConfig(t, "docs")

	first := NewOrchestrator(context.Background(), cfg, []string{"docs"}, true, testLogEntry(), nil).Run()
	require.True(t, AllSucceeded(first))
	assert.Equal(t, int64(2), first[0].DocumentsRendered)

	second := NewOrchestrator(context.Background(), cfg, []string{"docs"}, true, testLogEntry(), nil).Run()
	require.True(t, AllSucceeded(second))
	assert.Zero(t, second[0].DocumentsRendered)
	assert.Equal(t, int64(2), second[0].DocumentsUnchanged)
}

func TestOrchestrator_ReportsFailedDocuments(t *testing.T) {
	cfg := buildableConfig(t, "docs")
	src := cfg.Sites["docs"].SourceDir
	// A mirrored asset directory named like the page keeps clash.md from being written.
	require.NoError(t, os.WriteFile(filepath.Join(src, "clash.md"), []byte("# Clash\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "clash.html"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "clash.html", "note.txt"), []byte("x"), 0644))

	results := NewOrchestrator(context.Background(), cfg, []string{"docs"}, false, testLogEntry(), nil).Run()

	require.Len(t, results, 1)
	r := results[0]
	assert.False(t, r.Success)
	assert.Equal(t, int64(1), r.DocumentsFailed)
	assert.Equal(t, []string{"clash.md"}, r.FailedDocuments)
	assert.NotEmpty(t, r.ErrorMessage)
	assert.False(t, AllSucceeded(results))
}

func TestOrchestrator_UnknownSite(t *testing.T) {
	cfg := buildableConfig(t, "docs")
	results := NewOrchestrator(context.Background(), cfg, []string{"missing"}, false, testLogEntry(), nil).Run()

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].ErrorMessage, "missing")
	assert.False(t, AllSucceeded(results))
}

func TestOrchestrator_Cancel(t *testing.T) {
	cfg := buildableConfig(t, "docs")
	o := NewOrchestrator(context.Background(), cfg, []string{"docs"}, false, testLogEntry(), nil)
	o.Cancel()

	results := o.Run()
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Error, context.Canceled)
}

func TestValidateSiteKeys(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		cfg := testAppConfig("docs", "blog")
		err := ValidateSiteKeys(cfg, []string{"docs", "blog"})
		assert.NoError(t, err)
	})

	t.Run("one invalid", func(t *testing.T) {
		cfg := testAppConfig("docs", "blog")
		err := ValidateSiteKeys(cfg, []string{"docs", "missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
		assert.Contains(t, err.Error(), "[blog docs]")
	})

	t.Run("empty keys no error", func(t *testing.T) {
		cfg := testAppConfig("docs")
		err := ValidateSiteKeys(cfg, []string{})
		assert.NoError(t, err)
	})

	t.Run("empty config", func(t *testing.T) {
		cfg := testAppConfig()
		err := ValidateSiteKeys(cfg, []string{"anything"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anything")
	})
}

func TestGetAllSiteKeys(t *testing.T) {
	t.Run("multiple sites sorted", func(t *testing.T) {
		cfg := testAppConfig("gamma", "alpha", "beta")
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, GetAllSiteKeys(cfg))
	})

	t.Run("no sites", func(t *testing.T) {
		assert.Empty(t, GetAllSiteKeys(testAppConfig()))
	})

	t.Run("single site", func(t *testing.T) {
		assert.Equal(t, []string{"only"}, GetAllSiteKeys(testAppConfig("only")))
	})
}

func TestAllSucceeded(t *testing.T) {
	assert.True(t, AllSucceeded(nil))
	assert.True(t, AllSucceeded([]SiteResult{{Success: true}}))
	assert.False(t, AllSucceeded([]SiteResult{{Success: true}, {Success: false}}))
}
