package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/orchestrate"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

const (
	testDebounce = 50 * time.Millisecond
	waitFor      = 3 * time.Second
	tick         = 10 * time.Millisecond
)

func testLogEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fakeBuilder records build calls instead of building.
type fakeBuilder struct {
	mu        sync.Mutex
	calls     []string
	active    atomic.Int32
	maxActive atomic.Int32
	blockCall int           // 1-based call number that waits on release
	release   chan struct{} // closed to unblock blockCall
}

func (f *fakeBuilder) build(ctx context.Context, siteKeys []string) []orchestrate.SiteResult {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, strings.Join(siteKeys, ","))
	n := len(f.calls)
	f.mu.Unlock()

	if f.release != nil && n == f.blockCall {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}

	results := make([]orchestrate.SiteResult, 0, len(siteKeys))
	for _, key := range siteKeys {
		results = append(results, orchestrate.SiteResult{SiteKey: key, Success: true, DocumentsRendered: 1})
	}
	return results
}

func (f *fakeBuilder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func watchConfig(t *testing.T) (*config.AppConfig, string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "dist"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.md"), []byte("# Home\n"), 0644))

	cfg := &config.AppConfig{
		StateDir: filepath.Join(root, "state"),
		Exclude:  []string{"node_modules"},
		Watch:    config.WatchConfig{Debounce: testDebounce},
		Sites: map[string]config.SiteConfig{
			"docs": {SourceDir: src, OutputDir: filepath.Join(src, "dist")},
		},
	}
	return cfg, src
}

// startWatcher runs w until the test ends and waits for the initial build.
func startWatcher(t *testing.T, w *Watcher, fb *fakeBuilder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("watcher did not stop")
		}
	})
	require.Eventually(t, func() bool { return fb.count() >= 1 }, waitFor, tick, "initial build")
}

func TestWatcher_InitialBuildRecorded(t *testing.T) {
	cfg, _ := watchConfig(t)
	fb := &fakeBuilder{}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build})
	startWatcher(t, w, fb)

	require.Eventually(t, func() bool {
		st, ok := w.stateManager.GetSiteState("docs")
		return ok && st.Trigger == TriggerInitial
	}, waitFor, tick)
	assert.FileExists(t, filepath.Join(cfg.StateDir, stateFileName))

	status := w.GetStatus()
	assert.False(t, status["docs"].NeverBuilt)
	assert.True(t, status["docs"].LastBuildSuccess)
}

func TestWatcher_ChangesAreDebounced(t *testing.T) {
	cfg, src := watchConfig(t)
	fb := &fakeBuilder{}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build})
	startWatcher(t, w, fb)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(src, "index.md"), []byte("# Home\n\nedit "+string(rune('a'+i))+"\n"), 0644))
	}

	require.Eventually(t, func() bool { return fb.count() == 2 }, waitFor, tick)
	time.Sleep(4 * testDebounce)
	assert.Equal(t, 2, fb.count(), "a burst of writes yields one rebuild")

	st, ok := w.stateManager.GetSiteState("docs")
	require.True(t, ok)
	assert.Equal(t, TriggerChange, st.Trigger)
}

func TestWatcher_IgnoresOutputAndExcludedDirs(t *testing.T) {
	cfg, src := watchConfig(t)
	fb := &fakeBuilder{}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build})
	startWatcher(t, w, fb)

	require.NoError(t, os.WriteFile(filepath.Join(src, "dist", "index.html"), []byte("<p>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "node_modules", "x.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".index.md.swp"), []byte("x"), 0644))

	time.Sleep(6 * testDebounce)
	assert.Equal(t, 1, fb.count())
}

func TestWatcher_IgnoresExcludePatterns(t *testing.T) {
	cfg, src := watchConfig(t)
	siteCfg := cfg.Sites["docs"]
	siteCfg.ExcludePatterns = []string{"^drafts/", `\.tmp$`}
	cfg.Sites["docs"] = siteCfg
	require.NoError(t, os.MkdirAll(filepath.Join(src, "drafts", "deep"), 0755))

	fb := &fakeBuilder{}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build})
	startWatcher(t, w, fb)

	require.NoError(t, os.WriteFile(filepath.Join(src, "drafts", "deep", "wip.md"), []byte("# WIP\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.tmp"), []byte("x"), 0644))
	time.Sleep(6 * testDebounce)
	assert.Equal(t, 1, fb.count())

	require.NoError(t, os.WriteFile(filepath.Join(src, "draft-ideas.md"), []byte("# Ideas\n"), 0644))
	require.Eventually(t, func() bool { return fb.count() == 2 }, waitFor, tick)
}

func TestSiteWatch_Excludes(t *testing.T) {
	patterns, err := utils.CompilePathPatterns([]string{"^drafts/"})
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "src")
	sw := &siteWatch{key: "docs", sourceDir: src, patterns: patterns}

	assert.True(t, sw.excludes(filepath.Join(src, "drafts"), true))
	assert.True(t, sw.excludes(filepath.Join(src, "drafts", "a.md"), false))
	assert.True(t, sw.excludes(filepath.Join(src, "drafts", "x", "b.md"), false))
	assert.False(t, sw.excludes(filepath.Join(src, "drafts"), false), "a file named drafts is kept")
	assert.False(t, sw.excludes(filepath.Join(src, "guide", "drafts.md"), false))
	assert.False(t, sw.excludes(src, true))
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	cfg, src := watchConfig(t)
	fb := &fakeBuilder{}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build})
	startWatcher(t, w, fb)

	newDir := filepath.Join(src, "guide")
	require.NoError(t, os.Mkdir(newDir, 0755))

	require.Eventually(t, func() bool {
		for _, p := range w.fsw.WatchList() {
			if p == newDir {
				return true
			}
		}
		return false
	}, waitFor, tick)
	for _, p := range w.fsw.WatchList() {
		assert.False(t, strings.HasPrefix(p, filepath.Join(src, "dist")), p)
		assert.False(t, strings.HasPrefix(p, filepath.Join(src, "node_modules")), p)
	}
}

func TestWatcher_ChangeDuringRebuildIsQueued(t *testing.T) {
	cfg, src := watchConfig(t)
	fb := &fakeBuilder{blockCall: 2, release: make(chan struct{})}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build})
	startWatcher(t, w, fb)

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.md"), []byte("# A\n"), 0644))
	require.Eventually(t, func() bool { return fb.count() == 2 }, waitFor, tick)

	require.NoError(t, os.WriteFile(filepath.Join(src, "b.md"), []byte("# B\n"), 0644))
	sw := w.sites[0]
	require.Eventually(t, func() bool {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		return sw.pending
	}, waitFor, tick)
	assert.True(t, w.GetStatus()["docs"].Rebuilding)

	close(fb.release)
	require.Eventually(t, func() bool { return fb.count() == 3 }, waitFor, tick)
	assert.Equal(t, int32(1), fb.maxActive.Load(), "one rebuild per site at a time")
}

func TestWatcher_RunDueSites(t *testing.T) {
	cfg, _ := watchConfig(t)
	fb := &fakeBuilder{}
	w := NewWatcher(cfg, []string{"docs"}, testLogEntry(), &Options{Build: fb.build, Interval: time.Hour})
	require.NoError(t, w.setupSites())
	w.ctx = context.Background()

	w.runDueSites()
	require.Eventually(t, func() bool { return fb.count() == 1 }, waitFor, tick)
	w.shutdown()

	st, ok := w.stateManager.GetSiteState("docs")
	require.True(t, ok)
	assert.Equal(t, TriggerInterval, st.Trigger)

	w.runDueSites()
	assert.Equal(t, 1, fb.count(), "site just built is not due")
	assert.False(t, w.GetStatus()["docs"].NextRunTime.IsZero())
}

func TestWatcher_UnknownSite(t *testing.T) {
	cfg, _ := watchConfig(t)
	w := NewWatcher(cfg, []string{"missing"}, testLogEntry(), &Options{Build: (&fakeBuilder{}).build})
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}
