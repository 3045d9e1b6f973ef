// Package watch rebuilds sites when their source trees change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
	"github.com/Sriram-PR/doc-site/pkg/orchestrate"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// Build triggers recorded in the watch state
const (
	TriggerInitial  = "initial"
	TriggerChange   = "change"
	TriggerInterval = "interval"
)

// BuildFunc builds the given sites and returns one result per site
type BuildFunc func(ctx context.Context, siteKeys []string) []orchestrate.SiteResult

// Options contains optional parameters for NewWatcher
type Options struct {
	// Debounce is the quiet period after the last change before a site rebuilds.
	// Defaults to appCfg.Watch.Debounce.
	Debounce time.Duration
	// Interval forces a rebuild of every site this long after its last build. Zero disables.
	Interval time.Duration
	// Incremental is passed to the orchestrator for every rebuild.
	Incremental bool
	// Recorder receives build metrics.
	Recorder metrics.Recorder
	// Build overrides the orchestrator-backed build, mainly for tests.
	Build BuildFunc
}

// siteWatch tracks the debounce timer and in-flight rebuild of one site
type siteWatch struct {
	key       string
	sourceDir string // Absolute
	patterns  utils.PathPatterns

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	pending bool
}

// Watcher rebuilds each site when files under its source directory change
type Watcher struct {
	appCfg       *config.AppConfig
	siteKeys     []string
	log          *logrus.Entry
	opts         Options
	build        BuildFunc
	stateManager *StateManager

	sites    []*siteWatch
	skipDirs []string // Absolute output and state directories
	exclude  map[string]bool
	fsw      *fsnotify.Watcher

	ctx     context.Context
	mu      sync.Mutex // Guards stopped and wg.Add
	stopped bool
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for the given sites. Call Run to start it.
func NewWatcher(appCfg *config.AppConfig, siteKeys []string, log *logrus.Entry, opts *Options) *Watcher {
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	if o.Debounce <= 0 {
		o.Debounce = appCfg.Watch.Debounce
	}
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}

	w := &Watcher{
		appCfg:       appCfg,
		siteKeys:     siteKeys,
		log:          log.WithField("component", "watch"),
		opts:         o,
		stateManager: NewStateManager(appCfg.StateDir),
		exclude:      make(map[string]bool),
	}
	w.build = o.Build
	if w.build == nil {
		w.build = w.orchestratedBuild
	}
	return w
}

// orchestratedBuild runs the sites through a fresh orchestrator
func (w *Watcher) orchestratedBuild(ctx context.Context, siteKeys []string) []orchestrate.SiteResult {
	orch := orchestrate.NewOrchestrator(ctx, w.appCfg, siteKeys, w.opts.Incremental, w.log, &orchestrate.Options{Recorder: w.opts.Recorder})
	return orch.Run()
}

// Run builds every site once, then watches the source trees until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.stateManager.Load(); err != nil {
		w.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}
	if err := w.setupSites(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: fsnotify: %w", utils.ErrFilesystem, err)
	}
	w.fsw = fsw
	defer fsw.Close()

	for _, sw := range w.sites {
		w.addDirsRecursive(sw.sourceDir)
	}
	w.ctx = ctx

	w.log.Infof("Watching %d sites (debounce %v)", len(w.sites), w.opts.Debounce)
	w.record(w.build(ctx, w.siteKeys), TriggerInitial)

	var tick <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(calculateTickInterval(w.opts.Interval))
		defer ticker.Stop()
		tick = ticker.C
		w.logNextRun()
	}

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				w.shutdown()
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.shutdown()
				return nil
			}
			w.log.Warnf("Watcher error: %v", err)
		case <-tick:
			w.runDueSites()
		}
	}
}

// setupSites resolves source, output, and state directories for every site
func (w *Watcher) setupSites() error {
	if w.appCfg.StateDir != "" {
		stateDir, err := filepath.Abs(w.appCfg.StateDir)
		if err != nil {
			return fmt.Errorf("%w: resolving state_dir: %w", utils.ErrFilesystem, err)
		}
		w.skipDirs = append(w.skipDirs, stateDir)
	}

	for _, key := range w.siteKeys {
		siteCfg, ok := w.appCfg.Sites[key]
		if !ok {
			return fmt.Errorf("%w: site '%s' not found in configuration", utils.ErrConfigValidation, key)
		}
		src, err := filepath.Abs(siteCfg.SourceDir)
		if err != nil {
			return fmt.Errorf("%w: resolving source_dir of '%s': %w", utils.ErrFilesystem, key, err)
		}
		out, err := filepath.Abs(siteCfg.OutputDir)
		if err != nil {
			return fmt.Errorf("%w: resolving output_dir of '%s': %w", utils.ErrFilesystem, key, err)
		}
		patterns, err := utils.CompilePathPatterns(siteCfg.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("site '%s': %w", key, err)
		}
		w.sites = append(w.sites, &siteWatch{key: key, sourceDir: src, patterns: patterns})
		w.skipDirs = append(w.skipDirs, out)
		for _, name := range config.GetEffectiveExclude(siteCfg, *w.appCfg) {
			w.exclude[name] = true
		}
	}
	return nil
}

// addDirsRecursive watches root and every directory below it, minus skipped ones
func (w *Watcher) addDirsRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (w.exclude[d.Name()] || w.isSkipped(path)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warnf("Watch add failed for %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) isSkipped(path string) bool {
	for _, dir := range w.skipDirs {
		if utils.IsWithinDir(dir, path) {
			return true
		}
	}
	return false
}

// handleEvent maps a filesystem event to the sites it belongs to
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || shouldIgnoreEvent(ev.Name) || w.isSkipped(ev.Name) {
		return
	}
	isDir := false
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			isDir = true
			if !w.exclude[fi.Name()] {
				w.addDirsRecursive(ev.Name)
			}
		}
	}

	for _, sw := range w.sites {
		if utils.IsWithinDir(sw.sourceDir, ev.Name) && !sw.excludes(ev.Name, isDir) {
			w.log.WithField("site_key", sw.key).Debugf("Change detected: %s %s", ev.Op, ev.Name)
			w.trigger(sw)
		}
	}
}

// excludes reports whether path falls under one of the site's exclude patterns
func (sw *siteWatch) excludes(path string, isDir bool) bool {
	if len(sw.patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(sw.sourceDir, path)
	if err != nil || rel == "." {
		return false
	}
	if sw.patterns.Match(rel, isDir) {
		return true
	}
	// Files inside an excluded directory
	for dir := filepath.Dir(rel); dir != "."; dir = filepath.Dir(dir) {
		if sw.patterns.Match(dir, true) {
			return true
		}
	}
	return false
}

// shouldIgnoreEvent reports editor swap files and other noise
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, ".#")
}

// trigger restarts the debounce timer of a site
func (w *Watcher) trigger(sw *siteWatch) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(w.opts.Debounce, func() {
		w.requestBuild(sw, TriggerChange)
	})
}

// requestBuild starts a rebuild, or marks one pending if a rebuild is in flight
func (w *Watcher) requestBuild(sw *siteWatch, trigger string) {
	sw.mu.Lock()
	if sw.running {
		sw.pending = true
		sw.mu.Unlock()
		return
	}
	sw.running = true
	sw.mu.Unlock()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		sw.mu.Lock()
		sw.running = false
		sw.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go w.rebuildLoop(sw, trigger)
}

// rebuildLoop rebuilds a site until no change arrived during the last build
func (w *Watcher) rebuildLoop(sw *siteWatch, trigger string) {
	defer w.wg.Done()
	for {
		w.log.WithField("site_key", sw.key).Infof("Rebuilding (%s)", trigger)
		w.record(w.build(w.ctx, []string{sw.key}), trigger)

		sw.mu.Lock()
		if sw.pending && w.ctx.Err() == nil {
			sw.pending = false
			sw.mu.Unlock()
			trigger = TriggerChange
			continue
		}
		sw.pending = false
		sw.running = false
		sw.mu.Unlock()
		return
	}
}

// record stores build results in the watch state
func (w *Watcher) record(results []orchestrate.SiteResult, trigger string) {
	for _, r := range results {
		w.stateManager.UpdateSiteState(r, trigger)
	}
	if err := w.stateManager.Save(); err != nil {
		w.log.Errorf("Failed to save watch state: %v", err)
	}
}

// shutdown stops pending timers and waits for in-flight rebuilds
func (w *Watcher) shutdown() {
	w.log.Info("Watcher shutting down...")
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	for _, sw := range w.sites {
		sw.mu.Lock()
		if sw.timer != nil {
			sw.timer.Stop()
		}
		sw.mu.Unlock()
	}
	w.wg.Wait()
}
