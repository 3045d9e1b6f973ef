package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
	"github.com/Sriram-PR/doc-site/pkg/site"
	"github.com/Sriram-PR/doc-site/pkg/storage"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// SiteResult contains the result of building a single site
type SiteResult struct {
	SiteKey            string        `json:"site_key"`
	Success            bool          `json:"success"`
	Error              error         `json:"-"`
	ErrorMessage       string        `json:"error,omitempty"`
	DocumentsRendered  int64         `json:"documents_rendered"`
	DocumentsUnchanged int64         `json:"documents_unchanged"`
	DocumentsFailed    int64         `json:"documents_failed"`
	FailedDocuments    []string      `json:"failed_documents,omitempty"` // Source paths, sorted
	AssetsCopied       int64         `json:"assets_copied"`
	Duration           time.Duration `json:"duration"`
}

// Options contains optional parameters for NewOrchestrator
type Options struct {
	// Recorder receives build metrics for every site. Defaults to metrics.NoopRecorder.
	Recorder metrics.Recorder
	// StatusLog writes "<state_dir>/<site>_build_status.tsv" after each build.
	StatusLog bool
}

// Orchestrator manages parallel builds of multiple sites
type Orchestrator struct {
	appCfg      *config.AppConfig
	log         *logrus.Entry
	siteKeys    []string
	incremental bool
	statusLog   bool
	recorder    metrics.Recorder

	// Shared across all builders
	fileSemaphore *semaphore.Weighted

	// Live builders, for progress reporting
	builders   map[string]*site.Builder
	buildersMu sync.Mutex

	// Results
	results   []SiteResult
	resultsMu sync.Mutex

	// Coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a new orchestrator for parallel site builds.
// The parent context bounds every build started by Run.
func NewOrchestrator(parent context.Context, appCfg *config.AppConfig, siteKeys []string, incremental bool, log *logrus.Entry, opts *Options) *Orchestrator {
	if opts == nil {
		opts = &Options{}
	}
	ctx, cancel := context.WithCancel(parent)

	limit := appCfg.MaxConcurrentFiles
	if limit <= 0 {
		limit = 1
	}

	return &Orchestrator{
		appCfg:        appCfg,
		log:           log,
		siteKeys:      siteKeys,
		incremental:   incremental || appCfg.EnableIncremental,
		statusLog:     opts.StatusLog,
		recorder:      metrics.OrNoop(opts.Recorder),
		fileSemaphore: semaphore.NewWeighted(int64(limit)),
		builders:      make(map[string]*site.Builder, len(siteKeys)),
		results:       make([]SiteResult, 0, len(siteKeys)),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Run builds all sites in parallel and waits for completion.
// Results are sorted by site key.
func (o *Orchestrator) Run() []SiteResult {
	startTime := time.Now()
	o.log.Infof("Starting parallel build of %d sites: %v", len(o.siteKeys), o.siteKeys)

	var wg sync.WaitGroup

	for _, siteKey := range o.siteKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result := o.buildSite(key)
			if result.Error != nil {
				result.ErrorMessage = result.Error.Error()
			}
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}(siteKey)
	}

	wg.Wait()

	o.resultsMu.Lock()
	sort.Slice(o.results, func(i, j int) bool { return o.results[i].SiteKey < o.results[j].SiteKey })
	results := make([]SiteResult, len(o.results))
	copy(results, o.results)
	o.resultsMu.Unlock()

	o.logSummary(results, time.Since(startTime))
	return results
}

// buildSite builds a single site with shared resources
func (o *Orchestrator) buildSite(siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{
		SiteKey: siteKey,
	}

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site '%s' not found in configuration", siteKey)
		o.log.Errorf("Site '%s' not found in configuration", siteKey)
		return result
	}
	siteLog := o.log.WithField("site_key", siteKey)

	siteCtx, siteCancel := context.WithCancel(o.ctx)
	defer siteCancel()

	store, err := storage.NewBadgerStore(siteCtx, o.appCfg.StateDir, siteKey, o.incremental, siteLog.WithField("component", "storage"))
	if err != nil {
		result.Error = fmt.Errorf("failed to create store for '%s': %w", siteKey, err)
		siteLog.Errorf("Failed to create store: %v", err)
		return result
	}
	defer func() {
		if err := store.Close(); err != nil {
			siteLog.Errorf("Error closing build state database: %v", err)
		}
	}()
	go store.RunGC(siteCtx, o.appCfg.DBGCInterval)

	opts := &site.BuilderOptions{
		SharedSemaphore: o.fileSemaphore,
		Incremental:     o.incremental,
		Store:           store,
		Recorder:        o.recorder,
	}
	b, err := site.NewBuilder(o.appCfg, &siteCfg, siteKey, o.log, opts)
	if err != nil {
		result.Error = fmt.Errorf("failed to create builder for '%s': %w", siteKey, err)
		siteLog.Errorf("Failed to create builder: %v", err)
		return result
	}
	o.trackBuilder(siteKey, b)
	defer o.untrackBuilder(siteKey)

	siteLog.Info("Starting build")
	if err := b.Run(siteCtx); err != nil {
		result.Error = err
		siteLog.Errorf("Build failed: %v", err)
	} else {
		result.Success = true
		siteLog.Info("Build completed")
	}

	if o.statusLog {
		statusPath := filepath.Join(o.appCfg.StateDir, utils.SanitizeFilename(siteKey)+"_build_status.tsv")
		if err := store.WriteStatusLog(statusPath); err != nil {
			siteLog.Warnf("Failed to write build status log: %v", err)
		}
	}

	progress := b.GetProgress()
	if progress.DocumentsFailed > 0 {
		failed, err := store.ListFailed(context.Background())
		if err != nil {
			siteLog.Warnf("Failed to list failed documents: %v", err)
		}
		for _, relPath := range failed {
			siteLog.WithField("document", relPath).Warn("Document failed to build")
		}
		result.FailedDocuments = failed
	}
	if count, err := store.GetEntryCount(); err == nil {
		siteLog.Debugf("Build state tracks %d documents", count)
	}

	result.DocumentsRendered = progress.DocumentsRendered
	result.DocumentsUnchanged = progress.DocumentsUnchanged
	result.DocumentsFailed = progress.DocumentsFailed
	result.AssetsCopied = progress.AssetsCopied
	result.Duration = time.Since(startTime)

	return result
}

func (o *Orchestrator) trackBuilder(siteKey string, b *site.Builder) {
	o.buildersMu.Lock()
	o.builders[siteKey] = b
	o.buildersMu.Unlock()
}

func (o *Orchestrator) untrackBuilder(siteKey string) {
	o.buildersMu.Lock()
	delete(o.builders, siteKey)
	o.buildersMu.Unlock()
}

// Cancel cancels all running builds
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all builds...")
	o.cancel()
}

// GetProgress returns the progress of every site that is building or has finished
func (o *Orchestrator) GetProgress() []site.BuildProgress {
	progress := make([]site.BuildProgress, 0, len(o.siteKeys))

	o.buildersMu.Lock()
	for _, b := range o.builders {
		progress = append(progress, b.GetProgress())
	}
	o.buildersMu.Unlock()

	o.resultsMu.Lock()
	for _, r := range o.results {
		progress = append(progress, site.BuildProgress{
			SiteKey:            r.SiteKey,
			DocumentsRendered:  r.DocumentsRendered,
			DocumentsUnchanged: r.DocumentsUnchanged,
			DocumentsFailed:    r.DocumentsFailed,
			AssetsCopied:       r.AssetsCopied,
		})
	}
	o.resultsMu.Unlock()

	sort.Slice(progress, func(i, j int) bool { return progress[i].SiteKey < progress[j].SiteKey })
	return progress
}

// logSummary logs a summary of all build results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Parallel build completed in %v", totalDuration)
	o.log.Info("Site Results:")

	var totalDocs int64
	successCount := 0
	failCount := 0

	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalDocs += r.DocumentsRendered + r.DocumentsUnchanged

		o.log.Infof("  %s: %s - %d rendered, %d unchanged, %d failed in %v",
			r.SiteKey, status, r.DocumentsRendered, r.DocumentsUnchanged, r.DocumentsFailed, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d documents",
		len(results), successCount, failCount, totalDocs)
	o.log.Info("============================================")
}

// AllSucceeded reports whether every result is a success
func AllSucceeded(results []SiteResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
