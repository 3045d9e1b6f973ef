// Package site builds one configured documentation tree into a static HTML site.
package site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
	"github.com/Sriram-PR/doc-site/pkg/models"
	"github.com/Sriram-PR/doc-site/pkg/process"
	"github.com/Sriram-PR/doc-site/pkg/storage"
	"github.com/Sriram-PR/doc-site/pkg/toc"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// progressInterval is how often a running build logs its counters
const progressInterval = 10 * time.Second

// Builder builds the site for a single configured source tree
type Builder struct {
	log             *logrus.Entry // Logger contextualized with site_key
	appCfg          *config.AppConfig
	siteCfg         *config.SiteConfig
	siteKey         string
	sourceDir       string // Absolute
	outputDir       string // Absolute
	incremental     bool
	exclude         map[string]bool
	excludePatterns utils.PathPatterns
	docExts         map[string]bool
	skipDirs        []string        // Absolute directories never walked (output, state)
	controlFiles    map[string]bool // Bookkeeping files owned by the OutputManager

	// Core components
	store            storage.BuildStore // nil disables build state tracking
	processor        *process.DocumentProcessor
	titleFromHeading bool
	output           *OutputManager
	recorder         metrics.Recorder

	// Concurrency control
	fileSemaphore *semaphore.Weighted

	// Tracking
	rendered     atomic.Int64
	unchanged    atomic.Int64
	failed       atomic.Int64
	assetsCopied atomic.Int64
	assetsFailed atomic.Int64
	running      atomic.Bool
}

// BuilderOptions contains optional parameters for NewBuilder
type BuilderOptions struct {
	// SharedSemaphore caps concurrent file work across several builders.
	// If nil, the builder creates its own from appCfg.MaxConcurrentFiles.
	SharedSemaphore *semaphore.Weighted
	// Incremental skips documents whose content hash matches the store.
	Incremental bool
	// Store records per-document build state. Required for incremental builds.
	Store storage.BuildStore
	// Recorder receives build metrics. Defaults to metrics.NoopRecorder.
	Recorder metrics.Recorder
}

// BuildProgress contains progress information for a builder
type BuildProgress struct {
	SiteKey            string `json:"site_key"`
	DocumentsRendered  int64  `json:"documents_rendered"`
	DocumentsUnchanged int64  `json:"documents_unchanged"`
	DocumentsFailed    int64  `json:"documents_failed"`
	AssetsCopied       int64  `json:"assets_copied"`
	AssetsFailed       int64  `json:"assets_failed"`
	IsRunning          bool   `json:"is_running"`
}

// NewBuilder creates a Builder for one site. Both configs must already be validated.
func NewBuilder(
	appCfg *config.AppConfig,
	siteCfg *config.SiteConfig,
	siteKey string,
	baseLogger *logrus.Entry,
	opts *BuilderOptions,
) (*Builder, error) {
	if opts == nil {
		opts = &BuilderOptions{}
	}
	logger := baseLogger.WithField("site_key", siteKey)

	sourceDir, err := filepath.Abs(siteCfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving source_dir '%s': %w", utils.ErrFilesystem, siteCfg.SourceDir, err)
	}
	outputDir, err := filepath.Abs(siteCfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving output_dir '%s': %w", utils.ErrFilesystem, siteCfg.OutputDir, err)
	}

	compiledPatterns, err := utils.CompilePathPatterns(siteCfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude patterns for site '%s': %w", siteKey, err)
	}
	if len(compiledPatterns) > 0 {
		logger.Debugf("Compiled %d exclude patterns.", len(compiledPatterns))
	}

	processor, err := process.NewDocumentProcessorFromConfig(*appCfg, *siteCfg, logger.WithField("component", "process"))
	if err != nil {
		return nil, fmt.Errorf("creating document processor for site '%s': %w", siteKey, err)
	}

	if opts.Incremental && opts.Store == nil {
		logger.Warn("Incremental build requested without a state store; building everything.")
	}

	fileSem := opts.SharedSemaphore
	if fileSem == nil {
		limit := appCfg.MaxConcurrentFiles
		if limit <= 0 {
			limit = 1
		}
		fileSem = semaphore.NewWeighted(int64(limit))
	} else {
		logger.Debug("Using shared file semaphore")
	}

	exclude := make(map[string]bool)
	for _, name := range config.GetEffectiveExclude(*siteCfg, *appCfg) {
		exclude[name] = true
	}

	exts := appCfg.DocumentExtensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	docExts := make(map[string]bool, len(exts))
	for _, ext := range exts {
		docExts[strings.ToLower(ext)] = true
	}

	skipDirs := []string{outputDir}
	if appCfg.StateDir != "" {
		if absState, err := filepath.Abs(appCfg.StateDir); err == nil {
			skipDirs = append(skipDirs, absState)
		}
	}

	b := &Builder{
		log:              logger,
		appCfg:           appCfg,
		siteCfg:          siteCfg,
		siteKey:          siteKey,
		sourceDir:        sourceDir,
		outputDir:        outputDir,
		incremental:      opts.Incremental && opts.Store != nil,
		exclude:          exclude,
		excludePatterns:  compiledPatterns,
		docExts:          docExts,
		skipDirs:         skipDirs,
		store:            opts.Store,
		processor:        processor,
		titleFromHeading: config.GetEffectiveTitleFromHeading(*siteCfg, *appCfg),
		recorder:         metrics.OrNoop(opts.Recorder),
		fileSemaphore:    fileSem,
	}
	b.output = NewOutputManager(logger, appCfg, siteCfg, outputDir)
	b.controlFiles = make(map[string]bool)
	for _, name := range b.output.ControlFiles() {
		b.controlFiles[name] = true
	}
	return b, nil
}

// GetProgress returns the current progress of the builder
func (b *Builder) GetProgress() BuildProgress {
	return BuildProgress{
		SiteKey:            b.siteKey,
		DocumentsRendered:  b.rendered.Load(),
		DocumentsUnchanged: b.unchanged.Load(),
		DocumentsFailed:    b.failed.Load(),
		AssetsCopied:       b.assetsCopied.Load(),
		AssetsFailed:       b.assetsFailed.Load(),
		IsRunning:          b.running.Load(),
	}
}

// Run builds the site and blocks until completion or cancellation.
// A build where some files failed still writes every other page and returns an
// error wrapping utils.ErrBuildIncomplete.
func (b *Builder) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	startTime := time.Now()
	meta := models.SiteMetadata{
		SiteKey:        b.siteKey,
		BuildID:        uuid.NewString(),
		SourceDir:      b.sourceDir,
		OutputDir:      b.outputDir,
		Incremental:    b.incremental,
		BuildStartTime: startTime,
	}
	runLog := b.log.WithFields(logrus.Fields{"build_id": meta.BuildID, "incremental": b.incremental})
	runLog.Infof("Build starting with %d worker(s): %s -> %s", b.appCfg.NumWorkers, b.sourceDir, b.outputDir)

	// --- Clean/Prepare Output Directory ---
	if !b.incremental && config.GetEffectiveCleanOutput(*b.siteCfg, *b.appCfg) {
		if err := b.cleanOutputDir(); err != nil {
			b.finishOutcome(startTime, "failed")
			return err
		}
	}
	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		b.finishOutcome(startTime, "failed")
		return fmt.Errorf("%w: creating output dir '%s' for site '%s': %w", utils.ErrFilesystem, b.outputDir, b.siteKey, err)
	}
	b.output.OpenFiles()

	// --- Collect Work ---
	items, err := b.collectItems(ctx)
	if err != nil {
		b.output.closeMappingFile()
		if ctx.Err() != nil {
			b.finishOutcome(startTime, "canceled")
			return ctx.Err()
		}
		b.finishOutcome(startTime, "failed")
		return err
	}
	runLog.Infof("Found %d files to process.", len(items))

	if b.incremental {
		b.removeStaleOutputs(ctx, items)
	}

	// --- Process Files ---
	progressDone := make(chan struct{})
	go b.reportProgress(ctx, progressDone)
	workErr := b.runWorkers(ctx, items)
	close(progressDone)

	// --- Write Bookkeeping Files ---
	meta.BuildEndTime = time.Now()
	meta.DocumentsRendered = int(b.rendered.Load())
	meta.DocumentsUnchanged = int(b.unchanged.Load())
	meta.DocumentsFailed = int(b.failed.Load())
	meta.AssetsCopied = int(b.assetsCopied.Load())
	meta.AssetsFailed = int(b.assetsFailed.Load())
	if err := b.output.Close(meta); err != nil {
		runLog.Errorf("Failed to write build metadata: %v", err)
	}
	if err := b.output.WriteSitemap(); err != nil {
		runLog.Errorf("Failed to write sitemap: %v", err)
	}
	if err := b.output.WriteStructureFile(); err != nil {
		runLog.Warnf("Failed to write structure file: %v", err)
	}

	// --- Final Summary Logging ---
	duration := time.Since(startTime)
	summaryLog := b.log.WithField("build_id", meta.BuildID)
	summaryLog.Info("========================================================================")
	summaryLog.Info("BUILD FINISHED")
	summaryLog.Infof("Duration:         %v", duration)
	summaryLog.Infof("Documents: rendered %d, unchanged %d, failed %d; Assets: copied %d, failed %d",
		meta.DocumentsRendered, meta.DocumentsUnchanged, meta.DocumentsFailed, meta.AssetsCopied, meta.AssetsFailed)
	summaryLog.Infof("Pages in site:    %d", b.output.PagesRecorded())
	summaryLog.Info("========================================================================")

	switch {
	case ctx.Err() != nil:
		b.finishOutcome(startTime, "canceled")
		return ctx.Err()
	case workErr != nil:
		b.finishOutcome(startTime, "failed")
		return workErr
	case meta.DocumentsFailed > 0 || meta.AssetsFailed > 0:
		b.finishOutcome(startTime, "incomplete")
		return fmt.Errorf("%w: site '%s': %d document(s) and %d asset(s) failed",
			utils.ErrBuildIncomplete, b.siteKey, meta.DocumentsFailed, meta.AssetsFailed)
	}
	b.finishOutcome(startTime, "success")
	return nil
}

// finishOutcome reports the build duration and outcome to the recorder.
func (b *Builder) finishOutcome(startTime time.Time, outcome string) {
	b.recorder.ObserveBuildDuration(b.siteKey, time.Since(startTime))
	b.recorder.IncBuildOutcome(b.siteKey, outcome)
	b.recorder.SetLastBuildTimestamp(b.siteKey, time.Now())
}

// reportProgress logs build counters periodically until done is closed.
func (b *Builder) reportProgress(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := b.GetProgress()
			b.log.WithFields(logrus.Fields{
				"rendered":  p.DocumentsRendered,
				"unchanged": p.DocumentsUnchanged,
				"failed":    p.DocumentsFailed,
				"assets":    p.AssetsCopied,
			}).Info("Build Progress")
		}
	}
}

// cleanOutputDir removes the site output directory after an absolute-path safety check.
// The filesystem root, the source directory and any parent of it are never removed.
func (b *Builder) cleanOutputDir() error {
	out := b.outputDir
	root := filepath.VolumeName(out) + string(filepath.Separator)
	if out == root || utils.IsWithinDir(out, b.sourceDir) {
		err := fmt.Errorf("%w: would not remove '%s' (source dir '%s')", utils.ErrUnsafeOutputDir, out, b.sourceDir)
		b.log.Error(err)
		return err
	}

	b.log.Infof("Removing existing output directory: %s", out)
	if err := os.RemoveAll(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove output dir '%s': %w", utils.ErrFilesystem, out, err)
	}
	return nil
}

// collectItems walks the source tree, mirrors its directories into the output
// directory, and returns the files to process.
func (b *Builder) collectItems(ctx context.Context) ([]models.WorkItem, error) {
	var items []models.WorkItem

	walkErr := filepath.WalkDir(b.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == b.sourceDir {
				return err
			}
			b.log.Warnf("Skipping unreadable entry '%s': %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == b.sourceDir {
			return nil
		}

		rel, err := filepath.Rel(b.sourceDir, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if b.isExcluded(d.Name(), relSlash, true) || b.isSkippedDir(path) {
				b.log.Debugf("Skipping directory: %s", relSlash)
				return filepath.SkipDir
			}
			if err := os.MkdirAll(filepath.Join(b.outputDir, rel), 0755); err != nil {
				return fmt.Errorf("%w: mirroring directory '%s': %w", utils.ErrFilesystem, relSlash, err)
			}
			return nil
		}

		if b.isExcluded(d.Name(), relSlash, false) {
			b.log.Debugf("Skipping file: %s", relSlash)
			return nil
		}
		if b.controlFiles[relSlash] {
			b.log.Warnf("Skipping '%s': the name is reserved for build bookkeeping in the output root", relSlash)
			return nil
		}

		kind := models.KindAsset
		if b.docExts[strings.ToLower(filepath.Ext(d.Name()))] {
			kind = models.KindDocument
		}
		items = append(items, models.WorkItem{SourcePath: path, RelPath: relSlash, Kind: kind})
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		if errors.Is(walkErr, utils.ErrFilesystem) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("%w: walking source dir '%s': %w", utils.ErrFilesystem, b.sourceDir, walkErr)
	}
	return items, nil
}

// isExcluded reports whether an entry is dropped by name or by an exclude pattern
func (b *Builder) isExcluded(name, relSlash string, isDir bool) bool {
	return b.exclude[name] || b.excludePatterns.Match(relSlash, isDir)
}

func (b *Builder) isSkippedDir(path string) bool {
	for _, dir := range b.skipDirs {
		if path == dir {
			return true
		}
	}
	return false
}

// removeStaleOutputs drops state for documents no longer in the source tree and
// deletes the pages they produced.
func (b *Builder) removeStaleOutputs(ctx context.Context, items []models.WorkItem) {
	present := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Kind == models.KindDocument {
			present[item.RelPath] = true
		}
	}

	removed, err := b.store.PruneMissing(ctx, present)
	if err != nil {
		b.log.Warnf("Failed to prune state for removed documents: %v", err)
	}
	for relPath, entry := range removed {
		if entry.OutputPath == "" {
			continue
		}
		stale := filepath.Join(b.outputDir, filepath.FromSlash(entry.OutputPath))
		if !utils.IsWithinDir(b.outputDir, stale) {
			b.log.Warnf("Ignoring stale output outside the output dir: %s", stale)
			continue
		}
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.log.Warnf("Failed to remove stale page '%s': %v", stale, err)
			continue
		}
		b.log.Infof("Removed stale page for deleted document '%s': %s", relPath, entry.OutputPath)
	}
}

// runWorkers processes items with at most num_workers in flight.
// Only cancellation stops the group; per-file failures are recorded and counted.
func (b *Builder) runWorkers(ctx context.Context, items []models.WorkItem) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := b.appCfg.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := b.fileSemaphore.Acquire(gctx, 1); err != nil {
				return err
			}
			defer b.fileSemaphore.Release(1)

			switch item.Kind {
			case models.KindDocument:
				b.processDocument(item)
			default:
				b.processAsset(item)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// outputRelPath maps a document's source path to its page path, both slash-separated.
func outputRelPath(relPath string) string {
	return utils.ReplaceExt(relPath, ".html")
}

// processDocument renders one source document and records its outcome.
func (b *Builder) processDocument(item models.WorkItem) {
	taskLog := b.log.WithField("document", item.RelPath)
	startTime := time.Now()
	outRel := outputRelPath(item.RelPath)
	outPath := filepath.Join(b.outputDir, filepath.FromSlash(outRel))

	var taskErr error      // First error encountered in the pipeline
	var unchanged bool     // Skipped by an incremental build
	var contentHash string // SHA-256 of the source bytes

	// Deferred function for panic recovery, outcome logging and the DB update.
	defer func() {
		panicked := false
		if r := recover(); r != nil {
			panicked = true
			unchanged = false
			taskErr = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processDocument")
		}

		logFields := logrus.Fields{"duration": time.Since(startTime).String()}
		entry := &models.PageDBEntry{LastAttempt: time.Now()}

		switch {
		case taskErr != nil:
			entry.Status = models.PageStatusFailure
			entry.ErrorType = utils.CategorizeError(taskErr)
			logFields["category"] = entry.ErrorType
			b.failed.Add(1)
			b.recorder.IncDocument(b.siteKey, metrics.DocumentFailed)
			if !panicked {
				taskLog.WithFields(logFields).Warnf("Document failed: %v", taskErr)
			}
		case unchanged:
			b.unchanged.Add(1)
			b.recorder.IncDocument(b.siteKey, metrics.DocumentUnchanged)
			taskLog.WithFields(logFields).Debug("Document unchanged (hash match) - skipped")
			return
		default:
			entry.Status = models.PageStatusSuccess
			entry.ContentHash = contentHash
			entry.OutputPath = outRel
			entry.BuiltAt = entry.LastAttempt
			logFields["output"] = outRel
			b.rendered.Add(1)
			b.recorder.IncDocument(b.siteKey, metrics.DocumentRendered)
			taskLog.WithFields(logFields).Info("Document built")
		}

		if b.store != nil {
			if err := b.store.UpdatePageStatus(item.RelPath, entry); err != nil {
				taskLog.Errorf("Failed to update build state for '%s' to '%s': %v", item.RelPath, entry.Status, err)
			}
		}
	}()

	src, err := os.ReadFile(item.SourcePath)
	if err != nil {
		taskErr = fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, item.RelPath, err)
		return
	}
	contentHash = utils.CalculateBytesSHA256(src)

	if b.incremental {
		if previous, ok := b.unchangedEntry(item.RelPath, outPath, contentHash, taskLog); ok {
			unchanged = true
			headings := toc.ExtractHeadings(string(src))
			b.output.RecordPage(models.PageMetadata{
				SourcePath:   item.RelPath,
				OutputPath:   outRel,
				Title:        process.DocumentTitle(item.RelPath, headings, b.titleFromHeading),
				HeadingCount: len(headings),
				Outline:      toc.BuildOutline(headings),
				ContentHash:  contentHash,
				BuiltAt:      previous.BuiltAt,
				Unchanged:    true,
			}, taskLog)
			return
		}
	}

	renderStart := time.Now()
	doc, err := b.processor.Process(src, item.RelPath)
	b.recorder.ObserveRenderDuration(time.Since(renderStart))
	if err != nil {
		taskErr = err
		return
	}

	if err := process.WriteOutput(outPath, []byte(doc.Page)); err != nil {
		taskErr = err
		return
	}

	tokenCount := doc.TokenCount
	if tokenCount < 0 {
		tokenCount = 0
	}
	b.output.RecordPage(models.PageMetadata{
		SourcePath:   item.RelPath,
		OutputPath:   outRel,
		Title:        doc.Title,
		HeadingCount: len(doc.Headings),
		Outline:      doc.Outline,
		ContentHash:  contentHash,
		TokenCount:   tokenCount,
		LinkCount:    doc.LinkCount,
		ImageCount:   doc.ImageCount,
		BuiltAt:      time.Now(),
	}, taskLog)
}

// unchangedEntry returns the stored entry when the last successful build used the
// same source bytes and its page is still on disk.
func (b *Builder) unchangedEntry(relPath, outPath, contentHash string, taskLog *logrus.Entry) (*models.PageDBEntry, bool) {
	status, entry, err := b.store.CheckPageStatus(relPath)
	if err != nil {
		taskLog.Warnf("Failed to check build state for incremental build: %v", err)
		return nil, false
	}
	if !status.Reusable() || entry == nil || entry.ContentHash != contentHash {
		return nil, false
	}
	if _, err := os.Stat(outPath); err != nil {
		taskLog.Debug("Source unchanged but page missing - will rebuild")
		return nil, false
	}
	return entry, true
}

// processAsset copies one non-document file into the output tree.
func (b *Builder) processAsset(item models.WorkItem) {
	taskLog := b.log.WithField("asset", item.RelPath)
	dstPath := filepath.Join(b.outputDir, filepath.FromSlash(item.RelPath))

	if b.incremental && utils.CopyIsCurrent(item.SourcePath, dstPath) {
		taskLog.Trace("Asset up to date - skipped")
		b.assetsCopied.Add(1)
		return
	}

	n, err := process.CopyAsset(item.SourcePath, dstPath)
	if err != nil {
		b.assetsFailed.Add(1)
		taskLog.WithField("category", utils.CategorizeError(err)).Warnf("Asset copy failed: %v", err)
		return
	}
	b.assetsCopied.Add(1)
	b.recorder.IncAssetCopied(b.siteKey)
	taskLog.Debugf("Copied asset (%d bytes)", n)
}
