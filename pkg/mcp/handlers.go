package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/orchestrate"
	"github.com/Sriram-PR/doc-site/pkg/process"
	"github.com/Sriram-PR/doc-site/pkg/site"
	"github.com/Sriram-PR/doc-site/pkg/toc"
)

const (
	defaultDocumentName  = "document.md"
	defaultMaxResults    = 20
	maxSearchResults     = 200
	progressPollInterval = 500 * time.Millisecond
)

// handleListSites handles the list_sites tool
func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := orchestrate.GetAllSiteKeys(s.cfg.AppConfig)
	sites := make([]map[string]interface{}, 0, len(keys))

	for _, key := range keys {
		siteCfg := s.cfg.AppConfig.Sites[key]
		siteInfo := map[string]interface{}{
			"key":        key,
			"source_dir": siteCfg.SourceDir,
			"output_dir": siteCfg.OutputDir,
		}

		if meta, err := site.LoadMetadata(*s.cfg.AppConfig, siteCfg); err == nil {
			siteInfo["last_built"] = meta.BuildEndTime.Format(time.RFC3339)
			siteInfo["pages"] = len(meta.Pages)
			siteInfo["documents_failed"] = meta.DocumentsFailed
		}

		if s.jobManager.IsRunning(key) {
			siteInfo["status"] = "building"
		}

		sites = append(sites, siteInfo)
	}

	result := map[string]interface{}{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleExtractTOC handles the extract_toc tool
func (s *Server) handleExtractTOC(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	markdown, ok := stringArg(request, "markdown")
	if !ok {
		return mcp.NewToolResultError("markdown parameter is required"), nil
	}
	title := request.GetString("toc_title", config.GetEffectiveTOCTitle(config.SiteConfig{}, *s.cfg.AppConfig))

	headings := toc.ExtractHeadings(markdown)
	if headings == nil {
		headings = []toc.Heading{}
	}
	outline := toc.BuildOutline(headings)
	if outline == nil {
		outline = toc.Outline{}
	}

	result := map[string]interface{}{
		"heading_count": len(headings),
		"headings":      headings,
		"outline":       outline,
		"max_depth":     outline.Depth(),
		"toc_html":      toc.BuildMarkup(headings, toc.Options{Title: title}),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRenderMarkdown handles the render_markdown tool
func (s *Server) handleRenderMarkdown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	markdown, ok := stringArg(request, "markdown")
	if !ok {
		return mcp.NewToolResultError("markdown parameter is required"), nil
	}
	name := request.GetString("name", defaultDocumentName)
	fullPage := request.GetBool("full_page", false)

	var siteCfg config.SiteConfig
	if siteKey := request.GetString("site_key", ""); siteKey != "" {
		cfg, exists := s.cfg.AppConfig.Sites[siteKey]
		if !exists {
			return mcp.NewToolResultError(fmt.Sprintf("site '%s' not found. Available sites: %v", siteKey, orchestrate.GetAllSiteKeys(s.cfg.AppConfig))), nil
		}
		siteCfg = cfg
	}

	processor, err := process.NewDocumentProcessorFromConfig(*s.cfg.AppConfig, siteCfg, s.log)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set up renderer: %v", err)), nil
	}
	doc, err := processor.Process([]byte(markdown), name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render: %v", err)), nil
	}

	result := map[string]interface{}{
		"title":         doc.Title,
		"heading_count": len(doc.Headings),
		"toc_html":      doc.TOC,
		"body_html":     doc.Body,
		"link_count":    doc.LinkCount,
		"image_count":   doc.ImageCount,
	}
	if doc.TokenCount >= 0 {
		result["token_count"] = doc.TokenCount
	}
	if fullPage {
		result["page_html"] = doc.Page
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleBuildSite handles the build_site tool
func (s *Server) handleBuildSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}

	incremental := request.GetBool("incremental", false)

	if _, exists := s.cfg.AppConfig.Sites[siteKey]; !exists {
		return mcp.NewToolResultError(fmt.Sprintf("site '%s' not found. Available sites: %v", siteKey, orchestrate.GetAllSiteKeys(s.cfg.AppConfig))), nil
	}

	job, created := s.jobManager.StartJob(siteKey, incremental)
	if !created {
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "A build is already in progress for this site",
			"job_id":   job.ID,
			"site_key": siteKey,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.jobs.Add(1)
	go s.runBuildJob(job.ID, siteKey, incremental)

	result := map[string]interface{}{
		"status":      "started",
		"message":     "Build started successfully",
		"job_id":      job.ID,
		"site_key":    siteKey,
		"incremental": incremental,
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.Snapshot(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":              job.ID,
		"site_key":            job.SiteKey,
		"status":              job.Status,
		"started_at":          job.StartedAt.Format(time.RFC3339),
		"documents_rendered":  job.DocumentsRendered,
		"documents_unchanged": job.DocumentsUnchanged,
		"documents_failed":    job.DocumentsFailed,
		"incremental":         job.Incremental,
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}

	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()
	entries := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		entry := map[string]interface{}{
			"job_id":      job.ID,
			"site_key":    job.SiteKey,
			"status":      job.Status,
			"started_at":  job.StartedAt.Format(time.RFC3339),
			"incremental": job.Incremental,
		}
		if !job.CompletedAt.IsZero() {
			entry["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}

	result := map[string]interface{}{
		"jobs":  entries,
		"count": len(entries),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.Snapshot(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	if !s.jobManager.CancelJob(jobID) {
		result := map[string]interface{}{
			"job_id":  jobID,
			"status":  job.Status,
			"message": "Job already finished",
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.log.WithField("job_id", jobID).Info("Build job cancelled")
	result := map[string]interface{}{
		"job_id":   jobID,
		"site_key": job.SiteKey,
		"status":   JobStatusCancelled,
		"message":  "Job cancelled",
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchHeadings handles the search_headings tool
func (s *Server) handleSearchHeadings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	siteKey := request.GetString("site_key", "")
	maxResults := request.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	keys := orchestrate.GetAllSiteKeys(s.cfg.AppConfig)
	if siteKey != "" {
		if _, exists := s.cfg.AppConfig.Sites[siteKey]; !exists {
			return mcp.NewToolResultError(fmt.Sprintf("site '%s' not found", siteKey)), nil
		}
		keys = []string{siteKey}
	}

	results := s.searchHeadings(query, keys, maxResults)

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if siteKey != "" {
		response["site_key"] = siteKey
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// runBuildJob builds one site in the background and records the outcome on the job
func (s *Server) runBuildJob(jobID, siteKey string, incremental bool) {
	defer s.jobs.Done()
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")

	jobCtx := s.jobManager.Context(jobID)
	orch := orchestrate.NewOrchestrator(jobCtx, s.cfg.AppConfig, []string{siteKey}, incremental, s.log, &orchestrate.Options{Recorder: s.cfg.Recorder})

	stop := make(chan struct{})
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		s.trackProgress(jobID, orch, stop)
	}()
	results := orch.Run()
	close(stop)
	<-tracked

	if len(results) == 0 {
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, "build produced no result")
		return
	}
	r := results[0]
	s.jobManager.UpdateProgress(jobID, r.DocumentsRendered, r.DocumentsUnchanged, r.DocumentsFailed)

	switch {
	case r.Success:
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	case errors.Is(r.Error, context.Canceled):
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, r.ErrorMessage)
	}
}

// trackProgress copies the orchestrator's live counters onto the job until stop is closed
func (s *Server) trackProgress(jobID string, orch *orchestrate.Orchestrator, stop <-chan struct{}) {
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, p := range orch.GetProgress() {
				s.jobManager.UpdateProgress(jobID, p.DocumentsRendered, p.DocumentsUnchanged, p.DocumentsFailed)
			}
		}
	}
}

// searchHeadings matches query against the outlines recorded in each site's build metadata
func (s *Server) searchHeadings(query string, siteKeys []string, maxResults int) []map[string]interface{} {
	results := make([]map[string]interface{}, 0)
	queryLower := strings.ToLower(query)

	for _, key := range siteKeys {
		meta, err := site.LoadMetadata(*s.cfg.AppConfig, s.cfg.AppConfig.Sites[key])
		if err != nil {
			continue // Not built yet
		}
		for _, page := range meta.Pages {
			for _, h := range flattenOutline(page.Outline) {
				if !strings.Contains(strings.ToLower(h.Text), queryLower) {
					continue
				}
				results = append(results, map[string]interface{}{
					"site_key":    key,
					"source_path": page.SourcePath,
					"page_title":  page.Title,
					"heading":     h.Text,
					"level":       h.Level,
					"id":          h.ID,
					"url":         "/" + key + "/" + page.OutputPath + "#" + h.ID,
				})
				if len(results) >= maxResults {
					return results
				}
			}
		}
	}

	return results
}

// flattenOutline returns the headings of an outline in document order
func flattenOutline(outline toc.Outline) []toc.Heading {
	var headings []toc.Heading
	var walk func(nodes toc.Outline)
	walk = func(nodes toc.Outline) {
		for _, n := range nodes {
			headings = append(headings, n.Heading)
			walk(n.Children)
		}
	}
	walk(outline)
	return headings
}

// stringArg returns a string argument, distinguishing an empty value from a missing one
func stringArg(request mcp.CallToolRequest, key string) (string, bool) {
	v, exists := request.GetArguments()[key]
	if !exists {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
