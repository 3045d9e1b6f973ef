package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/toc"
)

const sampleMarkdown = "# Guide\n\n## Install\n\n### From source!\n\n## Usage\n"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "guide"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.md"), []byte("# Home\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "guide", "setup.md"), []byte(sampleMarkdown), 0644))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	contents := "Contents"
	appCfg := &config.AppConfig{
		NumWorkers:         2,
		MaxConcurrentFiles: 2,
		StateDir:           filepath.Join(root, "state"),
		DocumentExtensions: []string{".md"},
		Sites: map[string]config.SiteConfig{
			"docs": {SourceDir: src, OutputDir: filepath.Join(root, "out"), TOC: config.TOCConfig{Title: &contents}},
		},
	}

	s, err := NewServer(&ServerConfig{AppConfig: appCfg, ConfigPath: "config.yaml", Transport: "stdio", Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func callTool(t *testing.T, handler server.ToolHandlerFunc, args map[string]any) (map[string]any, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "text content expected")
	if res.IsError {
		return map[string]any{"error": text.Text}, true
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, false
}

func TestNewServer_RequiresAppConfig(t *testing.T) {
	_, err := NewServer(&ServerConfig{})
	require.Error(t, err)
}

func TestRun_UnknownTransport(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Transport = "carrier-pigeon"
	err := s.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestExtractTOC(t *testing.T) {
	s := newTestServer(t)

	out, isErr := callTool(t, s.handleExtractTOC, map[string]any{"markdown": sampleMarkdown, "toc_title": "On this page"})
	require.False(t, isErr)
	assert.Equal(t, float64(4), out["heading_count"])

	headings := out["headings"].([]any)
	third := headings[2].(map[string]any)
	assert.Equal(t, float64(3), third["level"])
	assert.Equal(t, "From source!", third["text"])
	assert.Equal(t, "From-source", third["id"])

	html := out["toc_html"].(string)
	assert.Contains(t, html, `<h3 class="toc-title">On this page</h3>`)
	assert.Contains(t, html, `<a class="toc-link" href="#From-source">From source!</a>`)

	outline := out["outline"].([]any)
	require.Len(t, outline, 1)
	assert.Len(t, outline[0].(map[string]any)["children"].([]any), 2)
	assert.Equal(t, float64(3), out["max_depth"])
}

func TestExtractTOC_EmptyAndMissing(t *testing.T) {
	s := newTestServer(t)

	out, isErr := callTool(t, s.handleExtractTOC, map[string]any{"markdown": "no headings here\n"})
	require.False(t, isErr)
	assert.Equal(t, float64(0), out["heading_count"])
	assert.Equal(t, "", out["toc_html"])
	assert.Empty(t, out["headings"])

	_, isErr = callTool(t, s.handleExtractTOC, map[string]any{})
	assert.True(t, isErr)
}

func TestRenderMarkdown(t *testing.T) {
	s := newTestServer(t)

	out, isErr := callTool(t, s.handleRenderMarkdown, map[string]any{"markdown": sampleMarkdown, "site_key": "docs", "name": "setup.md"})
	require.False(t, isErr)
	assert.Equal(t, "setup", out["title"])
	assert.Contains(t, out["body_html"], `<h3 id="From-source">`)
	assert.Contains(t, out["toc_html"], `<h3 class="toc-title">Contents</h3>`)
	assert.NotContains(t, out, "page_html")
	assert.NotContains(t, out, "token_count")

	out, isErr = callTool(t, s.handleRenderMarkdown, map[string]any{"markdown": "# Hi\n", "full_page": true})
	require.False(t, isErr)
	assert.Equal(t, "document", out["title"])
	assert.Contains(t, out["page_html"], "<title>document</title>")
	assert.Contains(t, out["toc_html"], "目录")

	_, isErr = callTool(t, s.handleRenderMarkdown, map[string]any{"markdown": "# Hi\n", "site_key": "nope"})
	assert.True(t, isErr)
	_, isErr = callTool(t, s.handleRenderMarkdown, map[string]any{"markdown": 42})
	assert.True(t, isErr)
}

func TestBuildSite_JobLifecycle(t *testing.T) {
	s := newTestServer(t)

	out, isErr := callTool(t, s.handleListSites, nil)
	require.False(t, isErr)
	sites := out["sites"].([]any)
	require.Len(t, sites, 1)
	assert.NotContains(t, sites[0].(map[string]any), "last_built")

	out, isErr = callTool(t, s.handleBuildSite, map[string]any{"site_key": "docs"})
	require.False(t, isErr)
	assert.Equal(t, "started", out["status"])
	jobID := out["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		status, _ := callTool(t, s.handleGetJobStatus, map[string]any{"job_id": jobID})
		return status["status"] == string(JobStatusCompleted)
	}, 10*time.Second, 20*time.Millisecond)

	status, _ := callTool(t, s.handleGetJobStatus, map[string]any{"job_id": jobID})
	assert.Equal(t, float64(2), status["documents_rendered"])
	assert.Contains(t, status, "completed_at")
	assert.NotContains(t, status, "error_message")

	out, _ = callTool(t, s.handleListSites, nil)
	built := out["sites"].([]any)[0].(map[string]any)
	assert.Contains(t, built, "last_built")
	assert.Equal(t, float64(2), built["pages"])

	out, isErr = callTool(t, s.handleSearchHeadings, map[string]any{"query": "install"})
	require.False(t, isErr)
	require.Equal(t, float64(1), out["total_matches"])
	hit := out["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "guide/setup.md", hit["source_path"])
	assert.Equal(t, "Install", hit["id"])
	assert.Equal(t, "/docs/guide/setup.html#Install", hit["url"])
}

func TestBuildSite_Errors(t *testing.T) {
	s := newTestServer(t)

	_, isErr := callTool(t, s.handleBuildSite, map[string]any{})
	assert.True(t, isErr)

	out, isErr := callTool(t, s.handleBuildSite, map[string]any{"site_key": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "docs")
}

func TestBuildSite_AlreadyRunning(t *testing.T) {
	s := newTestServer(t)
	job, created := s.jobManager.StartJob("docs", false)
	require.True(t, created)

	out, isErr := callTool(t, s.handleBuildSite, map[string]any{"site_key": "docs"})
	require.False(t, isErr)
	assert.Equal(t, "already_running", out["status"])
	assert.Equal(t, job.ID, out["job_id"])
}

func TestGetJobStatus_Errors(t *testing.T) {
	s := newTestServer(t)
	_, isErr := callTool(t, s.handleGetJobStatus, map[string]any{})
	assert.True(t, isErr)
	_, isErr = callTool(t, s.handleGetJobStatus, map[string]any{"job_id": "nope"})
	assert.True(t, isErr)
}

func TestHandleListJobs(t *testing.T) {
	s := newTestServer(t)

	out, isErr := callTool(t, s.handleListJobs, nil)
	require.False(t, isErr)
	assert.Equal(t, float64(0), out["count"])

	first, _ := s.jobManager.StartJob("docs", false)
	s.jobManager.UpdateStatus(first.ID, JobStatusCompleted, "")
	time.Sleep(2 * time.Millisecond)
	second, created := s.jobManager.StartJob("docs", true)
	require.True(t, created)

	out, isErr = callTool(t, s.handleListJobs, nil)
	require.False(t, isErr)
	assert.Equal(t, float64(2), out["count"])

	jobs := out["jobs"].([]any)
	require.Len(t, jobs, 2)
	oldest := jobs[0].(map[string]any)
	assert.Equal(t, first.ID, oldest["job_id"])
	assert.Equal(t, "completed", oldest["status"])
	assert.Contains(t, oldest, "completed_at")

	newest := jobs[1].(map[string]any)
	assert.Equal(t, second.ID, newest["job_id"])
	assert.Equal(t, "pending", newest["status"])
	assert.Equal(t, true, newest["incremental"])
	assert.NotContains(t, newest, "completed_at")
}

func TestHandleCancelJob(t *testing.T) {
	s := newTestServer(t)

	_, isErr := callTool(t, s.handleCancelJob, map[string]any{})
	assert.True(t, isErr)
	_, isErr = callTool(t, s.handleCancelJob, map[string]any{"job_id": "nope"})
	assert.True(t, isErr)

	job, _ := s.jobManager.StartJob("docs", false)

	out, isErr := callTool(t, s.handleCancelJob, map[string]any{"job_id": job.ID})
	require.False(t, isErr)
	assert.Equal(t, "cancelled", out["status"])
	assert.Equal(t, "docs", out["site_key"])
	assert.False(t, s.jobManager.IsRunning("docs"))
	assert.Error(t, s.jobManager.Context(job.ID).Err())

	out, isErr = callTool(t, s.handleCancelJob, map[string]any{"job_id": job.ID})
	require.False(t, isErr)
	assert.Equal(t, "Job already finished", out["message"])
	assert.Equal(t, "cancelled", out["status"])
}

func TestSearchHeadings_Errors(t *testing.T) {
	s := newTestServer(t)

	_, isErr := callTool(t, s.handleSearchHeadings, map[string]any{"query": "  "})
	assert.True(t, isErr)
	_, isErr = callTool(t, s.handleSearchHeadings, map[string]any{"query": "x", "site_key": "missing"})
	assert.True(t, isErr)

	out, isErr := callTool(t, s.handleSearchHeadings, map[string]any{"query": "x", "site_key": "docs"})
	require.False(t, isErr)
	assert.Equal(t, float64(0), out["total_matches"], "unbuilt site has no headings")
	assert.Equal(t, "docs", out["site_key"])
}

func TestFlattenOutline(t *testing.T) {
	headings := toc.ExtractHeadings(sampleMarkdown)
	flat := flattenOutline(toc.BuildOutline(headings))
	assert.Equal(t, headings, flat)
	assert.Empty(t, flattenOutline(nil))
}
