// Package mcp exposes TOC extraction, rendering, and site builds as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
)

const serverName = "doc-site"

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Version    string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Recorder   metrics.Recorder
}

// Server wraps the MCP server with doc-site tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	jobs       sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	mcpServer := server.NewMCPServer(
		serverName,
		cfg.Version,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("list_sites",
				mcp.WithDescription("List all configured sites with their last build"),
			),
			Handler: s.handleListSites,
		},
		{
			Tool: mcp.NewTool("extract_toc",
				mcp.WithDescription("Extract the ATX headings of a Markdown document and return them with anchor ids, a nested outline, and the TOC HTML"),
				mcp.WithString("markdown",
					mcp.Required(),
					mcp.Description("Markdown source text"),
				),
				mcp.WithString("toc_title",
					mcp.Description("Heading shown above the TOC list (defaults to the configured title)"),
				),
			),
			Handler: s.handleExtractTOC,
		},
		{
			Tool: mcp.NewTool("render_markdown",
				mcp.WithDescription("Render a Markdown document to HTML with heading ids and a TOC"),
				mcp.WithString("markdown",
					mcp.Required(),
					mcp.Description("Markdown source text"),
				),
				mcp.WithString("site_key",
					mcp.Description("Render with this site's settings (optional)"),
				),
				mcp.WithString("name",
					mcp.Description("Document file name, used for the page title (default: document.md)"),
				),
				mcp.WithBoolean("full_page",
					mcp.Description("Also return the complete HTML page"),
				),
			),
			Handler: s.handleRenderMarkdown,
		},
		{
			Tool: mcp.NewTool("build_site",
				mcp.WithDescription("Start a background build of a configured site. Returns immediately with a job ID."),
				mcp.WithString("site_key",
					mcp.Required(),
					mcp.Description("Site key from the config file"),
				),
				mcp.WithBoolean("incremental",
					mcp.Description("Skip documents unchanged since the last build"),
				),
			),
			Handler: s.handleBuildSite,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status of a build job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by build_site"),
				),
			),
			Handler: s.handleGetJobStatus,
		},
		{
			Tool: mcp.NewTool("list_jobs",
				mcp.WithDescription("List the build jobs started by this server, oldest first"),
			),
			Handler: s.handleListJobs,
		},
		{
			Tool: mcp.NewTool("cancel_job",
				mcp.WithDescription("Cancel a pending or running build job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by build_site"),
				),
			),
			Handler: s.handleCancelJob,
		},
		{
			Tool: mcp.NewTool("search_headings",
				mcp.WithDescription("Search the headings of built pages (case-insensitive substring match)"),
				mcp.WithString("query",
					mcp.Required(),
					mcp.Description("Text to look for in heading text"),
				),
				mcp.WithString("site_key",
					mcp.Description("Limit search to a specific site (optional)"),
				),
				mcp.WithNumber("max_results",
					mcp.Description("Maximum number of results to return (default: 20, max: 200)"),
				),
			),
			Handler: s.handleSearchHeadings,
		},
	}
	s.mcpServer.AddTools(tools...)

	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running build jobs and waits for them until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
