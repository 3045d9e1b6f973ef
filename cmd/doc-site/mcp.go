package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	applog "github.com/Sriram-PR/doc-site/pkg/log"
	"github.com/Sriram-PR/doc-site/pkg/mcp"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
)

const mcpShutdownTimeout = 10 * time.Second

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: doc-site mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  doc-site mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  doc-site mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  list_sites       List all configured sites with their last build
  extract_toc      Extract headings, anchor ids and TOC markup from Markdown
  render_markdown  Render Markdown to HTML with heading ids and a TOC
  build_site       Start a background build for a site
  get_job_status   Check the progress of a build job
  list_jobs        List build jobs started by this server
  cancel_job       Cancel a pending or running build job
  search_headings  Search the headings of built pages
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log := applog.Setup(logLevel, stderr)

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Version:    version,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Recorder:   metrics.NewPrometheusRecorder(prometheus.NewRegistry()),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)

	runErr := server.Run()

	ctx, cancel := context.WithTimeout(context.Background(), mcpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Build jobs did not stop in time: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
