package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/doc-site/pkg/config"
	applog "github.com/Sriram-PR/doc-site/pkg/log"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
	"github.com/Sriram-PR/doc-site/pkg/orchestrate"
	"github.com/Sriram-PR/doc-site/pkg/serve"
	"github.com/Sriram-PR/doc-site/pkg/toc"
	"github.com/Sriram-PR/doc-site/pkg/watch"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		runBuild(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "toc":
		runTOC(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("doc-site %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `doc-site - Markdown documentation site builder

Usage:
  doc-site <command> [options]

Commands:
  build       Render sites to HTML
  watch       Rebuild sites when their sources change
  serve       Serve built sites over HTTP
  validate    Validate configuration file
  list-sites  List available site keys
  toc         Print the table of contents of a Markdown file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'doc-site <command> -h' for command-specific help.`)
}

// siteOptions holds the flags shared by the commands that operate on sites
type siteOptions struct {
	ConfigPath  string
	SiteKeys    []string
	AllSites    bool
	LogLevel    string
	Incremental bool
	Full        bool
}

// addSiteFlags registers the site selection flags on fs.
// The returned function resolves them into opts after fs.Parse.
func addSiteFlags(fs *flag.FlagSet, opts *siteOptions) func() error {
	fs.StringVar(&opts.ConfigPath, "config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	fs.BoolVar(&opts.AllSites, "all-sites", false, "Use all configured sites")
	fs.StringVar(&opts.LogLevel, "loglevel", "", "Log level (debug, info, warn, error, fatal); defaults to the config's log_level")

	return func() error {
		keys, err := parseSiteSelection(*siteKey, *sites, opts.AllSites)
		if err != nil {
			return err
		}
		opts.SiteKeys = keys
		return nil
	}
}

// parseSiteSelection turns the -site, -sites and --all-sites flags into site keys.
// A nil result with allSites set means every configured site.
func parseSiteSelection(siteKey, sites string, allSites bool) ([]string, error) {
	switch {
	case allSites:
		return nil, nil
	case sites != "":
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return nil, errors.New("-sites contains no site keys")
		}
		return keys, nil
	case siteKey != "":
		return []string{siteKey}, nil
	default:
		return nil, errors.New("one of -site, -sites, or --all-sites is required")
	}
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// setupLogger creates the command logger. An explicit -loglevel wins over the config file.
func setupLogger(flagLevel string, appCfg *config.AppConfig, out io.Writer) *logrus.Logger {
	level := flagLevel
	if level == "" && appCfg != nil {
		level = appCfg.LogLevel
	}
	return applog.Setup(level, out)
}

// prepareSites loads and validates the config, then resolves and validates the selected sites.
// Validated site configs are written back to the returned AppConfig.
func prepareSites(opts siteOptions, stderr io.Writer) (*config.AppConfig, []string, *logrus.Logger, error) {
	appCfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, nil, applog.Setup(opts.LogLevel, stderr), err
	}
	log := setupLogger(opts.LogLevel, appCfg, stderr)
	log.Infof("Loaded configuration from %s", opts.ConfigPath)

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, nil, log, err
	}

	siteKeys := opts.SiteKeys
	if opts.AllSites {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
		log.Infof("All sites mode: found %d sites", len(siteKeys))
	}
	if len(siteKeys) == 0 {
		return nil, nil, log, errors.New("no sites configured")
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return nil, nil, log, err
	}

	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			return nil, nil, log, fmt.Errorf("site '%s': %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}

	return appCfg, siteKeys, log, nil
}

// applyIncrementalOverride applies CLI flag overrides for incremental/full build mode.
func applyIncrementalOverride(appCfg *config.AppConfig, incremental, full bool, log *logrus.Logger) {
	if incremental {
		appCfg.EnableIncremental = true
		log.Info("Incremental mode enabled via CLI flag")
	}
	if full {
		appCfg.EnableIncremental = false
		log.Info("Full build forced via CLI flag")
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runBuild handles the build subcommand
func runBuild(args []string) {
	var opts siteOptions
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	resolve := addSiteFlags(fs, &opts)
	fs.BoolVar(&opts.Incremental, "incremental", false, "Skip documents unchanged since the last build")
	fs.BoolVar(&opts.Full, "full", false, "Force a full build (ignore incremental settings)")
	statusLog := fs.Bool("status-log", false, "Write a per-document build status TSV to the state dir")
	metricsFile := fs.String("metrics-file", "", "Write build metrics in Prometheus text format to this file")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-site build [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-site build -site docs\n")
		fmt.Fprintf(os.Stderr, "  doc-site build -sites docs,blog -incremental\n")
		fmt.Fprintf(os.Stderr, "  doc-site build --all-sites -full\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := resolve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	os.Exit(doBuild(ctx, opts, buildExtras{StatusLog: *statusLog, MetricsFile: *metricsFile, PprofAddr: *pprofAddr}, os.Stderr))
}

// buildExtras holds build-only flags
type buildExtras struct {
	StatusLog   bool
	MetricsFile string
	PprofAddr   string
}

// doBuild builds the selected sites. Returns exit code (0 = every site built).
func doBuild(ctx context.Context, opts siteOptions, extras buildExtras, stderr io.Writer) int {
	appCfg, siteKeys, log, err := prepareSites(opts, stderr)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	applyIncrementalOverride(appCfg, opts.Incremental, opts.Full, log)
	if appCfg.EnableIncremental {
		log.Info("Incremental build: ENABLED - will skip unchanged documents")
	} else {
		log.Info("Incremental build: DISABLED - will render all documents")
	}
	startPprof(extras.PprofAddr, log)

	reg := prometheus.NewRegistry()
	orch := orchestrate.NewOrchestrator(ctx, appCfg, siteKeys, false, log.WithField("component", "build"), &orchestrate.Options{
		Recorder:  metrics.NewPrometheusRecorder(reg),
		StatusLog: extras.StatusLog,
	})
	results := orch.Run()

	if extras.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(extras.MetricsFile, reg); err != nil {
			log.Errorf("Failed to write metrics file: %v", err)
		} else {
			log.Infof("Wrote metrics to %s", extras.MetricsFile)
		}
	}

	if !orchestrate.AllSucceeded(results) {
		if ctx.Err() != nil {
			log.Warn("Build cancelled.")
		}
		return 1
	}
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	var opts siteOptions
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	resolve := addSiteFlags(fs, &opts)
	fs.BoolVar(&opts.Full, "full", false, "Render every document on each rebuild")
	interval := fs.String("interval", "", "Periodic full rebuild interval (e.g., 30m, 1h, 7d); defaults to watch.interval")
	addr := fs.String("addr", "", "Also serve the sites on this address (e.g., localhost:8080)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-site watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-site watch -site docs\n")
		fmt.Fprintf(os.Stderr, "  doc-site watch --all-sites -addr localhost:8080\n")
		fmt.Fprintf(os.Stderr, "  doc-site watch -sites docs,blog -interval 1h\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := resolve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	os.Exit(doWatch(ctx, opts, *interval, *addr, os.Stderr))
}

// doWatch builds the selected sites and rebuilds them on change until ctx is done.
// With a non-empty addr the sites and their metrics are served at the same time.
func doWatch(ctx context.Context, opts siteOptions, intervalStr, addr string, stderr io.Writer) int {
	appCfg, siteKeys, log, err := prepareSites(opts, stderr)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}

	if intervalStr == "" {
		intervalStr = appCfg.Watch.Interval
	}
	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		log.Errorf("Invalid interval: %v", err)
		return 1
	}
	if interval > 0 {
		log.Infof("Periodic rebuild interval: %s", watch.FormatInterval(interval))
	}

	incremental := !opts.Full
	if incremental {
		log.Info("Incremental mode enabled for watch")
	}

	reg := prometheus.NewRegistry()
	watcher := watch.NewWatcher(appCfg, siteKeys, log.WithField("site_count", len(siteKeys)), &watch.Options{
		Interval:    interval,
		Incremental: incremental,
		Recorder:    metrics.NewPrometheusRecorder(reg),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	if addr != "" {
		srv := serve.NewServer(appCfg, siteKeys, log.WithField("component", "serve"), reg)
		srv.SetWatchStatus(func() any { return watcher.GetStatus() })
		g.Go(func() error {
			return srv.ListenAndServe(gctx, addr)
		})
	}

	if err := g.Wait(); err != nil {
		log.Errorf("Watch error: %v", err)
		return 1
	}
	log.Info("Watch mode stopped")
	return 0
}

// runServe handles the serve subcommand
func runServe(args []string) {
	var opts siteOptions
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	resolve := addSiteFlags(fs, &opts)
	addr := fs.String("addr", "", "Listen address; defaults to serve.addr (localhost:8080)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-site serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-site serve --all-sites\n")
		fmt.Fprintf(os.Stderr, "  doc-site serve -site docs -addr :9000\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := resolve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	os.Exit(doServe(ctx, opts, *addr, os.Stderr))
}

// doServe serves the output directories of already built sites until ctx is done
func doServe(ctx context.Context, opts siteOptions, addr string, stderr io.Writer) int {
	appCfg, siteKeys, log, err := prepareSites(opts, stderr)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	if addr == "" {
		addr = appCfg.Serve.Addr
	}

	reg := prometheus.NewRegistry()
	srv := serve.NewServer(appCfg, siteKeys, log.WithField("component", "serve"), reg)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		log.Errorf("Serve error: %v", err)
		return 1
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-site validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := orchestrate.GetAllSiteKeys(appCfg)
	if siteKey != "" {
		if _, ok := appCfg.Sites[siteKey]; !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		keys = []string{siteKey}
	}
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "Error: no sites configured")
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-site list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListSites(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range keys {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Source: %s\n", site.SourceDir)
		fmt.Fprintf(stdout, "    Output: %s\n", site.OutputDir)
		if len(site.ExcludePatterns) > 0 {
			fmt.Fprintf(stdout, "    Exclude Patterns: %s\n", strings.Join(site.ExcludePatterns, ", "))
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runTOC handles the toc subcommand
func runTOC(args []string) {
	fs := flag.NewFlagSet("toc", flag.ExitOnError)
	title := fs.String("title", "", "Heading shown above the TOC list (omitted when empty)")
	asJSON := fs.Bool("json", false, "Print the headings and nested outline as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-site toc [options] <file.md>\n\nReads standard input when the file is '-'.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doTOC(fs.Arg(0), *title, *asJSON, os.Stdin, os.Stdout, os.Stderr))
}

// doTOC prints the TOC markup, or the headings and outline as JSON, of one Markdown file
func doTOC(path, title string, asJSON bool, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(filepath.Clean(path))
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	headings := toc.ExtractHeadings(string(data))
	if !asJSON {
		if markup := toc.BuildMarkup(headings, toc.Options{Title: title}); markup != "" {
			fmt.Fprintln(stdout, markup)
		}
		return 0
	}

	if headings == nil {
		headings = []toc.Heading{}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"headings": headings,
		"outline":  toc.BuildOutline(headings),
	}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
