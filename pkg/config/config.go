package config

import "time"

// DefaultExclude lists entry names never copied into a built site.
var DefaultExclude = []string{
	".git", "dist", "node_modules", ".github",
	"package.json", "package-lock.json", "build.js",
}

// TOCConfig controls the generated table of contents
type TOCConfig struct {
	Enabled *bool   `yaml:"enabled,omitempty"`
	Title   *string `yaml:"title,omitempty"` // Pointer so an explicit "" can drop the title
}

// PageConfig controls the HTML page wrapper around each rendered document
type PageConfig struct {
	Lang           string `yaml:"lang,omitempty"`
	StylesheetHref string `yaml:"stylesheet_href,omitempty"`
	TemplateFile   string `yaml:"template_file,omitempty"` // Optional html/template file replacing the built-in page
}

// WatchConfig holds settings for the watch command
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce,omitempty"`
	Interval string        `yaml:"interval,omitempty"` // Periodic full rebuild (e.g. 1h, 7d); empty disables
}

// ServeConfig holds settings for the preview server
type ServeConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// SiteConfig holds configuration specific to a single documentation tree
type SiteConfig struct {
	SourceDir             string     `yaml:"source_dir"`
	OutputDir             string     `yaml:"output_dir"`
	Exclude               []string   `yaml:"exclude,omitempty"`          // Extra entry names, added to the global list
	ExcludePatterns       []string   `yaml:"exclude_patterns,omitempty"` // Regex patterns matched against slash-separated relative paths
	BaseURL               string     `yaml:"base_url,omitempty"`         // Public URL of the output root; enables sitemap.xml
	TOC                   TOCConfig  `yaml:"toc,omitempty"`
	Page                  PageConfig `yaml:"page,omitempty"`
	CleanOutput           *bool      `yaml:"clean_output,omitempty"`
	RewriteMDLinks        *bool      `yaml:"rewrite_md_links,omitempty"`
	TitleFromHeading      *bool      `yaml:"title_from_heading,omitempty"`
	EnableOutputMapping   *bool      `yaml:"enable_output_mapping,omitempty"`
	OutputMappingFilename string     `yaml:"output_mapping_filename,omitempty"`
	EnableMetadataYAML    *bool      `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename  string     `yaml:"metadata_yaml_filename,omitempty"`
	EnableStructureFile   *bool      `yaml:"enable_structure_file,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	LogLevel              string                `yaml:"log_level,omitempty"`
	NumWorkers            int                   `yaml:"num_workers"`
	MaxConcurrentFiles    int                   `yaml:"max_concurrent_files,omitempty"` // Shared across all sites built in one run
	StateDir              string                `yaml:"state_dir"`
	EnableIncremental     bool                  `yaml:"incremental,omitempty"`
	DBGCInterval          time.Duration         `yaml:"db_gc_interval,omitempty"`
	DocumentExtensions    []string              `yaml:"document_extensions,omitempty"`
	Exclude               []string              `yaml:"exclude,omitempty"`
	TOC                   TOCConfig             `yaml:"toc,omitempty"`
	Page                  PageConfig            `yaml:"page,omitempty"`
	CleanOutput           *bool                 `yaml:"clean_output,omitempty"`
	RewriteMDLinks        *bool                 `yaml:"rewrite_md_links,omitempty"`
	TitleFromHeading      bool                  `yaml:"title_from_heading,omitempty"`
	EnableTokenCounting   bool                  `yaml:"enable_token_counting,omitempty"`
	TokenizerEncoding     string                `yaml:"tokenizer_encoding,omitempty"`
	EnableOutputMapping   bool                  `yaml:"enable_output_mapping,omitempty"`
	OutputMappingFilename string                `yaml:"output_mapping_filename,omitempty"`
	EnableMetadataYAML    *bool                 `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename  string                `yaml:"metadata_yaml_filename,omitempty"`
	EnableStructureFile   bool                  `yaml:"enable_structure_file,omitempty"`
	Watch                 WatchConfig           `yaml:"watch,omitempty"`
	Serve                 ServeConfig           `yaml:"serve,omitempty"`
	Sites                 map[string]SiteConfig `yaml:"sites"`
}

func boolOr(p *bool, fallback bool) bool {
	if p != nil {
		return *p
	}
	return fallback
}

// GetEffectiveTOCEnabled determines whether pages get a table of contents
func GetEffectiveTOCEnabled(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.TOC.Enabled != nil {
		return *siteCfg.TOC.Enabled
	}
	return boolOr(appCfg.TOC.Enabled, true)
}

// GetEffectiveTOCTitle determines the heading shown above the table of contents
func GetEffectiveTOCTitle(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.TOC.Title != nil {
		return *siteCfg.TOC.Title
	}
	if appCfg.TOC.Title != nil {
		return *appCfg.TOC.Title
	}
	return "目录"
}

// GetEffectivePage merges the site's page settings over the global ones.
// Empty site fields fall back to global, empty global fields to the built-in defaults.
func GetEffectivePage(siteCfg SiteConfig, appCfg AppConfig) PageConfig {
	pick := func(site, global, def string) string {
		if site != "" {
			return site
		}
		if global != "" {
			return global
		}
		return def
	}
	return PageConfig{
		Lang:           pick(siteCfg.Page.Lang, appCfg.Page.Lang, "zh-CN"),
		StylesheetHref: pick(siteCfg.Page.StylesheetHref, appCfg.Page.StylesheetHref, "/css/github-markdown.min.css"),
		TemplateFile:   pick(siteCfg.Page.TemplateFile, appCfg.Page.TemplateFile, ""),
	}
}

// GetEffectiveCleanOutput determines if the output directory is wiped before a full build
func GetEffectiveCleanOutput(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.CleanOutput != nil {
		return *siteCfg.CleanOutput
	}
	return boolOr(appCfg.CleanOutput, true)
}

// GetEffectiveRewriteMDLinks determines if relative .md links are pointed at the built .html pages
func GetEffectiveRewriteMDLinks(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.RewriteMDLinks != nil {
		return *siteCfg.RewriteMDLinks
	}
	return boolOr(appCfg.RewriteMDLinks, true)
}

// GetEffectiveTitleFromHeading determines if the page title comes from the first level 1 heading
func GetEffectiveTitleFromHeading(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.TitleFromHeading != nil {
		return *siteCfg.TitleFromHeading
	}
	return appCfg.TitleFromHeading
}

// GetEffectiveExclude returns the global exclude names followed by the site's own
func GetEffectiveExclude(siteCfg SiteConfig, appCfg AppConfig) []string {
	base := appCfg.Exclude
	if len(base) == 0 {
		base = DefaultExclude
	}
	merged := make([]string, 0, len(base)+len(siteCfg.Exclude))
	merged = append(merged, base...)
	merged = append(merged, siteCfg.Exclude...)
	return merged
}

// GetEffectiveEnableOutputMapping determines the effective setting for enabling the mapping file
func GetEffectiveEnableOutputMapping(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableOutputMapping != nil {
		return *siteCfg.EnableOutputMapping
	}
	return appCfg.EnableOutputMapping // Fallback to global setting
}

// GetEffectiveOutputMappingFilename determines the effective filename for the mapping file
// Site config (if non-empty) overrides global
// If both site and global are empty, a hardcoded default is returned
func GetEffectiveOutputMappingFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.OutputMappingFilename != "" {
		return siteCfg.OutputMappingFilename
	}
	if appCfg.OutputMappingFilename != "" {
		return appCfg.OutputMappingFilename
	}
	return "source_to_output_map.tsv"
}

// GetEffectiveEnableMetadataYAML determines if YAML metadata should be generated.
func GetEffectiveEnableMetadataYAML(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableMetadataYAML != nil {
		return *siteCfg.EnableMetadataYAML
	}
	return boolOr(appCfg.EnableMetadataYAML, true)
}

// GetEffectiveMetadataYAMLFilename determines the filename for the YAML metadata.
func GetEffectiveMetadataYAMLFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.MetadataYAMLFilename != "" {
		return siteCfg.MetadataYAMLFilename
	}
	if appCfg.MetadataYAMLFilename != "" {
		return appCfg.MetadataYAMLFilename
	}
	return "metadata.yaml"
}

// GetEffectiveEnableStructureFile determines if a directory tree listing is written after the build
func GetEffectiveEnableStructureFile(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableStructureFile != nil {
		return *siteCfg.EnableStructureFile
	}
	return appCfg.EnableStructureFile
}
