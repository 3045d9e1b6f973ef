package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// LogLevel
	if c.LogLevel != "" {
		if _, parseErr := logrus.ParseLevel(c.LogLevel); parseErr != nil {
			warnings = append(warnings, fmt.Sprintf("log_level '%s' is invalid, defaulting to 'info'", c.LogLevel))
			c.LogLevel = "info"
		}
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxConcurrentFiles
	if c.MaxConcurrentFiles <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"max_concurrent_files not specified or invalid, defaulting to 4x num_workers (%d)",
			4*c.NumWorkers))
		c.MaxConcurrentFiles = 4 * c.NumWorkers
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './.doc-site-state'")
		c.StateDir = "./.doc-site-state"
	}

	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	// DocumentExtensions
	if len(c.DocumentExtensions) == 0 {
		c.DocumentExtensions = []string{".md"}
	} else {
		c.DocumentExtensions = normalizeExtensions(c.DocumentExtensions)
	}

	// Tokenizer
	if c.EnableTokenCounting && c.TokenizerEncoding == "" {
		c.TokenizerEncoding = "cl100k_base"
	}

	// Page template
	if c.Page.TemplateFile != "" {
		if _, statErr := os.Stat(c.Page.TemplateFile); statErr != nil {
			return warnings, fmt.Errorf("%w: page.template_file '%s': %v", utils.ErrConfigValidation, c.Page.TemplateFile, statErr)
		}
	}

	// Output mapping filename
	if c.EnableOutputMapping && c.OutputMappingFilename == "" {
		warnings = append(warnings,
			"Global 'enable_output_mapping' is true but 'output_mapping_filename' is empty. "+
				"Defaulting to 'source_to_output_map.tsv'")
		c.OutputMappingFilename = "source_to_output_map.tsv"
	}

	// Metadata YAML filename
	if (c.EnableMetadataYAML == nil || *c.EnableMetadataYAML) && c.MetadataYAMLFilename == "" {
		c.MetadataYAMLFilename = "metadata.yaml"
	}

	// Watch
	if c.Watch.Debounce < 0 {
		warnings = append(warnings, "watch.debounce cannot be negative, defaulting to 300ms")
		c.Watch.Debounce = 0
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 300 * time.Millisecond
	}

	// Serve
	if c.Serve.Addr == "" {
		c.Serve.Addr = "localhost:8080"
	}

	return warnings, nil
}

// normalizeExtensions lowercases extensions and ensures a leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	if len(out) == 0 {
		return []string{".md"}
	}
	return out
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (e.g., path normalization).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: SourceDir
	if c.SourceDir == "" {
		return nil, fmt.Errorf("%w: site has no source_dir", utils.ErrConfigValidation)
	}
	c.SourceDir = filepath.Clean(c.SourceDir)

	// Required: OutputDir
	if c.OutputDir == "" {
		return nil, fmt.Errorf("%w: site needs output_dir", utils.ErrConfigValidation)
	}
	c.OutputDir = filepath.Clean(c.OutputDir)

	if c.OutputDir == c.SourceDir {
		return nil, fmt.Errorf("%w: output_dir must differ from source_dir ('%s')", utils.ErrConfigValidation, c.SourceDir)
	}

	// Source must exist and be a directory
	info, statErr := os.Stat(c.SourceDir)
	if statErr != nil {
		return nil, fmt.Errorf("%w: source_dir '%s': %v", utils.ErrConfigValidation, c.SourceDir, statErr)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source_dir '%s' is not a directory", utils.ErrConfigValidation, c.SourceDir)
	}

	// ExcludePatterns must compile
	if _, compileErr := utils.CompilePathPatterns(c.ExcludePatterns); compileErr != nil {
		return nil, compileErr
	}

	if c.BaseURL != "" {
		u, parseErr := url.ParseRequestURI(c.BaseURL)
		if parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: base_url '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, c.BaseURL)
		}
	}

	if c.Page.TemplateFile != "" {
		if _, statErr := os.Stat(c.Page.TemplateFile); statErr != nil {
			return nil, fmt.Errorf("%w: page.template_file '%s': %v", utils.ErrConfigValidation, c.Page.TemplateFile, statErr)
		}
	}

	if c.TOC.Enabled != nil && !*c.TOC.Enabled && c.TOC.Title != nil {
		warnings = append(warnings, "toc.title is set but toc.enabled is false, title is ignored")
	}

	return warnings, nil
}
