package models

import (
	"time"

	"github.com/Sriram-PR/doc-site/pkg/toc"
)

// ItemKind tells a worker how to treat a source file
type ItemKind int

const (
	KindDocument ItemKind = iota // Rendered to HTML
	KindAsset                    // Copied unchanged
)

// String implements fmt.Stringer for logging
func (k ItemKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindAsset:
		return "asset"
	}
	return "unknown"
}

// WorkItem is one source file queued for a build worker
type WorkItem struct {
	SourcePath string // Absolute or config-relative path on disk
	RelPath    string // Slash-separated path relative to the site source dir
	Kind       ItemKind
}

// PageDBEntry stores the result of building a source document in the database
type PageDBEntry struct {
	Status      PageStatus `json:"status"`
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure)
	ContentHash string     `json:"content_hash,omitempty"` // SHA-256 of the source bytes (on success)
	OutputPath  string     `json:"output_path,omitempty"`  // Relative to the site output dir (on success)
	BuiltAt     time.Time  `json:"built_at,omitempty"`     // Timestamp of successful build
	LastAttempt time.Time  `json:"last_attempt"`           // Timestamp of the last build attempt
}

// SiteMetadata holds all metadata for a single build of a site.
type SiteMetadata struct {
	SiteKey            string         `yaml:"site_key"`
	BuildID            string         `yaml:"build_id"`
	SourceDir          string         `yaml:"source_dir"`
	OutputDir          string         `yaml:"output_dir"`
	Incremental        bool           `yaml:"incremental"`
	BuildStartTime     time.Time      `yaml:"build_start_time"`
	BuildEndTime       time.Time      `yaml:"build_end_time"`
	DocumentsRendered  int            `yaml:"documents_rendered"`
	DocumentsUnchanged int            `yaml:"documents_unchanged,omitempty"`
	DocumentsFailed    int            `yaml:"documents_failed,omitempty"`
	AssetsCopied       int            `yaml:"assets_copied"`
	AssetsFailed       int            `yaml:"assets_failed,omitempty"`
	Pages              []PageMetadata `yaml:"pages"`
}

// PageMetadata holds metadata for a single built page.
type PageMetadata struct {
	SourcePath   string      `json:"source_path" yaml:"source_path"` // Relative to source_dir
	OutputPath   string      `json:"output_path" yaml:"output_path"` // Relative to output_dir
	Title        string      `json:"title,omitempty" yaml:"title,omitempty"`
	HeadingCount int         `json:"heading_count" yaml:"heading_count"`
	Outline      toc.Outline `json:"outline,omitempty" yaml:"outline,omitempty"`
	ContentHash  string      `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	TokenCount   int         `json:"token_count,omitempty" yaml:"token_count,omitempty"`
	LinkCount    int         `json:"link_count,omitempty" yaml:"link_count,omitempty"`
	ImageCount   int         `json:"image_count,omitempty" yaml:"image_count,omitempty"`
	BuiltAt      time.Time   `json:"built_at" yaml:"built_at"`
	Unchanged    bool        `json:"unchanged,omitempty" yaml:"unchanged,omitempty"` // Skipped by an incremental build
}
