package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/doc-site/pkg/models"
)

// PageStore handles per-document build state, keyed by the slash-separated path
// relative to the site source directory
type PageStore interface {
	// CheckPageStatus retrieves the status and details of a source document
	// Returns status (PageStatusSuccess, PageStatusFailure, PageStatusPending, PageStatusNotFound, PageStatusDBError),
	// the PageDBEntry if found and parsed, and any error
	CheckPageStatus(relPath string) (status models.PageStatus, entry *models.PageDBEntry, err error)

	// UpdatePageStatus updates the status and details for a source document
	UpdatePageStatus(relPath string, entry *models.PageDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetEntryCount returns the number of documents tracked in the store
	GetEntryCount() (int, error)

	// ListFailed returns the documents whose last build attempt failed, sorted by path
	ListFailed(ctx context.Context) ([]string, error)

	// PruneMissing deletes entries for documents not in present and returns the
	// removed entries keyed by path, so callers can delete stale output files
	PruneMissing(ctx context.Context, present map[string]bool) (map[string]models.PageDBEntry, error)

	// WriteStatusLog writes one "path<TAB>status" line per tracked document
	WriteStatusLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// BuildStore combines all store interfaces for components that need full access
type BuildStore interface {
	PageStore
	StoreAdmin
}
