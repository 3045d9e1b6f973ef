package models

// PageStatus is the outcome of a document's last build as kept in the build database.
// NotFound and DBError are lookup results and are never stored.
type PageStatus string

const (
	PageStatusUnset    PageStatus = ""
	PageStatusPending  PageStatus = "pending"   // Entry exists without a recorded outcome
	PageStatusSuccess  PageStatus = "success"   // Page rendered and written
	PageStatusFailure  PageStatus = "failure"   // Render or write failed; ErrorType says why
	PageStatusNotFound PageStatus = "not_found" // No entry for the document
	PageStatusDBError  PageStatus = "db_error"  // Lookup failed
)

func (s PageStatus) String() string {
	if s == PageStatusUnset {
		return "unset"
	}
	return string(s)
}

// IsValid reports whether s may be stored for a document
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusPending, PageStatusSuccess, PageStatusFailure:
		return true
	}
	return false
}

// Reusable reports whether an incremental build may keep the page built in this state
func (s PageStatus) Reusable() bool {
	return s == PageStatusSuccess
}
