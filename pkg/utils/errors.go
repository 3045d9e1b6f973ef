package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrParsing          = errors.New("parsing error")    // Wraps HTML, YAML, interval parsing errors
	ErrRender           = errors.New("markdown render error")
	ErrTemplate         = errors.New("page template error")
	ErrConfigValidation = errors.New("configuration validation error")
	ErrUnsafeOutputDir  = errors.New("refusing to clean unsafe output directory")
	ErrBuildIncomplete  = errors.New("build finished with failed documents")
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
)

// WrapErrorf prefixes err with a formatted message, keeping it reachable via errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrRender):
		return "Content_Render"
	case errors.Is(err, ErrTemplate):
		return "Content_Template"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "YAML") {
			return "Content_ParsingYAML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrUnsafeOutputDir):
		return "Policy_UnsafeOutputDir"
	case errors.Is(err, ErrBuildIncomplete):
		return "Build_Incomplete"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	// Unwrapped os errors still get a filesystem category
	if errors.Is(err, os.ErrPermission) {
		return "Filesystem_Permission"
	}
	if errors.Is(err, os.ErrNotExist) {
		return "Filesystem_NotExist"
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "Filesystem_Other"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "no space left") {
		return "Filesystem_NoSpace"
	}
	if strings.Contains(lowerErrMsg, "too many open files") {
		return "Resource_FileDescriptors"
	}

	return "Unknown"
}
