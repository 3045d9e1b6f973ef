// Package metrics provides build metrics hooks. Components depend on the Recorder
// interface and default to NoopRecorder, so metrics stay optional.
package metrics

import "time"

// DocumentOutcome labels the result of building one source document.
type DocumentOutcome string

const (
	DocumentRendered  DocumentOutcome = "rendered"
	DocumentUnchanged DocumentOutcome = "unchanged"
	DocumentFailed    DocumentOutcome = "failed"
)

// Recorder defines observability hooks for site builds.
// Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveBuildDuration(site string, d time.Duration)
	IncBuildOutcome(site, outcome string) // outcome: success|incomplete|failed|canceled
	IncDocument(site string, outcome DocumentOutcome)
	IncAssetCopied(site string)
	ObserveRenderDuration(d time.Duration)
	SetLastBuildTimestamp(site string, t time.Time)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(string, string)             {}
func (NoopRecorder) IncDocument(string, DocumentOutcome)        {}
func (NoopRecorder) IncAssetCopied(string)                      {}
func (NoopRecorder) ObserveRenderDuration(time.Duration)        {}
func (NoopRecorder) SetLastBuildTimestamp(string, time.Time)    {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
