package watch

import (
	"fmt"
	"sort"
	"time"
)

// runDueSites requests a rebuild of every site whose last build is older than the interval
func (w *Watcher) runDueSites() {
	var due []*siteWatch
	for _, sw := range w.sites {
		if w.stateManager.ShouldRun(sw.key, w.opts.Interval) {
			due = append(due, sw)
		}
	}
	if len(due) == 0 {
		w.logNextRun()
		return
	}

	w.log.Infof("Interval rebuild for %d due sites", len(due))
	for _, sw := range due {
		w.requestBuild(sw, TriggerInterval)
	}
}

// calculateTickInterval returns how often to check for due sites
func calculateTickInterval(interval time.Duration) time.Duration {
	// Check every 1/10th of the interval, between one second and ten minutes
	checkInterval := interval / 10
	if checkInterval < time.Second {
		checkInterval = time.Second
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logNextRun logs when the next interval rebuild will occur
func (w *Watcher) logNextRun() {
	type nextRun struct {
		site string
		time time.Time
	}
	var nextRuns []nextRun
	for _, key := range w.siteKeys {
		nextRuns = append(nextRuns, nextRun{key, w.stateManager.GetNextRunTime(key, w.opts.Interval)})
	}
	if len(nextRuns) == 0 {
		return
	}

	sort.Slice(nextRuns, func(i, j int) bool {
		return nextRuns[i].time.Before(nextRuns[j].time)
	})

	next := nextRuns[0]
	until := time.Until(next.time)
	if until < 0 {
		until = 0
	}
	w.log.Infof("Next interval rebuild: %s in %v (at %s)", next.site, until.Round(time.Second), next.time.Format("15:04:05"))
}

// SiteStatus contains the status of a watched site
type SiteStatus struct {
	SiteKey           string    `json:"site_key"`
	LastBuildTime     time.Time `json:"last_build_time"`
	LastBuildSuccess  bool      `json:"last_build_success"`
	LastTrigger       string    `json:"last_trigger,omitempty"`
	DocumentsRendered int64     `json:"documents_rendered"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	NextRunTime       time.Time `json:"next_run_time,omitempty"`
	NeverBuilt        bool      `json:"never_built"`
	Rebuilding        bool      `json:"rebuilding"`
}

// GetStatus returns the current status of all watched sites
func (w *Watcher) GetStatus() map[string]SiteStatus {
	status := make(map[string]SiteStatus)

	for _, sw := range w.sites {
		state, exists := w.stateManager.GetSiteState(sw.key)
		sw.mu.Lock()
		running := sw.running
		sw.mu.Unlock()

		st := SiteStatus{
			SiteKey:           sw.key,
			LastBuildTime:     state.LastBuildTime,
			LastBuildSuccess:  state.LastBuildSuccess,
			LastTrigger:       state.Trigger,
			DocumentsRendered: state.DocumentsRendered,
			ErrorMessage:      state.ErrorMessage,
			NeverBuilt:        !exists,
			Rebuilding:        running,
		}
		if w.opts.Interval > 0 {
			st.NextRunTime = w.stateManager.GetNextRunTime(sw.key, w.opts.Interval)
		}
		status[sw.key] = st
	}

	return status
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days ("7d", "1d12h").
// An empty string yields zero, which disables interval rebuilds.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
