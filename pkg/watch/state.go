package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/doc-site/pkg/orchestrate"
	"github.com/Sriram-PR/doc-site/pkg/utils"
)

const stateFileName = "watch_state.json"

// SiteState contains the last build information for a site
type SiteState struct {
	LastBuildTime      time.Time `json:"last_build_time"`
	LastBuildSuccess   bool      `json:"last_build_success"`
	Trigger            string    `json:"trigger"`
	DocumentsRendered  int64     `json:"documents_rendered"`
	DocumentsUnchanged int64     `json:"documents_unchanged"`
	DocumentsFailed    int64     `json:"documents_failed"`
	ErrorMessage       string    `json:"error_message,omitempty"`
}

// WatchState contains the persistent state of the watcher
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Sites: make(map[string]SiteState),
		},
	}
}

// Load loads the state from disk. A missing file starts fresh.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{
				Sites: make(map[string]SiteState),
			}
			return nil
		}
		return fmt.Errorf("%w: failed to read state file: %w", utils.ErrFilesystem, err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("%w: failed to parse state file: %w", utils.ErrParsing, err)
	}

	if m.state.Sites == nil {
		m.state.Sites = make(map[string]SiteState)
	}

	return nil
}

// Save writes the state to disk through a temp file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write state file: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("%w: failed to replace state file: %w", utils.ErrFilesystem, err)
	}

	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// UpdateSiteState records the outcome of one site build
func (m *StateManager) UpdateSiteState(result orchestrate.SiteResult, trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	errorMsg := result.ErrorMessage
	if errorMsg == "" && result.Error != nil {
		errorMsg = result.Error.Error()
	}
	m.state.Sites[result.SiteKey] = SiteState{
		LastBuildTime:      time.Now(),
		LastBuildSuccess:   result.Success,
		Trigger:            trigger,
		DocumentsRendered:  result.DocumentsRendered,
		DocumentsUnchanged: result.DocumentsUnchanged,
		DocumentsFailed:    result.DocumentsFailed,
		ErrorMessage:       errorMsg,
	}
}

// ShouldRun checks if a site is due for an interval rebuild
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return time.Since(state.LastBuildTime) >= interval
}

// GetNextRunTime returns when the site is next due
func (m *StateManager) GetNextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return state.LastBuildTime.Add(interval)
}
