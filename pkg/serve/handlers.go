package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Sriram-PR/doc-site/pkg/models"
	"github.com/Sriram-PR/doc-site/pkg/site"
)

// SiteInfo describes a served site and its last build
type SiteInfo struct {
	SiteKey            string     `json:"site_key"`
	URL                string     `json:"url"`
	SourceDir          string     `json:"source_dir"`
	OutputDir          string     `json:"output_dir"`
	Built              bool       `json:"built"`
	BuildID            string     `json:"build_id,omitempty"`
	BuildEndTime       *time.Time `json:"build_end_time,omitempty"`
	DocumentsRendered  int        `json:"documents_rendered"`
	DocumentsUnchanged int        `json:"documents_unchanged"`
	DocumentsFailed    int        `json:"documents_failed"`
	Pages              int        `json:"pages"`
	Error              string     `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites := make([]SiteInfo, 0, len(s.siteKeys))
	for _, key := range s.siteKeys {
		siteCfg, ok := s.appCfg.Sites[key]
		if !ok {
			continue
		}
		info := SiteInfo{
			SiteKey:   key,
			URL:       "/" + key + "/",
			SourceDir: siteCfg.SourceDir,
			OutputDir: siteCfg.OutputDir,
		}
		meta, err := site.LoadMetadata(*s.appCfg, siteCfg)
		switch {
		case err == nil:
			info.Built = true
			info.BuildID = meta.BuildID
			end := meta.BuildEndTime
			info.BuildEndTime = &end
			info.DocumentsRendered = meta.DocumentsRendered
			info.DocumentsUnchanged = meta.DocumentsUnchanged
			info.DocumentsFailed = meta.DocumentsFailed
			info.Pages = len(meta.Pages)
		case errors.Is(err, site.ErrNoMetadata):
		default:
			s.log.WithField("site_key", key).Warnf("Reading build metadata: %v", err)
			info.Error = err.Error()
		}
		sites = append(sites, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "site")
	siteCfg, ok := s.site(key)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown site '%s'", key))
		return
	}
	meta, err := site.LoadMetadata(*s.appCfg, siteCfg)
	if err != nil {
		if errors.Is(err, site.ErrNoMetadata) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("site '%s' has no build metadata", key))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pages := meta.Pages
	if pages == nil {
		pages = []models.PageMetadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"site_key": key, "build_id": meta.BuildID, "pages": pages})
}

// handleWatchStatus reports per-site rebuild state while watching
func (s *Server) handleWatchStatus(w http.ResponseWriter, r *http.Request) {
	if s.watchStatus == nil {
		writeError(w, http.StatusNotFound, "not watching")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": s.watchStatus()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
