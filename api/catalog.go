package api

import (
	"net/http"
	"time"

	"github.com/garnizeh/initiatives/internal/aggregate"
)

type CatalogHandler struct {
	catalog CatalogSource
}

func NewCatalogHandler(cs CatalogSource) *CatalogHandler {
	return &CatalogHandler{catalog: cs}
}

// CSV serves the catalog exactly as it was loaded.
func (h *CatalogHandler) CSV(w http.ResponseWriter, r *http.Request) {
	raw := h.catalog.Raw()
	if raw == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if loaded := h.catalog.Snapshot().LoadedAt; !loaded.IsZero() {
		w.Header().Set("Last-Modified", loaded.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type groupsResponse struct {
	Groups   aggregate.Groups `json:"groups"`
	Total    int              `json:"total"`
	Skipped  int              `json:"skipped"`
	LoadedAt *time.Time       `json:"loadedAt,omitempty"`
}

func (h *CatalogHandler) Groups(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	resp := groupsResponse{
		Groups:  aggregate.CompanyGroups(snap),
		Total:   snap.Len(),
		Skipped: len(snap.Skipped),
	}
	if !snap.LoadedAt.IsZero() {
		t := snap.LoadedAt
		resp.LoadedAt = &t
	}
	writeJSON(w, resp, http.StatusOK)
}
