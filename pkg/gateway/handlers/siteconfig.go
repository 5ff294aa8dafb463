package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/atelierhq/studio/internal/siteconfig"
)

// SiteConfigPersister persists merged patches; the in-memory store mirrors
// it for reads and local subscribers.
type SiteConfigPersister interface {
	Apply(ctx context.Context, p siteconfig.Patch) (siteconfig.Config, error)
}

// SiteConfigPublisher fans a patch out to other gateway instances.
type SiteConfigPublisher interface {
	Publish(ctx context.Context, p siteconfig.Patch) error
}

// SiteConfigHandler serves the public site appearance state and its admin
// partial updates.
type SiteConfigHandler struct {
	Store     *siteconfig.Store
	Persister SiteConfigPersister
	Publisher SiteConfigPublisher
	Logger    *slog.Logger
}

func (h SiteConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Current())
}

// Patch applies a partial update: only keys present in the body overwrite,
// and an explicit empty string clears a slot. An empty patch is a no-op that
// still returns the current config.
func (h SiteConfigHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var p siteconfig.Patch
	if err := decodeBody(w, r, 0, &p); err != nil {
		writeError(w, r, err)
		return
	}
	if p.IsZero() {
		writeJSON(w, http.StatusOK, h.Store.Current())
		return
	}

	merged, err := h.Persister.Apply(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Store.Apply(p)

	if h.Publisher != nil {
		// Cross-instance sync is best effort; the local write already stuck.
		if err := h.Publisher.Publish(r.Context(), p); err != nil && h.Logger != nil {
			h.Logger.Warn("site config broadcast failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, merged)
}
