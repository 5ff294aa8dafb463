package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
)

// CaseStudyStore is the persistence surface the case-study handlers need.
type CaseStudyStore interface {
	List(ctx context.Context, publishedOnly bool) ([]store.CaseStudy, error)
	GetBySlug(ctx context.Context, slug string, includeUnpublished bool) (store.CaseStudy, error)
	Create(ctx context.Context, cs store.CaseStudy) (store.CaseStudy, error)
	Update(ctx context.Context, id int64, title, summary, body, coverImage string) (store.CaseStudy, error)
	SetPublished(ctx context.Context, id int64, published bool) (store.CaseStudy, error)
	Delete(ctx context.Context, id int64) error
}

// CaseStudiesHandler serves the portfolio. Public routes see published
// entries only; admin routes see everything.
type CaseStudiesHandler struct {
	Store  CaseStudyStore
	Logger *slog.Logger
}

type caseStudyRequest struct {
	Slug       string `json:"slug,omitempty"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Body       string `json:"body"`
	CoverImage string `json:"cover_image"`
	Published  bool   `json:"published,omitempty"`
}

type publishRequest struct {
	Published bool `json:"published"`
}

func (h CaseStudiesHandler) PublicList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.List(r.Context(), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case_studies": entries})
}

func (h CaseStudiesHandler) PublicGet(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeError(w, r, apierror.InvalidRequest("invalid slug", "slug"))
		return
	}
	cs, err := h.Store.GetBySlug(r.Context(), slug, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h CaseStudiesHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.List(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case_studies": entries})
}

func (h CaseStudiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req caseStudyRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, apierror.InvalidRequest("title is required", "title"))
		return
	}

	cs, err := h.Store.Create(r.Context(), store.CaseStudy{
		Slug:       req.Slug,
		Title:      strings.TrimSpace(req.Title),
		Summary:    req.Summary,
		Body:       req.Body,
		CoverImage: req.CoverImage,
		Published:  req.Published,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cs)
}

func (h CaseStudiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req caseStudyRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, apierror.InvalidRequest("title is required", "title"))
		return
	}

	cs, err := h.Store.Update(r.Context(), id, strings.TrimSpace(req.Title), req.Summary, req.Body, req.CoverImage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h CaseStudiesHandler) SetPublished(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req publishRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cs, err := h.Store.SetPublished(r.Context(), id, req.Published)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h CaseStudiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
