package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
)

// LeadStore is the persistence surface the lead handlers need.
type LeadStore interface {
	List(ctx context.Context) ([]store.Lead, error)
	Get(ctx context.Context, id int64) (store.Lead, error)
	Create(ctx context.Context, l store.Lead) (store.Lead, error)
	Update(ctx context.Context, id int64, name, email, company, notes string) (store.Lead, error)
	Delete(ctx context.Context, id int64) error
	Move(ctx context.Context, id int64, toStage string, toPos int) (store.Lead, error)
}

// LeadsHandler serves the admin pipeline board.
type LeadsHandler struct {
	Store  LeadStore
	Logger *slog.Logger
}

type leadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Notes   string `json:"notes"`
	Stage   string `json:"stage,omitempty"`
}

type leadMoveRequest struct {
	Stage    string `json:"stage"`
	Position int    `json:"position"`
}

// List returns every lead in board order, grouped client-side by stage.
func (h LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	leads, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stages": store.Stages(),
		"leads":  leads,
	})
}

func (h LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lead, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, apierror.InvalidRequest("name is required", "name"))
		return
	}
	if req.Stage != "" && !store.ValidStage(req.Stage) {
		writeError(w, r, apierror.InvalidRequest("unknown stage", "stage"))
		return
	}

	lead, err := h.Store.Create(r.Context(), store.Lead{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Company: strings.TrimSpace(req.Company),
		Notes:   req.Notes,
		Stage:   req.Stage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (h LeadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req leadRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, apierror.InvalidRequest("name is required", "name"))
		return
	}

	lead, err := h.Store.Update(r.Context(), id, strings.TrimSpace(req.Name),
		strings.TrimSpace(req.Email), strings.TrimSpace(req.Company), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h LeadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// Move relocates a lead to (stage, position). Out-of-range positions clamp.
func (h LeadsHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req leadMoveRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !store.ValidStage(req.Stage) {
		writeError(w, r, apierror.InvalidRequest("unknown stage", "stage"))
		return
	}

	lead, err := h.Store.Move(r.Context(), id, req.Stage, req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}
