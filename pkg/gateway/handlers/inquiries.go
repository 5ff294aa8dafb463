package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelierhq/studio/internal/metrics"
	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
)

const maxInquiryMessageBytes = 8 << 10

// InquiryStore is the persistence surface the inquiry handlers need.
type InquiryStore interface {
	Create(ctx context.Context, name, email, message string) (store.Inquiry, error)
	List(ctx context.Context) ([]store.Inquiry, error)
	Promote(ctx context.Context, id int64) (store.Inquiry, store.Lead, error)
	Archive(ctx context.Context, id int64) (store.Inquiry, error)
}

// InquiriesHandler serves the public contact form and its admin triage.
type InquiriesHandler struct {
	Store   InquiryStore
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type inquiryRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Create is the public contact-form endpoint.
func (h InquiriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req inquiryRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, apierror.InvalidRequest("name is required", "name"))
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, apierror.InvalidRequest("email is required", "email"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, apierror.InvalidRequest("message is required", "message"))
		return
	}
	if len(req.Message) > maxInquiryMessageBytes {
		writeError(w, r, apierror.InvalidRequest("message is too long", "message"))
		return
	}

	inq, err := h.Store.Create(r.Context(), req.Name, req.Email, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Metrics.RecordInquiry()
	writeJSON(w, http.StatusCreated, inq)
}

func (h InquiriesHandler) List(w http.ResponseWriter, r *http.Request) {
	inquiries, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inquiries": inquiries})
}

// Promote turns an inquiry into a pipeline lead.
func (h InquiriesHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inq, lead, err := h.Store.Promote(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inquiry": inq, "lead": lead})
}

func (h InquiriesHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inq, err := h.Store.Archive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inq)
}
