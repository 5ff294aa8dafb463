package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelierhq/studio/internal/billing"
	"github.com/atelierhq/studio/internal/metrics"
	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
)

// InvoiceStore is the persistence surface the invoice handlers need.
type InvoiceStore interface {
	List(ctx context.Context) ([]store.Invoice, error)
	Get(ctx context.Context, id int64) (store.Invoice, error)
	Create(ctx context.Context, inv store.Invoice) (store.Invoice, error)
	MarkSent(ctx context.Context, id int64, stripeInvoiceID string) (store.Invoice, error)
	MarkPaid(ctx context.Context, id int64) (store.Invoice, error)
	Void(ctx context.Context, id int64) (store.Invoice, error)
}

// InvoicesHandler serves the admin invoice API. Send pushes the invoice
// through Stripe and records the transition.
type InvoicesHandler struct {
	Store   InvoiceStore
	Issuer  billing.Issuer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type invoiceRequest struct {
	LeadID      *int64 `json:"lead_id,omitempty"`
	Number      string `json:"number"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency,omitempty"`
}

func (h InvoicesHandler) List(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h InvoicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h InvoicesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := decodeBody(w, r, 0, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeError(w, r, apierror.InvalidRequest("number is required", "number"))
		return
	}
	if strings.TrimSpace(req.ClientName) == "" {
		writeError(w, r, apierror.InvalidRequest("client_name is required", "client_name"))
		return
	}
	if req.AmountCents <= 0 {
		writeError(w, r, apierror.InvalidRequest("amount_cents must be > 0", "amount_cents"))
		return
	}

	inv, err := h.Store.Create(r.Context(), store.Invoice{
		LeadID:      req.LeadID,
		Number:      strings.TrimSpace(req.Number),
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientEmail: strings.TrimSpace(req.ClientEmail),
		Description: req.Description,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// Send delivers a draft invoice through Stripe and marks it sent. The Stripe
// call happens before the local transition so a delivery failure leaves the
// invoice in draft.
func (h InvoicesHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !store.CanTransition(inv.Status, store.InvoiceSent) {
		writeError(w, r, apierror.Conflict("invoice is not in a sendable state"))
		return
	}
	if strings.TrimSpace(inv.ClientEmail) == "" {
		writeError(w, r, apierror.InvalidRequest("invoice has no client_email to send to", "client_email"))
		return
	}

	stripeID, err := h.Issuer.SendInvoice(r.Context(), inv)
	if err != nil {
		if errors.Is(err, billing.ErrDisabled) {
			writeError(w, r, apierror.Conflict("invoice sending is not configured"))
			return
		}
		if h.Logger != nil {
			h.Logger.Warn("stripe send failed", "invoice_id", id, "error", err)
		}
		writeError(w, r, apierror.Upstream("invoice delivery failed", "stripe_error"))
		return
	}

	sent, err := h.Store.MarkSent(r.Context(), id, stripeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Metrics.RecordInvoiceSent()
	writeJSON(w, http.StatusOK, sent)
}

func (h InvoicesHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.Store.MarkPaid(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h InvoicesHandler) Void(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.Store.Void(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
