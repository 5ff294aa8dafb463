package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Invoice statuses.
const (
	InvoiceDraft = "draft"
	InvoicePaid  = "paid"
	InvoiceSent  = "sent"
	InvoiceVoid  = "void"
)

// CanTransition reports whether an invoice may move from one status to
// another: draft→sent, sent→paid, and draft/sent→void. Paid and void are
// terminal.
func CanTransition(from, to string) bool {
	switch from {
	case InvoiceDraft:
		return to == InvoiceSent || to == InvoiceVoid
	case InvoiceSent:
		return to == InvoicePaid || to == InvoiceVoid
	default:
		return false
	}
}

// Invoice is one billing record, optionally linked to a lead.
type Invoice struct {
	ID              int64      `json:"id"`
	LeadID          *int64     `json:"lead_id,omitempty"`
	Number          string     `json:"number"`
	ClientName      string     `json:"client_name"`
	ClientEmail     string     `json:"client_email"`
	Description     string     `json:"description"`
	AmountCents     int64      `json:"amount_cents"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	StripeInvoiceID string     `json:"stripe_invoice_id,omitempty"`
	IssuedAt        *time.Time `json:"issued_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// InvoiceStore persists invoices.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

const invoiceColumns = `id, lead_id, number, client_name, client_email, description,
	amount_cents, currency, status, stripe_invoice_id, issued_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.LeadID, &inv.Number, &inv.ClientName, &inv.ClientEmail,
		&inv.Description, &inv.AmountCents, &inv.Currency, &inv.Status,
		&inv.StripeInvoiceID, &inv.IssuedAt, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

// List returns invoices newest first.
func (s *InvoiceStore) List(ctx context.Context) ([]Invoice, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+invoiceColumns+" FROM invoices ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("invoices: list: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("invoices: scan: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invoices: list: %w", err)
	}
	return out, nil
}

// Get returns one invoice, or ErrNotFound.
func (s *InvoiceStore) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: get: %w", err)
	}
	return inv, nil
}

// Create inserts a draft invoice.
func (s *InvoiceStore) Create(ctx context.Context, inv Invoice) (Invoice, error) {
	if strings.TrimSpace(inv.Number) == "" {
		return Invoice{}, errors.New("invoices: number is required")
	}
	if strings.TrimSpace(inv.ClientName) == "" {
		return Invoice{}, errors.New("invoices: client_name is required")
	}
	if inv.AmountCents <= 0 {
		return Invoice{}, errors.New("invoices: amount_cents must be > 0")
	}
	if inv.Currency == "" {
		inv.Currency = "usd"
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO invoices (lead_id, number, client_name, client_email, description, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+invoiceColumns,
		inv.LeadID, inv.Number, inv.ClientName, inv.ClientEmail, inv.Description,
		inv.AmountCents, strings.ToLower(inv.Currency))
	created, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: create: %w", err)
	}
	return created, nil
}

// MarkSent records that the invoice went out, storing the Stripe invoice ID.
func (s *InvoiceStore) MarkSent(ctx context.Context, id int64, stripeInvoiceID string) (Invoice, error) {
	return s.transition(ctx, id, InvoiceSent, `
		UPDATE invoices
		SET status = $2, stripe_invoice_id = $3, issued_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns, stripeInvoiceID)
}

// MarkPaid records payment of a sent invoice.
func (s *InvoiceStore) MarkPaid(ctx context.Context, id int64) (Invoice, error) {
	return s.transition(ctx, id, InvoicePaid, `
		UPDATE invoices
		SET status = $2, paid_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns)
}

// Void cancels a draft or sent invoice.
func (s *InvoiceStore) Void(ctx context.Context, id int64) (Invoice, error) {
	return s.transition(ctx, id, InvoiceVoid, `
		UPDATE invoices
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns)
}

func (s *InvoiceStore) transition(ctx context.Context, id int64, to, query string, extra ...any) (Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var from string
	err = tx.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1 FOR UPDATE", id).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: lock row: %w", err)
	}
	if !CanTransition(from, to) {
		return Invoice{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	args := append([]any{id, to}, extra...)
	inv, err := scanInvoice(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: transition to %s: %w", to, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Invoice{}, fmt.Errorf("invoices: commit: %w", err)
	}
	return inv, nil
}
