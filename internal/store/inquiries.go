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

// Inquiry statuses.
const (
	InquiryNew      = "new"
	InquiryPromoted = "promoted"
	InquiryArchived = "archived"
)

// Inquiry is a message from the public contact form. Promoting an inquiry
// creates a pipeline lead from it.
type Inquiry struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	LeadID    *int64    `json:"lead_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InquiryStore persists contact-form inquiries.
type InquiryStore struct {
	pool *pgxpool.Pool
}

const inquiryColumns = "id, name, email, message, status, lead_id, created_at"

func scanInquiry(row pgx.Row) (Inquiry, error) {
	var q Inquiry
	err := row.Scan(&q.ID, &q.Name, &q.Email, &q.Message, &q.Status, &q.LeadID, &q.CreatedAt)
	return q, err
}

// Create records a new inquiry from the public site.
func (s *InquiryStore) Create(ctx context.Context, name, email, message string) (Inquiry, error) {
	if strings.TrimSpace(name) == "" {
		return Inquiry{}, errors.New("inquiries: name is required")
	}
	if strings.TrimSpace(email) == "" {
		return Inquiry{}, errors.New("inquiries: email is required")
	}
	if strings.TrimSpace(message) == "" {
		return Inquiry{}, errors.New("inquiries: message is required")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO inquiries (name, email, message)
		VALUES ($1, $2, $3)
		RETURNING `+inquiryColumns,
		strings.TrimSpace(name), strings.TrimSpace(email), message)
	q, err := scanInquiry(row)
	if err != nil {
		return Inquiry{}, fmt.Errorf("inquiries: create: %w", err)
	}
	return q, nil
}

// List returns inquiries newest first.
func (s *InquiryStore) List(ctx context.Context) ([]Inquiry, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+inquiryColumns+" FROM inquiries ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("inquiries: list: %w", err)
	}
	defer rows.Close()

	var out []Inquiry
	for rows.Next() {
		q, err := scanInquiry(rows)
		if err != nil {
			return nil, fmt.Errorf("inquiries: scan: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inquiries: list: %w", err)
	}
	return out, nil
}

// Promote turns a new inquiry into a lead at the bottom of the "new" stage
// and links the two. Promoting twice fails with ErrInvalidTransition.
func (s *InquiryStore) Promote(ctx context.Context, id int64) (Inquiry, Lead, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Inquiry{}, Lead{}, fmt.Errorf("inquiries: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inq, err := scanInquiry(tx.QueryRow(ctx,
		"SELECT "+inquiryColumns+" FROM inquiries WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Inquiry{}, Lead{}, ErrNotFound
	}
	if err != nil {
		return Inquiry{}, Lead{}, fmt.Errorf("inquiries: lock row: %w", err)
	}
	if inq.Status != InquiryNew {
		return Inquiry{}, Lead{}, fmt.Errorf("%w: inquiry is %s", ErrInvalidTransition, inq.Status)
	}

	lead, err := scanLead(tx.QueryRow(ctx, `
		INSERT INTO leads (name, email, notes, stage, position)
		VALUES ($1, $2, $3, $4,
		    (SELECT COALESCE(MAX(position) + 1, 0) FROM leads WHERE stage = $4))
		RETURNING `+leadColumns,
		inq.Name, inq.Email, inq.Message, StageNew))
	if err != nil {
		return Inquiry{}, Lead{}, fmt.Errorf("inquiries: create lead: %w", err)
	}

	inq, err = scanInquiry(tx.QueryRow(ctx, `
		UPDATE inquiries SET status = $2, lead_id = $3
		WHERE id = $1
		RETURNING `+inquiryColumns,
		id, InquiryPromoted, lead.ID))
	if err != nil {
		return Inquiry{}, Lead{}, fmt.Errorf("inquiries: mark promoted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Inquiry{}, Lead{}, fmt.Errorf("inquiries: commit: %w", err)
	}
	return inq, lead, nil
}

// Archive hides an inquiry without promoting it.
func (s *InquiryStore) Archive(ctx context.Context, id int64) (Inquiry, error) {
	q, err := scanInquiry(s.pool.QueryRow(ctx, `
		UPDATE inquiries SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING `+inquiryColumns,
		id, InquiryArchived, InquiryNew))
	if errors.Is(err, pgx.ErrNoRows) {
		return Inquiry{}, ErrNotFound
	}
	if err != nil {
		return Inquiry{}, fmt.Errorf("inquiries: archive: %w", err)
	}
	return q, nil
}
