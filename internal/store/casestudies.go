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

// CaseStudy is one portfolio entry. Unpublished entries are only visible
// through the admin API.
type CaseStudy struct {
	ID         int64     `json:"id"`
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Body       string    `json:"body"`
	CoverImage string    `json:"cover_image"`
	Published  bool      `json:"published"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CaseStudyStore persists portfolio case studies.
type CaseStudyStore struct {
	pool *pgxpool.Pool
}

const caseStudyColumns = "id, slug, title, summary, body, cover_image, published, created_at, updated_at"

func scanCaseStudy(row pgx.Row) (CaseStudy, error) {
	var cs CaseStudy
	err := row.Scan(&cs.ID, &cs.Slug, &cs.Title, &cs.Summary, &cs.Body,
		&cs.CoverImage, &cs.Published, &cs.CreatedAt, &cs.UpdatedAt)
	return cs, err
}

// List returns case studies newest first. When publishedOnly is set,
// unpublished entries are filtered out.
func (s *CaseStudyStore) List(ctx context.Context, publishedOnly bool) ([]CaseStudy, error) {
	q := "SELECT " + caseStudyColumns + " FROM case_studies"
	if publishedOnly {
		q += " WHERE published"
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("case studies: list: %w", err)
	}
	defer rows.Close()

	var out []CaseStudy
	for rows.Next() {
		cs, err := scanCaseStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("case studies: scan: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("case studies: list: %w", err)
	}
	return out, nil
}

// GetBySlug returns one case study, or ErrNotFound. Unpublished entries are
// returned only when includeUnpublished is set.
func (s *CaseStudyStore) GetBySlug(ctx context.Context, slug string, includeUnpublished bool) (CaseStudy, error) {
	q := "SELECT " + caseStudyColumns + " FROM case_studies WHERE slug = $1"
	if !includeUnpublished {
		q += " AND published"
	}
	cs, err := scanCaseStudy(s.pool.QueryRow(ctx, q, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return CaseStudy{}, ErrNotFound
	}
	if err != nil {
		return CaseStudy{}, fmt.Errorf("case studies: get: %w", err)
	}
	return cs, nil
}

// Create inserts a new case study, unpublished unless stated otherwise.
func (s *CaseStudyStore) Create(ctx context.Context, cs CaseStudy) (CaseStudy, error) {
	cs.Slug = Slugify(cs.Slug)
	if cs.Slug == "" {
		cs.Slug = Slugify(cs.Title)
	}
	if cs.Slug == "" {
		return CaseStudy{}, errors.New("case studies: slug or title is required")
	}
	if strings.TrimSpace(cs.Title) == "" {
		return CaseStudy{}, errors.New("case studies: title is required")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO case_studies (slug, title, summary, body, cover_image, published)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+caseStudyColumns,
		cs.Slug, cs.Title, cs.Summary, cs.Body, cs.CoverImage, cs.Published)
	created, err := scanCaseStudy(row)
	if err != nil {
		return CaseStudy{}, fmt.Errorf("case studies: create: %w", err)
	}
	return created, nil
}

// Update rewrites the content fields of a case study.
func (s *CaseStudyStore) Update(ctx context.Context, id int64, title, summary, body, coverImage string) (CaseStudy, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE case_studies
		SET title = $2, summary = $3, body = $4, cover_image = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+caseStudyColumns,
		id, title, summary, body, coverImage)
	cs, err := scanCaseStudy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CaseStudy{}, ErrNotFound
	}
	if err != nil {
		return CaseStudy{}, fmt.Errorf("case studies: update: %w", err)
	}
	return cs, nil
}

// SetPublished flips the publish flag.
func (s *CaseStudyStore) SetPublished(ctx context.Context, id int64, published bool) (CaseStudy, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE case_studies SET published = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+caseStudyColumns, id, published)
	cs, err := scanCaseStudy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CaseStudy{}, ErrNotFound
	}
	if err != nil {
		return CaseStudy{}, fmt.Errorf("case studies: set published: %w", err)
	}
	return cs, nil
}

// Delete removes a case study.
func (s *CaseStudyStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM case_studies WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("case studies: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Slugify lowercases s and collapses runs of non-alphanumerics into single
// hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
