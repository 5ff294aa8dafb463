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

// Pipeline stages, in board order.
const (
	StageNew       = "new"
	StageContacted = "contacted"
	StageProposal  = "proposal"
	StageWon       = "won"
	StageLost      = "lost"
)

// Stages lists the pipeline stages in display order.
func Stages() []string {
	return []string{StageNew, StageContacted, StageProposal, StageWon, StageLost}
}

// ValidStage reports whether s names a pipeline stage.
func ValidStage(s string) bool {
	switch s {
	case StageNew, StageContacted, StageProposal, StageWon, StageLost:
		return true
	}
	return false
}

// Lead is one card on the pipeline board. Position is the zero-based index
// within its stage column.
type Lead struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	Notes     string    `json:"notes"`
	Stage     string    `json:"stage"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeadStore persists pipeline leads.
type LeadStore struct {
	pool *pgxpool.Pool
}

const leadColumns = "id, name, email, company, notes, stage, position, created_at, updated_at"

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Company, &l.Notes, &l.Stage, &l.Position, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// List returns all leads in board order: by stage, then position.
func (s *LeadStore) List(ctx context.Context) ([]Lead, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+leadColumns+" FROM leads ORDER BY stage, position, id")
	if err != nil {
		return nil, fmt.Errorf("leads: list: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list: %w", err)
	}
	return out, nil
}

// Get returns one lead, or ErrNotFound.
func (s *LeadStore) Get(ctx context.Context, id int64) (Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx,
		"SELECT "+leadColumns+" FROM leads WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("leads: get: %w", err)
	}
	return l, nil
}

// Create appends a lead at the bottom of its stage column.
func (s *LeadStore) Create(ctx context.Context, l Lead) (Lead, error) {
	if strings.TrimSpace(l.Name) == "" {
		return Lead{}, fmt.Errorf("leads: %w", errors.New("name is required"))
	}
	if l.Stage == "" {
		l.Stage = StageNew
	}
	if !ValidStage(l.Stage) {
		return Lead{}, fmt.Errorf("leads: unknown stage %q", l.Stage)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads (name, email, company, notes, stage, position)
		VALUES ($1, $2, $3, $4, $5,
		    (SELECT COALESCE(MAX(position) + 1, 0) FROM leads WHERE stage = $5))
		RETURNING `+leadColumns,
		l.Name, l.Email, l.Company, l.Notes, l.Stage)
	created, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("leads: create: %w", err)
	}
	return created, nil
}

// Update rewrites the editable fields of a lead. Stage and position are
// changed through Move, not here.
func (s *LeadStore) Update(ctx context.Context, id int64, name, email, company, notes string) (Lead, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE leads
		SET name = $2, email = $3, company = $4, notes = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns,
		id, name, email, company, notes)
	l, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("leads: update: %w", err)
	}
	return l, nil
}

// Delete removes a lead and closes the gap in its stage column.
func (s *LeadStore) Delete(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var stage string
		var pos int
		err := tx.QueryRow(ctx,
			"DELETE FROM leads WHERE id = $1 RETURNING stage, position", id).Scan(&stage, &pos)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("leads: delete: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE leads SET position = position - 1 WHERE stage = $1 AND position > $2",
			stage, pos); err != nil {
			return fmt.Errorf("leads: renumber after delete: %w", err)
		}
		return nil
	})
}

// Move places a lead at position toPos in stage toStage, renumbering both
// the source and target columns so positions stay dense. The whole move is
// one transaction; a concurrent move of the same lead serializes on the row
// lock.
func (s *LeadStore) Move(ctx context.Context, id int64, toStage string, toPos int) (Lead, error) {
	if !ValidStage(toStage) {
		return Lead{}, fmt.Errorf("leads: unknown stage %q", toStage)
	}

	var moved Lead
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var fromStage string
		var fromPos int
		err := tx.QueryRow(ctx,
			"SELECT stage, position FROM leads WHERE id = $1 FOR UPDATE", id).
			Scan(&fromStage, &fromPos)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("leads: lock row: %w", err)
		}

		// Lift the card out of its column.
		if _, err := tx.Exec(ctx,
			"UPDATE leads SET position = position - 1 WHERE stage = $1 AND position > $2",
			fromStage, fromPos); err != nil {
			return fmt.Errorf("leads: close source gap: %w", err)
		}

		// Clamp the target position to the column length after removal.
		var count int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM leads WHERE stage = $1 AND id <> $2",
			toStage, id).Scan(&count); err != nil {
			return fmt.Errorf("leads: count target column: %w", err)
		}
		if toPos < 0 {
			toPos = 0
		}
		if toPos > count {
			toPos = count
		}

		if _, err := tx.Exec(ctx,
			"UPDATE leads SET position = position + 1 WHERE stage = $1 AND position >= $2 AND id <> $3",
			toStage, toPos, id); err != nil {
			return fmt.Errorf("leads: open target gap: %w", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE leads SET stage = $2, position = $3, updated_at = now()
			WHERE id = $1
			RETURNING `+leadColumns,
			id, toStage, toPos)
		moved, err = scanLead(row)
		if err != nil {
			return fmt.Errorf("leads: move: %w", err)
		}
		return nil
	})
	if err != nil {
		return Lead{}, err
	}
	return moved, nil
}

func (s *LeadStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("leads: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("leads: commit: %w", err)
	}
	return nil
}
