// Package store is the PostgreSQL-backed CRM store: leads, invoices, case
// studies, inquiries, and the persisted site configuration.
//
// All operations are safe for concurrent use. Schema management runs through
// embedded goose migrations at startup.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/atelierhq/studio/internal/store/migrations"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidTransition is returned for illegal status changes, e.g. voiding
// a paid invoice.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// Store holds one connection pool and exposes the per-aggregate stores.
type Store struct {
	pool *pgxpool.Pool

	leads       *LeadStore
	invoices    *InvoiceStore
	caseStudies *CaseStudyStore
	inquiries   *InquiryStore
	siteConfig  *SiteConfigStore
}

// New connects to the database at dsn, runs pending migrations, and returns
// the store.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := migrate(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{
		pool:        pool,
		leads:       &LeadStore{pool: pool},
		invoices:    &InvoiceStore{pool: pool},
		caseStudies: &CaseStudyStore{pool: pool},
		inquiries:   &InquiryStore{pool: pool},
		siteConfig:  &SiteConfigStore{pool: pool},
	}, nil
}

// migrate runs goose migrations over a temporary database/sql connection;
// the pgx pool is only opened once the schema is current.
func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("store: open for migration: %w", err)
	}
	defer db.Close()
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Store) Leads() *LeadStore { return s.leads }

func (s *Store) Invoices() *InvoiceStore { return s.invoices }

func (s *Store) CaseStudies() *CaseStudyStore { return s.caseStudies }

func (s *Store) Inquiries() *InquiryStore { return s.inquiries }

func (s *Store) SiteConfig() *SiteConfigStore { return s.siteConfig }

// Pool exposes the underlying pool for components that need raw access,
// such as the site-config notification listener.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all connections held by the pool.
func (s *Store) Close() { s.pool.Close() }
