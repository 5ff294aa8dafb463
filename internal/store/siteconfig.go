package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierhq/studio/internal/siteconfig"
)

// SiteConfigStore persists the single-row site configuration.
type SiteConfigStore struct {
	pool *pgxpool.Pool
}

// Load returns the persisted site configuration.
func (s *SiteConfigStore) Load(ctx context.Context) (siteconfig.Config, error) {
	var cfg siteconfig.Config
	err := s.pool.QueryRow(ctx,
		"SELECT hero_avatar, home_about_image, about_hero FROM site_config WHERE id = 1").
		Scan(&cfg.HeroAvatar, &cfg.HomeAboutImage, &cfg.AboutHero)
	if err != nil {
		return siteconfig.Config{}, fmt.Errorf("site config: load: %w", err)
	}
	return cfg, nil
}

// Apply persists a patch, overwriting only the keys present in it, and
// returns the merged configuration.
func (s *SiteConfigStore) Apply(ctx context.Context, p siteconfig.Patch) (siteconfig.Config, error) {
	var cfg siteconfig.Config
	err := s.pool.QueryRow(ctx, `
		UPDATE site_config
		SET hero_avatar      = COALESCE($1, hero_avatar),
		    home_about_image = COALESCE($2, home_about_image),
		    about_hero       = COALESCE($3, about_hero),
		    updated_at       = now()
		WHERE id = 1
		RETURNING hero_avatar, home_about_image, about_hero`,
		p.HeroAvatar, p.HomeAboutImage, p.AboutHero).
		Scan(&cfg.HeroAvatar, &cfg.HomeAboutImage, &cfg.AboutHero)
	if err != nil {
		return siteconfig.Config{}, fmt.Errorf("site config: apply: %w", err)
	}
	return cfg, nil
}
