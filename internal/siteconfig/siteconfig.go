// Package siteconfig is the shared site appearance state: a small set of
// image slots edited from the admin surface and read by every public page.
// Updates flow through an explicit store with typed subscribers so the merge
// contract (only keys present in a patch overwrite) is checkable, instead of
// ambient broadcast events.
package siteconfig

import (
	"sync"
)

// Config is the full site appearance state.
type Config struct {
	HeroAvatar     string `json:"heroAvatar"`
	HomeAboutImage string `json:"homeAboutImage"`
	AboutHero      string `json:"aboutHero"`
}

// Patch is a partial update. Nil fields leave the corresponding key alone;
// a non-nil pointer overwrites, including with the empty string.
type Patch struct {
	HeroAvatar     *string `json:"heroAvatar,omitempty"`
	HomeAboutImage *string `json:"homeAboutImage,omitempty"`
	AboutHero      *string `json:"aboutHero,omitempty"`
}

// IsZero reports whether the patch carries no keys.
func (p Patch) IsZero() bool {
	return p.HeroAvatar == nil && p.HomeAboutImage == nil && p.AboutHero == nil
}

// Merge returns cfg with the patch's present keys applied.
func Merge(cfg Config, p Patch) Config {
	if p.HeroAvatar != nil {
		cfg.HeroAvatar = *p.HeroAvatar
	}
	if p.HomeAboutImage != nil {
		cfg.HomeAboutImage = *p.HomeAboutImage
	}
	if p.AboutHero != nil {
		cfg.AboutHero = *p.AboutHero
	}
	return cfg
}

// Store holds the current config and fans patches out to subscribers.
type Store struct {
	mu      sync.Mutex
	current Config
	nextID  int64
	subs    map[int64]func(Patch)
}

// NewStore returns a store seeded with initial.
func NewStore(initial Config) *Store {
	return &Store{current: initial, subs: make(map[int64]func(Patch))}
}

// Current returns the config as of the last applied patch.
func (s *Store) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Apply merges the patch into the current config and notifies every
// subscriber with the patch (not the merged state, so subscribers can apply
// the same only-present-keys rule to their own copies). Empty patches are
// dropped without notification.
func (s *Store) Apply(p Patch) Config {
	if p.IsZero() {
		return s.Current()
	}

	s.mu.Lock()
	s.current = Merge(s.current, p)
	merged := s.current
	subs := make([]func(Patch), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
	return merged
}

// Subscribe registers fn for every future patch and returns an unsubscribe
// func. Unsubscribing twice is a no-op.
func (s *Store) Subscribe(fn func(Patch)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
