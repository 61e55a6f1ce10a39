package resolver

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/harun/ranya-engine/internal/config"
)

// Store holds the current resolver. Runs take a snapshot with Current at
// start and keep it; Update swaps the pointer for future callers only.
type Store struct {
	current atomic.Pointer[Resolver]
	logger  zerolog.Logger
}

// NewStore creates a store seeded with r
func NewStore(r *Resolver, logger zerolog.Logger) *Store {
	s := &Store{logger: logger.With().Str("component", "resolver").Logger()}
	s.current.Store(r)
	return s
}

// Current returns the active resolver
func (s *Store) Current() *Resolver {
	return s.current.Load()
}

// Update builds a resolver from cfg and installs it. On error the previous
// resolver stays active.
func (s *Store) Update(cfg *config.Config) error {
	r, err := New(cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Rejected resolver update")
		return err
	}
	s.current.Store(r)
	s.logger.Info().Int("agents", len(r.order)).Int("bindings", len(r.bindings)).Msg("Resolver updated")
	return nil
}

// OnReload adapts Update to a config watcher subscription
func (s *Store) OnReload(cfg *config.Config) {
	_ = s.Update(cfg)
}
