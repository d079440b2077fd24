package state

import (
	"fmt"
	"sync"
	"sync/atomic"

	"nightroad.app/internal/sim/clock"
)

// TemplateSource supplies a fresh initial state for a world id.
type TemplateSource interface {
	Template(worldID string) (WorldState, error)
}

// Store owns the canonical WorldState. Every write swaps in a new value, so a
// reader sees the state entirely before or entirely after any write.
//
// Store only makes single operations atomic; read-decide-write sequences
// spanning several calls must be serialized by the caller.
type Store struct {
	src     TemplateSource
	worldID string
	clock   clock.Clock

	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[WorldState]
}

func NewStore(src TemplateSource, worldID string, clk clock.Clock) (*Store, error) {
	if src == nil {
		return nil, fmt.Errorf("state: nil template source")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Store{src: src, worldID: worldID, clock: clk}
	if _, err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// WorldID is the default world the store loads on reset.
func (s *Store) WorldID() string { return s.worldID }

// State returns the current snapshot. It must be treated as read-only.
func (s *Store) State() WorldState { return *s.cur.Load() }

func (s *Store) ApplyPatch(p Patch) (WorldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Apply(*s.cur.Load(), p)
	if err != nil {
		return WorldState{}, fmt.Errorf("apply patch: %w", err)
	}
	s.cur.Store(&next)
	return next, nil
}

// Reset replaces the state with a fresh copy of the default world template.
func (s *Store) Reset() (WorldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.src.Template(s.worldID)
	if err != nil {
		return WorldState{}, fmt.Errorf("load template %s: %w", s.worldID, err)
	}
	next.normalize()
	if next.Player.EnergyUpdatedAt.IsZero() {
		next.Player.EnergyUpdatedAt = s.clock.Now().UTC()
	}
	s.cur.Store(&next)
	return next, nil
}
