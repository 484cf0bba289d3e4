package engine

import (
	"math"
	"sync"
	"time"

	"monworld.ai/internal/sim/economy"
	"monworld.ai/internal/sim/shapes"
)

// MemoryPlanStore keeps plans in process memory. It honors the same
// optimistic-versioning contract as the sqlite store, so engine tests
// exercise the real persistence paths.
type MemoryPlanStore struct {
	mu   sync.Mutex
	rows map[string]StoredPlan

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{rows: map[string]StoredPlan{}}
}

func (s *MemoryPlanStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryPlanStore) Upsert(actorID string, p Plan, expectVersion uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.rows[actorID]
	if expectVersion == 0 {
		if exists {
			return 0, ErrVersionConflict
		}
	} else if !exists || cur.Version != expectVersion {
		return 0, ErrVersionConflict
	}
	next := expectVersion + 1
	s.rows[actorID] = StoredPlan{Plan: p, Version: next, UpdatedAt: s.now()}
	return next, nil
}

func (s *MemoryPlanStore) Delete(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, actorID)
	return nil
}

func (s *MemoryPlanStore) LoadActiveWithin(ttl time.Duration) ([]StoredPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	var out []StoredPlan
	for _, r := range s.rows {
		if !r.UpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryPlanStore) PurgeOlder(ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	n := 0
	for id, r := range s.rows {
		if r.UpdatedAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Touch backdates a stored row; test helper for TTL behavior.
func (s *MemoryPlanStore) Touch(actorID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[actorID]; ok {
		r.UpdatedAt = at
		s.rows[actorID] = r
	}
}

// MemoryWorld is an in-process primitive store and transactional placer
// backed by a MemoryLedger.
type MemoryWorld struct {
	mu     sync.Mutex
	prims  []shapes.Primitive
	Ledger *economy.MemoryLedger
}

func NewMemoryWorld(ledger *economy.MemoryLedger) *MemoryWorld {
	return &MemoryWorld{Ledger: ledger}
}

func (w *MemoryWorld) AllNear(pos shapes.Vec3, radius float64) ([]shapes.Primitive, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []shapes.Primitive
	for _, p := range w.prims {
		if math.Abs(p.Position.X-pos.X) <= radius && math.Abs(p.Position.Z-pos.Z) <= radius {
			out = append(out, p)
		}
	}
	return out, nil
}

func (w *MemoryWorld) Append(p shapes.Primitive) error {
	w.mu.Lock()
	w.prims = append(w.prims, p)
	w.mu.Unlock()
	return nil
}

func (w *MemoryWorld) PlacePrimitive(actorID string, cost int, p shapes.Primitive) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ok, err := w.Ledger.CheckAndDebit(actorID, cost)
	if err != nil {
		return err
	}
	if !ok {
		return economy.ErrInsufficientCredits
	}
	w.prims = append(w.prims, p)
	return nil
}

func (w *MemoryWorld) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prims)
}
