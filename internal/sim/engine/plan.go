package engine

import (
	"time"

	"monworld.ai/internal/sim/compiler"
)

// Terminal statuses. A plan that is still in the store is implicitly active;
// terminal plans are deleted, so these only appear in results and events.
const (
	StatusActive                = "active"
	StatusCompleted             = "completed"
	StatusCompletedWithFailures = "completed_with_failures"
	StatusCancelled             = "cancelled"
)

// Plan is the persisted, per-actor progress record of one in-progress
// blueprint build. Invariant: 0 <= PlacedCount <= Cursor <= len(Pieces).
type Plan struct {
	ID          string  `json:"id"`
	ActorID     string  `json:"actor_id"`
	Blueprint   string  `json:"blueprint"`
	AnchorX     float64 `json:"anchor_x"`
	AnchorZ     float64 `json:"anchor_z"`
	Orientation float64 `json:"orientation"`

	Pieces          []compiler.Piece `json:"pieces"`
	PhaseNames      []string         `json:"phase_names"`
	PhaseBoundaries []int            `json:"phase_boundaries"`

	Cursor      int            `json:"cursor"`
	PlacedCount int            `json:"placed_count"`
	Failures    []PieceFailure `json:"failures,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// PieceFailure records one piece the batch loop gave up on. Failures are
// never retried.
type PieceFailure struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StoredPlan pairs a plan with its optimistic-concurrency version and the
// store's last-write time.
type StoredPlan struct {
	Plan      Plan
	Version   uint64
	UpdatedAt time.Time
}

func (p Plan) Total() int { return len(p.Pieces) }

// PhaseAt returns the human-readable phase label for a cursor position.
func (p Plan) PhaseAt(cursor int) string {
	for i, b := range p.PhaseBoundaries {
		if cursor < b {
			return p.PhaseNames[i]
		}
	}
	if n := len(p.PhaseNames); n > 0 {
		return p.PhaseNames[n-1]
	}
	return ""
}

func (p Plan) nextBatch(batchSize int) int {
	rem := p.Total() - p.Cursor
	if rem < 0 {
		rem = 0
	}
	if rem > batchSize {
		return batchSize
	}
	return rem
}
