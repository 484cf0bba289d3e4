package engine

import (
	"time"

	"monworld.ai/internal/sim/shapes"
)

// ProgressRecord is the structured progress event emitted after every batch
// and on every terminal transition. The engine does not format or deliver
// announcements; downstream sinks do.
type ProgressRecord struct {
	ActorID   string    `json:"actor_id"`
	PlanID    string    `json:"plan_id"`
	Blueprint string    `json:"blueprint"`
	Status    string    `json:"status"`
	Placed    int       `json:"placed"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
	Phase     string    `json:"phase,omitempty"`
	At        time.Time `json:"at"`
}

// PlacementRecord is emitted once per accepted piece, for audit streams.
type PlacementRecord struct {
	ActorID    string           `json:"actor_id"`
	PlanID     string           `json:"plan_id"`
	PieceIndex int              `json:"piece_index"`
	Primitive  shapes.Primitive `json:"primitive"`
	At         time.Time        `json:"at"`
}

type EventSink interface {
	BuildProgress(rec ProgressRecord)
	PiecePlaced(rec PlacementRecord)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) BuildProgress(ProgressRecord) {}
func (NopSink) PiecePlaced(PlacementRecord)  {}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) BuildProgress(rec ProgressRecord) {
	for _, s := range m {
		s.BuildProgress(rec)
	}
}

func (m MultiSink) PiecePlaced(rec PlacementRecord) {
	for _, s := range m {
		s.PiecePlaced(rec)
	}
}
