package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"monworld.ai/internal/protocol"
	"monworld.ai/internal/sim/compiler"
	"monworld.ai/internal/sim/economy"
	"monworld.ai/internal/sim/geometry"
	"monworld.ai/internal/sim/shapes"
)

// BatchOutcome is returned by Continue: either a progress snapshot for a
// still-active plan, or the terminal classification.
type BatchOutcome struct {
	Progress Progress
	Done     bool
	Failures []PieceFailure
}

// Continue attempts the next batch of pieces. The cursor advances past every
// attempted piece, placed or failed, so every plan terminates within a
// bounded number of calls.
func (e *Engine) Continue(actorID string) (BatchOutcome, error) {
	st := e.actor(actorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.plan == nil {
		return BatchOutcome{}, domainErr(protocol.ErrNoActivePlan, "no build plan in progress")
	}

	// Site proximity is a whole-call precondition, not per piece.
	p := st.plan.Plan
	if e.cfg.Locator != nil {
		pos, known := e.cfg.Locator.CurrentPosition(actorID)
		if !known {
			return BatchOutcome{}, &DomainError{
				Code:    protocol.ErrTooFar,
				Message: "actor position unknown",
				Detail:  map[string]any{"anchor": []float64{p.AnchorX, p.AnchorZ}},
			}
		}
		if d := distanceXZ(pos, p.AnchorX, p.AnchorZ); d > e.cfg.Tuning.SiteRadius {
			return BatchOutcome{}, &DomainError{
				Code:    protocol.ErrTooFar,
				Message: fmt.Sprintf("%.1f from build site, limit %.1f", d, e.cfg.Tuning.SiteRadius),
				Detail: map[string]any{
					"distance": d,
					"anchor":   []float64{p.AnchorX, p.AnchorZ},
				},
			}
		}
	}

	existing, err := e.cfg.Primitives.AllNear(
		shapes.Vec3{X: p.AnchorX, Z: p.AnchorZ},
		e.cfg.Tuning.NearRadius,
	)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("primitive store: %w", err)
	}

	// Work on a copy so a storage failure mid-batch leaves the in-memory
	// plan untouched; placements already written are reconciled on retry by
	// the already-placed check below.
	p.Failures = append([]PieceFailure(nil), p.Failures...)
	tol := geometry.Tolerances{Snap: e.cfg.Tuning.SnapTolerance, Overlap: e.cfg.Tuning.OverlapTolerance}
	now := e.cfg.Now()

	for n := 0; n < e.cfg.Tuning.BatchSize && p.Cursor < p.Total(); n++ {
		piece := p.Pieces[p.Cursor]

		// Primitive IDs are derived from plan ID and piece index, so a
		// placement that committed before a crash lost the plan update is
		// recognized on replay: counted, not re-placed and not re-debited.
		id := pieceID(p.ID, p.Cursor)
		if alreadyPlaced(existing, id) {
			p.Cursor++
			p.PlacedCount++
			continue
		}

		placePos, res := resolvePlacement(piece, existing, tol)
		if !res.OK {
			code := protocol.ErrNoSupport
			if res.Reason == geometry.ReasonOverlapping {
				code = protocol.ErrBlocked
			}
			p.Failures = append(p.Failures, PieceFailure{Index: p.Cursor, Code: code, Message: res.Reason})
			p.Cursor++
			continue
		}

		prim := shapes.Primitive{
			ID:        id,
			Shape:     piece.Shape,
			Position:  placePos,
			Rotation:  piece.Rotation,
			Scale:     piece.Scale,
			Color:     piece.Color,
			OwnerID:   actorID,
			CreatedAt: now,
		}
		err := e.cfg.Placer.PlacePrimitive(actorID, e.cfg.Tuning.PieceCost, prim)
		if errors.Is(err, economy.ErrInsufficientCredits) {
			// The slot is still spent: the actor must notice depletion
			// rather than stall the plan forever.
			p.Failures = append(p.Failures, PieceFailure{Index: p.Cursor, Code: protocol.ErrNoCredits, Message: "credit debit refused"})
			p.Cursor++
			continue
		}
		if err != nil {
			return BatchOutcome{}, fmt.Errorf("place piece %d: %w", p.Cursor, err)
		}

		e.cfg.Sink.PiecePlaced(PlacementRecord{
			ActorID:    actorID,
			PlanID:     p.ID,
			PieceIndex: p.Cursor,
			Primitive:  prim,
			At:         now,
		})
		existing = append(existing, prim)
		p.Cursor++
		p.PlacedCount++
	}

	if p.Cursor >= p.Total() {
		return e.finalize(st, actorID, p)
	}

	ver, err := e.cfg.Plans.Upsert(actorID, p, st.plan.Version)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("persist plan: %w", err)
	}
	st.plan = &StoredPlan{Plan: p, Version: ver, UpdatedAt: now}

	prog := e.progressOf(p)
	e.cfg.Sink.BuildProgress(ProgressRecord{
		ActorID:   actorID,
		PlanID:    p.ID,
		Blueprint: p.Blueprint,
		Status:    StatusActive,
		Placed:    p.PlacedCount,
		Total:     p.Total(),
		Failed:    len(p.Failures),
		Phase:     prog.Phase,
		At:        now,
	})
	return BatchOutcome{Progress: prog}, nil
}

func (e *Engine) finalize(st *actorState, actorID string, p Plan) (BatchOutcome, error) {
	status := StatusCompleted
	if p.PlacedCount != p.Total() {
		status = StatusCompletedWithFailures
	}
	if err := e.cfg.Plans.Delete(actorID); err != nil {
		return BatchOutcome{}, fmt.Errorf("clear plan: %w", err)
	}
	st.plan = nil

	e.cfg.Sink.BuildProgress(ProgressRecord{
		ActorID:   actorID,
		PlanID:    p.ID,
		Blueprint: p.Blueprint,
		Status:    status,
		Placed:    p.PlacedCount,
		Total:     p.Total(),
		Failed:    len(p.Failures),
		At:        e.cfg.Now(),
	})
	return BatchOutcome{
		Progress: Progress{
			Blueprint: p.Blueprint,
			Placed:    p.PlacedCount,
			Total:     p.Total(),
			Failed:    len(p.Failures),
			Status:    status,
		},
		Done:     true,
		Failures: p.Failures,
	}, nil
}

// resolvePlacement runs the strict two-step validation pipeline: validate,
// then on failure substitute the corrected Y and validate exactly once more.
func resolvePlacement(piece compiler.Piece, existing []shapes.Primitive, tol geometry.Tolerances) (shapes.Vec3, geometry.Result) {
	res := geometry.Validate(piece.Shape, piece.Position, piece.Scale, existing, tol)
	pos := piece.Position
	if res.OK {
		pos.Y = res.CorrectedY
		return pos, res
	}
	corrected := piece.Position
	corrected.Y = res.CorrectedY
	res2 := geometry.Validate(piece.Shape, corrected, piece.Scale, existing, tol)
	if res2.OK {
		corrected.Y = res2.CorrectedY
		return corrected, res2
	}
	return piece.Position, res2
}

// pieceID is the deterministic primitive ID for one plan piece (UUIDv5
// under the plan's ID). Re-attempting a piece always targets the same ID,
// so a committed placement cannot be duplicated. Geometry cannot answer
// "was this piece already placed" on its own: a tower of identical pieces
// makes the next piece and a replayed piece indistinguishable by position.
func pieceID(planID string, idx int) string {
	ns, err := uuid.Parse(planID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(planID))
	}
	return uuid.NewSHA1(ns, []byte(fmt.Sprintf("piece-%d", idx))).String()
}

func alreadyPlaced(existing []shapes.Primitive, id string) bool {
	for _, pr := range existing {
		if pr.ID == id {
			return true
		}
	}
	return false
}
