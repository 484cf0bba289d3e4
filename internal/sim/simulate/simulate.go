// Package simulate is the regression gate for blueprint authoring: it
// places an entire template into an empty world using only the compiler and
// the validator, and reports any piece that fails. It never touches live
// stores.
package simulate

import (
	"monworld.ai/internal/sim/catalogs"
	"monworld.ai/internal/sim/compiler"
	"monworld.ai/internal/sim/geometry"
	"monworld.ai/internal/sim/shapes"
)

type PieceReport struct {
	Index      int
	Phase      string
	Shape      shapes.Kind
	OK         bool
	Reason     string
	RequestedY float64
	PlacedY    float64
}

type Report struct {
	Blueprint   string
	Orientation float64
	Total       int
	Valid       int
	Pieces      []PieceReport
}

func (r Report) AllValid() bool { return r.Valid == r.Total }

// Run compiles the template at the origin with the given orientation and
// validates every piece in order against the pieces accepted so far,
// applying corrections the same way the live batch loop does.
func Run(tpl catalogs.Template, orientationDeg float64, tol geometry.Tolerances) Report {
	cp := compiler.Compile(tpl, 0, 0, orientationDeg)
	rep := Report{
		Blueprint:   tpl.Name,
		Orientation: orientationDeg,
		Total:       len(cp.Pieces),
	}

	var world []shapes.Primitive
	for i, piece := range cp.Pieces {
		pr := PieceReport{
			Index:      i,
			Phase:      phaseOf(cp, i),
			Shape:      piece.Shape,
			RequestedY: piece.Position.Y,
		}

		res := geometry.Validate(piece.Shape, piece.Position, piece.Scale, world, tol)
		pos := piece.Position
		if res.OK {
			pos.Y = res.CorrectedY
		} else {
			corrected := piece.Position
			corrected.Y = res.CorrectedY
			res = geometry.Validate(piece.Shape, corrected, piece.Scale, world, tol)
			if res.OK {
				corrected.Y = res.CorrectedY
				pos = corrected
			}
		}

		if res.OK {
			pr.OK = true
			pr.PlacedY = pos.Y
			world = append(world, shapes.Primitive{
				Shape:    piece.Shape,
				Position: pos,
				Scale:    piece.Scale,
				OwnerID:  "simulate",
			})
			rep.Valid++
		} else {
			pr.Reason = res.Reason
		}
		rep.Pieces = append(rep.Pieces, pr)
	}
	return rep
}

func phaseOf(cp compiler.Plan, index int) string {
	for i, b := range cp.PhaseBoundaries {
		if index < b {
			return cp.PhaseNames[i]
		}
	}
	if n := len(cp.PhaseNames); n > 0 {
		return cp.PhaseNames[n-1]
	}
	return ""
}
