// Package compiler expands a blueprint template at an anchor point into the
// ordered list of absolute-coordinate pieces the engine will attempt. Pure
// coordinate arithmetic; no validation happens here.
package compiler

import (
	"math"

	"monworld.ai/internal/sim/catalogs"
	"monworld.ai/internal/sim/shapes"
)

// Piece is one fully-resolved placement.
type Piece struct {
	Shape    shapes.Kind `json:"shape"`
	Position shapes.Vec3 `json:"position"`
	Rotation shapes.Vec3 `json:"rotation"`
	Scale    shapes.Vec3 `json:"scale"`
	Color    string      `json:"color,omitempty"`
}

// Plan is the compiled output: pieces in template order plus cumulative
// phase boundaries (used only for progress labeling, never control flow).
type Plan struct {
	Pieces          []Piece  `json:"pieces"`
	PhaseNames      []string `json:"phase_names"`
	PhaseBoundaries []int    `json:"phase_boundaries"`
}

// Compile rotates each piece's (x,z) offset about the vertical axis by
// orientationDeg, translates by the (x,z) anchor, and adds the orientation
// to the piece's own yaw. Y offsets pass through: orientation is
// horizontal-only.
func Compile(tpl catalogs.Template, anchorX, anchorZ, orientationDeg float64) Plan {
	rad := orientationDeg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	var out Plan
	total := 0
	for _, ph := range tpl.Phases {
		for _, spec := range ph.Pieces {
			ox, oy, oz := spec.Offset[0], spec.Offset[1], spec.Offset[2]
			rx := ox*cos - oz*sin
			rz := ox*sin + oz*cos
			out.Pieces = append(out.Pieces, Piece{
				Shape:    spec.Shape,
				Position: shapes.Vec3{X: anchorX + rx, Y: oy, Z: anchorZ + rz},
				Rotation: shapes.Vec3{X: spec.Rotation[0], Y: spec.Rotation[1] + orientationDeg, Z: spec.Rotation[2]},
				Scale:    shapes.Vec3{X: spec.Scale[0], Y: spec.Scale[1], Z: spec.Scale[2]},
				Color:    spec.Color,
			})
		}
		total += len(ph.Pieces)
		out.PhaseNames = append(out.PhaseNames, ph.Name)
		out.PhaseBoundaries = append(out.PhaseBoundaries, total)
	}
	return out
}
