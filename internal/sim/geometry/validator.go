// Package geometry decides whether a candidate placement is physically
// valid against the set of existing primitives, and proposes a corrected
// vertical position when it is not.
package geometry

import (
	"math"
	"sort"

	"monworld.ai/internal/sim/shapes"
)

// Tolerances are the two physics knobs. Snap is the maximum vertical gap
// treated as "touching" for support detection; Overlap is how deep two
// boxes may interpenetrate before the placement is rejected.
type Tolerances struct {
	Snap    float64
	Overlap float64
}

// Failure reasons for invalid placements.
const (
	ReasonFloating    = "floating"
	ReasonOverlapping = "overlapping"
)

type Result struct {
	OK bool

	// CorrectedY is the center Y the caller should use. On a valid result it
	// is the snapped center for the chosen support surface. On an invalid
	// result it is the best-guess "try here instead" hint.
	CorrectedY float64

	Reason string
}

// candidate is one support surface under consideration, ranked explicitly
// so the tie-break rule stays auditable.
type candidate struct {
	surfaceY float64 // top face of the support (or 0 for ground)
	snappedY float64 // center Y after snapping the bottom face to surfaceY
	dist     float64 // |snappedY - requested center Y|
	elevated bool    // false only for the ground plane
}

// Validate checks a placement of shape at pos/scale against existing
// primitives. Exempt shapes bypass physics entirely.
//
// For the rest, every support surface whose height is within Snap of the
// requested bottom face becomes a candidate; candidates whose snapped box
// would interpenetrate an existing primitive are discarded; among the
// survivors the one closest to the requested center wins. When ground and a
// platform are both in tolerance at the same distance, the platform wins:
// a caller aiming at a surface means the surface.
func Validate(shape shapes.Kind, pos, scale shapes.Vec3, existing []shapes.Primitive, tol Tolerances) Result {
	if shapes.Exempt(shape) {
		return Result{OK: true, CorrectedY: pos.Y}
	}

	box := shapes.BoxAt(pos, scale)
	bottom := box.BottomY()

	var cands []candidate
	if math.Abs(bottom) <= tol.Snap {
		cands = append(cands, candidate{surfaceY: 0, elevated: false})
	}
	for _, p := range existing {
		if shapes.Exempt(p.Shape) {
			continue
		}
		pb := p.Box()
		if !box.FootprintOverlaps(pb) {
			continue
		}
		top := pb.TopY()
		if math.Abs(bottom-top) <= tol.Snap {
			cands = append(cands, candidate{surfaceY: top, elevated: true})
		}
	}

	for i := range cands {
		cands[i].snappedY = cands[i].surfaceY + scale.Y/2
		cands[i].dist = math.Abs(cands[i].snappedY - pos.Y)
	}

	hadCandidates := len(cands) > 0

	// Overlap filter: the snapped box must not interpenetrate anything.
	survivors := cands[:0]
	for _, c := range cands {
		snapped := shapes.BoxAt(shapes.Vec3{X: pos.X, Y: c.snappedY, Z: pos.Z}, scale)
		blocked := false
		for _, p := range existing {
			if shapes.Exempt(p.Shape) {
				continue
			}
			if snapped.OverlapsBeyond(p.Box(), tol.Overlap) {
				blocked = true
				break
			}
		}
		if !blocked {
			survivors = append(survivors, c)
		}
	}

	if len(survivors) > 0 {
		sort.SliceStable(survivors, func(i, j int) bool {
			if survivors[i].dist != survivors[j].dist {
				return survivors[i].dist < survivors[j].dist
			}
			return survivors[i].surfaceY > survivors[j].surfaceY
		})
		return Result{OK: true, CorrectedY: survivors[0].snappedY}
	}

	reason := ReasonFloating
	if hadCandidates {
		reason = ReasonOverlapping
	}
	return Result{OK: false, CorrectedY: bestGuessY(pos, scale, existing), Reason: reason}
}

// bestGuessY is the canonical "try here instead" hint for a rejected
// placement: the snapped center for the nearest footprint-overlapping top
// face, or the ground, whichever lands closest to the requested center. The
// hint targets the surface the caller most plausibly meant; it is not
// guaranteed placeable, which is what keeps blocked sites refusable instead
// of silently relocating the piece.
func bestGuessY(pos, scale shapes.Vec3, existing []shapes.Primitive) float64 {
	box := shapes.BoxAt(pos, scale)
	best := scale.Y / 2 // ground
	bestDist := math.Abs(best - pos.Y)
	for _, p := range existing {
		if shapes.Exempt(p.Shape) {
			continue
		}
		pb := p.Box()
		if !box.FootprintOverlaps(pb) {
			continue
		}
		y := pb.TopY() + scale.Y/2
		if d := math.Abs(y - pos.Y); d < bestDist {
			best, bestDist = y, d
		}
	}
	return best
}
