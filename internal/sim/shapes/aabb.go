package shapes

// AABB is an axis-aligned bounding box. All placement physics works on
// boxes; the renderer is free to draw tighter meshes.
type AABB struct {
	Min Vec3
	Max Vec3
}

// BoxAt returns the AABB for a shape centered at pos with the given scale
// (scale components are full extents).
func BoxAt(pos, scale Vec3) AABB {
	return AABB{
		Min: Vec3{X: pos.X - scale.X/2, Y: pos.Y - scale.Y/2, Z: pos.Z - scale.Z/2},
		Max: Vec3{X: pos.X + scale.X/2, Y: pos.Y + scale.Y/2, Z: pos.Z + scale.Z/2},
	}
}

func (p Primitive) Box() AABB { return BoxAt(p.Position, p.Scale) }

func (b AABB) BottomY() float64 { return b.Min.Y }
func (b AABB) TopY() float64    { return b.Max.Y }

// OverlapsBeyond reports whether the two boxes interpenetrate by more than
// tol on every axis. Touching faces (or overlap within tol) do not count.
func (b AABB) OverlapsBeyond(o AABB, tol float64) bool {
	return b.Min.X+tol < o.Max.X && o.Min.X+tol < b.Max.X &&
		b.Min.Y+tol < o.Max.Y && o.Min.Y+tol < b.Max.Y &&
		b.Min.Z+tol < o.Max.Z && o.Min.Z+tol < b.Max.Z
}

// FootprintOverlaps reports whether the two boxes overlap in the horizontal
// plane (edge contact counts as overlap: a piece may rest on a surface it
// only touches at the rim).
func (b AABB) FootprintOverlaps(o AABB) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}
