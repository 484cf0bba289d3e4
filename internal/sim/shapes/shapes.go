package shapes

import "time"

// Kind is one of the fixed primitive shape kinds clients may place.
type Kind string

const (
	KindBox      Kind = "BOX"
	KindSphere   Kind = "SPHERE"
	KindCylinder Kind = "CYLINDER"
	KindCone     Kind = "CONE"
	KindPyramid  Kind = "PYRAMID"
	KindWedge    Kind = "WEDGE"
	KindTorus    Kind = "TORUS"
	KindCapsule  Kind = "CAPSULE"
	KindPrism    Kind = "PRISM"
	KindArch     Kind = "ARCH"
	KindColumn   Kind = "COLUMN"
	KindDome     Kind = "DOME"
	KindPlate    Kind = "PLATE"
	KindDecal    Kind = "DECAL"
)

var known = map[Kind]struct{}{
	KindBox: {}, KindSphere: {}, KindCylinder: {}, KindCone: {},
	KindPyramid: {}, KindWedge: {}, KindTorus: {}, KindCapsule: {},
	KindPrism: {}, KindArch: {}, KindColumn: {}, KindDome: {},
	KindPlate: {}, KindDecal: {},
}

func Known(k Kind) bool {
	_, ok := known[k]
	return ok
}

// Exempt shapes bypass overlap and support physics entirely. PLATE is used
// for ground decals, DECAL for signage.
func Exempt(k Kind) bool {
	return k == KindPlate || k == KindDecal
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Primitive is one placed shape instance. Primitives are never mutated after
// placement.
type Primitive struct {
	ID        string    `json:"id"`
	Shape     Kind      `json:"shape"`
	Position  Vec3      `json:"position"`
	Rotation  Vec3      `json:"rotation"`
	Scale     Vec3      `json:"scale"`
	Color     string    `json:"color,omitempty"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
