package models

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

func EqualWithEpsilon(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

func InRangeWithEpsilon(value, min, max, epsilon float64) bool {
	return value+epsilon >= min && value-epsilon <= max
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func NewVector3(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3) Mul(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vector3) Distance(o Vector3) float64 {
	return v.Sub(o).Length()
}

// Normalized returns the unit vector of v, or the zero vector when v has no
// length.
func (v Vector3) Normalized() Vector3 {
	l := v.Length()
	if l == 0 {
		return Vector3{}
	}
	return v.Mul(1 / l)
}

func (v Vector3) EqualWithEpsilon(o Vector3, epsilon float64) bool {
	return EqualWithEpsilon(v.X, o.X, epsilon) &&
		EqualWithEpsilon(v.Y, o.Y, epsilon) &&
		EqualWithEpsilon(v.Z, o.Z, epsilon)
}

func (v Vector3) finite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Box3 is an axis-aligned 3D bounding box.
type Box3 struct {
	Min Vector3 `json:"min"`
	Max Vector3 `json:"max"`
}

func NewBox3(center Vector3, halfExtents Vector3) Box3 {
	return Box3{
		Min: center.Sub(halfExtents),
		Max: center.Add(halfExtents),
	}
}

func (b Box3) Center() Vector3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b Box3) Size() Vector3 {
	return b.Max.Sub(b.Min)
}

func (b Box3) Volume() float64 {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// Intersects reports whether two boxes share at least one point. Touching
// faces count as an intersection.
func (b Box3) Intersects(o Box3) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

func (b Box3) Contains(o Box3) bool {
	return b.Min.X <= o.Min.X && b.Max.X >= o.Max.X &&
		b.Min.Y <= o.Min.Y && b.Max.Y >= o.Max.Y &&
		b.Min.Z <= o.Min.Z && b.Max.Z >= o.Max.Z
}

func (b Box3) ContainsPoint(p Vector3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Expand grows the box by d in all 6 directions.
func (b Box3) Expand(d float64) Box3 {
	e := Vector3{d, d, d}
	return Box3{Min: b.Min.Sub(e), Max: b.Max.Add(e)}
}

func (b Box3) Union(o Box3) Box3 {
	return Box3{
		Min: Vector3{math.Min(b.Min.X, o.Min.X), math.Min(b.Min.Y, o.Min.Y), math.Min(b.Min.Z, o.Min.Z)},
		Max: Vector3{math.Max(b.Max.X, o.Max.X), math.Max(b.Max.Y, o.Max.Y), math.Max(b.Max.Z, o.Max.Z)},
	}
}

// IntersectionVolume returns the volume shared by both boxes, 0 when they do
// not overlap.
func (b Box3) IntersectionVolume(o Box3) float64 {
	dx := math.Min(b.Max.X, o.Max.X) - math.Max(b.Min.X, o.Min.X)
	dy := math.Min(b.Max.Y, o.Max.Y) - math.Max(b.Min.Y, o.Min.Y)
	dz := math.Min(b.Max.Z, o.Max.Z) - math.Max(b.Min.Z, o.Min.Z)
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

// Distance returns the gap between the two boxes, 0 when they intersect.
func (b Box3) Distance(o Box3) float64 {
	dx := math.Max(0, math.Max(o.Min.X-b.Max.X, b.Min.X-o.Max.X))
	dy := math.Max(0, math.Max(o.Min.Y-b.Max.Y, b.Min.Y-o.Max.Y))
	dz := math.Max(0, math.Max(o.Min.Z-b.Max.Z, b.Min.Z-o.Max.Z))
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (b Box3) DistanceToPoint(p Vector3) float64 {
	return b.Distance(Box3{Min: p, Max: p})
}

// Octant returns the i-th octant of the box split at its centroid. Bit 0 of i
// selects the upper x half, bit 1 the upper y half and bit 2 the upper z half.
func (b Box3) Octant(i int) Box3 {
	c := b.Center()
	o := Box3{Min: b.Min, Max: c}
	if i&1 != 0 {
		o.Min.X, o.Max.X = c.X, b.Max.X
	}
	if i&2 != 0 {
		o.Min.Y, o.Max.Y = c.Y, b.Max.Y
	}
	if i&4 != 0 {
		o.Min.Z, o.Max.Z = c.Z, b.Max.Z
	}
	return o
}

// Plan returns the projection of the box on the horizontal plane.
func (b Box3) Plan() Box2 {
	return Box2{MinX: b.Min.X, MinY: b.Min.Y, MaxX: b.Max.X, MaxY: b.Max.Y}
}

// Box2 is an axis-aligned bounding box in plan view.
type Box2 struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func NewBox2Around(x, y, radius float64) Box2 {
	return Box2{MinX: x - radius, MinY: y - radius, MaxX: x + radius, MaxY: y + radius}
}

func (b Box2) Area() float64 {
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
}

func (b Box2) Union(o Box2) Box2 {
	return Box2{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Enlargement returns how much area b has to grow by to also enclose o.
func (b Box2) Enlargement(o Box2) float64 {
	return b.Union(o).Area() - b.Area()
}

func (b Box2) Intersects(o Box2) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX &&
		b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

func (b Box2) Contains(o Box2) bool {
	return b.MinX <= o.MinX && b.MaxX >= o.MaxX &&
		b.MinY <= o.MinY && b.MaxY >= o.MaxY
}

func (b Box2) ContainsPoint(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

func (b Box2) Expand(d float64) Box2 {
	return Box2{MinX: b.MinX - d, MinY: b.MinY - d, MaxX: b.MaxX + d, MaxY: b.MaxY + d}
}

func (b Box2) IntersectionArea(o Box2) float64 {
	dx := math.Min(b.MaxX, o.MaxX) - math.Max(b.MinX, o.MinX)
	dy := math.Min(b.MaxY, o.MaxY) - math.Max(b.MinY, o.MinY)
	if dx <= 0 || dy <= 0 {
		return 0
	}
	return dx * dy
}

func (b Box2) Distance(o Box2) float64 {
	dx := math.Max(0, math.Max(o.MinX-b.MaxX, b.MinX-o.MaxX))
	dy := math.Max(0, math.Max(o.MinY-b.MaxY, b.MinY-o.MaxY))
	return math.Hypot(dx, dy)
}

func (b Box2) DistanceToPoint(x, y float64) float64 {
	return b.Distance(Box2{MinX: x, MinY: y, MaxX: x, MaxY: y})
}

type ShapeKind string

const (
	ShapeBox      ShapeKind = "box"
	ShapeCylinder ShapeKind = "cylinder"
	ShapeSphere   ShapeKind = "sphere"
	ShapeCustom   ShapeKind = "custom"
)

// Geometry describes the placed shape of an object. Length runs along x,
// width along y and height along z before rotation. Rotation is in degrees;
// only the rotation about z (yaw) affects the footprint.
type Geometry struct {
	Center   Vector3   `json:"center"`
	Length   float64   `json:"length"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Rotation Vector3   `json:"rotation"`
	Shape    ShapeKind `json:"shape"`
}

func (g Geometry) shape() ShapeKind {
	if g.Shape == "" {
		return ShapeBox
	}
	return g.Shape
}

func (g Geometry) radius() float64 {
	switch g.shape() {
	case ShapeSphere:
		return math.Max(g.Length, math.Max(g.Width, g.Height)) / 2
	default:
		return math.Max(g.Length, g.Width) / 2
	}
}

// Validate rejects geometries that would produce a degenerate or unusable
// bounding box.
func (g Geometry) Validate() error {
	err := g.validate()
	if err != nil {
		instrumentError(ErrTypeInvalidGeometry)
	}
	return err
}

func (g Geometry) validate() error {
	if !g.Center.finite() || !g.Rotation.finite() {
		return errors.New("geometry has a non finite coordinate").
			WithType(ErrTypeInvalidGeometry).
			WithTag("center", g.Center)
	}

	for name, v := range map[string]float64{"length": g.Length, "width": g.Width, "height": g.Height} {
		if !isFinite(v) || v <= 0 {
			return errors.New("geometry dimension must be positive").
				WithType(ErrTypeInvalidGeometry).
				WithTag("dimension", name).
				WithTag("value", v)
		}
	}

	switch g.shape() {
	case ShapeBox, ShapeCylinder, ShapeSphere, ShapeCustom:
	default:
		return errors.New("unknown shape").
			WithType(ErrTypeInvalidGeometry).
			WithTag("shape", g.Shape)
	}
	return nil
}

// BoundingBox returns the axis-aligned box enclosing the geometry.
func (g Geometry) BoundingBox() Box3 {
	switch g.shape() {
	case ShapeSphere:
		r := g.radius()
		return NewBox3(g.Center, Vector3{r, r, r})

	case ShapeCylinder:
		r := g.radius()
		return NewBox3(g.Center, Vector3{r, r, g.Height / 2})

	default:
		yaw := g.Rotation.Z * math.Pi / 180
		cos, sin := math.Abs(math.Cos(yaw)), math.Abs(math.Sin(yaw))
		hx := cos*g.Length/2 + sin*g.Width/2
		hy := sin*g.Length/2 + cos*g.Width/2
		return NewBox3(g.Center, Vector3{hx, hy, g.Height / 2})
	}
}

// ContainsPoint tests the exact shape rather than its bounding box.
func (g Geometry) ContainsPoint(p Vector3) bool {
	d := p.Sub(g.Center)

	switch g.shape() {
	case ShapeSphere:
		return d.Length() <= g.radius()

	case ShapeCylinder:
		return math.Hypot(d.X, d.Y) <= g.radius() && math.Abs(d.Z) <= g.Height/2

	default:
		yaw := -g.Rotation.Z * math.Pi / 180
		cos, sin := math.Cos(yaw), math.Sin(yaw)
		lx := d.X*cos - d.Y*sin
		ly := d.X*sin + d.Y*cos
		return math.Abs(lx) <= g.Length/2 &&
			math.Abs(ly) <= g.Width/2 &&
			math.Abs(d.Z) <= g.Height/2
	}
}

func (g Geometry) Volume() float64 {
	switch g.shape() {
	case ShapeSphere:
		r := g.radius()
		return 4.0 / 3.0 * math.Pi * r * r * r

	case ShapeCylinder:
		r := g.radius()
		return math.Pi * r * r * g.Height

	default:
		return g.Length * g.Width * g.Height
	}
}

// Moved returns a copy of the geometry centered at c.
func (g Geometry) Moved(c Vector3) Geometry {
	g.Center = c
	return g
}
