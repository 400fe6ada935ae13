package models

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestEqualWithEpsilon(t *testing.T) {
	require.True(t, EqualWithEpsilon(0.1, 0.2, 0.11))
	require.False(t, EqualWithEpsilon(0.1, 0.3, 0.11))
}

func TestVector3(t *testing.T) {
	zero := Vector3{}
	one := Vector3{1, 1, 1}

	require.Equal(t, one, zero.Add(one))
	require.Equal(t, one, one.Sub(zero))
	require.Equal(t, zero, one.Mul(0))
	require.Equal(t, float64(3), one.Dot(one))
	require.Equal(t, float64(1), Vector3{1, 0, 0}.Length())
	require.True(t, EqualWithEpsilon(one.Normalized().Length(), 1, 1e-9))
	require.Equal(t, zero, zero.Normalized())
	require.True(t, one.EqualWithEpsilon(Vector3{0.9, 1.1, 1}, 0.11))
	require.Equal(t, float64(5), Vector3{3, 4, 0}.Distance(zero))
}

func TestBox3(t *testing.T) {
	a := NewBox3(Vector3{}, Vector3{1, 1, 1})
	b := NewBox3(Vector3{1, 0, 0}, Vector3{1, 1, 1})
	c := NewBox3(Vector3{5, 0, 0}, Vector3{1, 1, 1})

	t.Run("intersects", func(t *testing.T) {
		require.True(t, a.Intersects(b))
		require.False(t, a.Intersects(c))
		touching := NewBox3(Vector3{2, 0, 0}, Vector3{1, 1, 1})
		require.True(t, a.Intersects(touching))
	})

	t.Run("intersection volume", func(t *testing.T) {
		require.Equal(t, float64(4), a.IntersectionVolume(b))
		require.Zero(t, a.IntersectionVolume(c))
	})

	t.Run("distance", func(t *testing.T) {
		require.Zero(t, a.Distance(b))
		require.Equal(t, float64(2), a.Distance(c))
		require.Equal(t, float64(1), a.DistanceToPoint(Vector3{2, 0, 0}))
	})

	t.Run("expand and contain", func(t *testing.T) {
		e := a.Expand(0.5)
		require.Equal(t, Vector3{-1.5, -1.5, -1.5}, e.Min)
		require.True(t, e.Contains(a))
		require.False(t, a.Contains(e))
		require.Equal(t, Box3{Min: Vector3{-1, -1, -1}, Max: Vector3{6, 1, 1}}, a.Union(c))
	})

	t.Run("octants partition the box", func(t *testing.T) {
		var volume float64
		for i := 0; i < 8; i++ {
			o := a.Octant(i)
			require.True(t, a.Contains(o))
			volume += o.Volume()
		}
		require.True(t, EqualWithEpsilon(a.Volume(), volume, 1e-9))
		require.Equal(t, Vector3{0, 0, 0}, a.Octant(7).Min)
		require.Equal(t, Vector3{0, 0, 0}, a.Octant(0).Max)
	})
}

func TestBox2(t *testing.T) {
	a := Box2{0, 0, 2, 2}
	b := Box2{1, 1, 3, 3}

	require.Equal(t, float64(4), a.Area())
	require.Equal(t, Box2{0, 0, 3, 3}, a.Union(b))
	require.Equal(t, float64(5), a.Enlargement(b))
	require.True(t, a.Intersects(b))
	require.Equal(t, float64(1), a.IntersectionArea(b))
	require.Equal(t, float64(5), a.Distance(Box2{5, 6, 7, 8}))
	require.True(t, a.ContainsPoint(1, 1))
	require.False(t, a.ContainsPoint(3, 1))
}

func TestGeometryValidate(t *testing.T) {
	valid := Geometry{Length: 1, Width: 1, Height: 1}
	require.NoError(t, valid.Validate())

	invalids := []Geometry{
		{Length: 0, Width: 1, Height: 1},
		{Length: 1, Width: -1, Height: 1},
		{Length: 1, Width: 1, Height: math.NaN()},
		{Center: Vector3{math.Inf(1), 0, 0}, Length: 1, Width: 1, Height: 1},
		{Length: 1, Width: 1, Height: 1, Shape: "pyramid"},
	}

	for _, g := range invalids {
		err := g.Validate()
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidGeometry))
	}
}

func TestGeometryBoundingBox(t *testing.T) {
	t.Run("box", func(t *testing.T) {
		g := Geometry{Center: Vector3{1, 2, 3}, Length: 2, Width: 4, Height: 6}
		require.Equal(t, Box3{Min: Vector3{0, 0, 0}, Max: Vector3{2, 4, 6}}, g.BoundingBox())
	})

	t.Run("rotated box swaps extents", func(t *testing.T) {
		g := Geometry{Length: 2, Width: 4, Height: 6, Rotation: Vector3{0, 0, 90}}
		b := g.BoundingBox()
		require.True(t, b.Max.EqualWithEpsilon(Vector3{2, 1, 3}, 1e-9))
	})

	t.Run("cylinder", func(t *testing.T) {
		g := Geometry{Length: 2, Width: 2, Height: 10, Shape: ShapeCylinder}
		require.Equal(t, Vector3{1, 1, 5}, g.BoundingBox().Max)
	})

	t.Run("sphere", func(t *testing.T) {
		g := Geometry{Length: 2, Width: 2, Height: 2, Shape: ShapeSphere}
		require.Equal(t, Vector3{1, 1, 1}, g.BoundingBox().Max)
		require.True(t, EqualWithEpsilon(4.0/3.0*math.Pi, g.Volume(), 1e-9))
	})
}

func TestGeometryContainsPoint(t *testing.T) {
	const epsilon = 1e-6
	rng := rand.New(rand.NewSource(42))
	shapes := []ShapeKind{ShapeBox, ShapeCylinder, ShapeSphere, ShapeCustom}

	for i := 0; i < 200; i++ {
		g := Geometry{
			Center:   Vector3{rng.Float64()*100 - 50, rng.Float64()*100 - 50, rng.Float64() * 20},
			Length:   0.1 + rng.Float64()*10,
			Width:    0.1 + rng.Float64()*10,
			Height:   0.1 + rng.Float64()*10,
			Rotation: Vector3{0, 0, rng.Float64() * 360},
			Shape:    shapes[i%len(shapes)],
		}
		box := g.BoundingBox()

		// Points strictly inside the shape, sampled in its local frame.
		for j := 0; j < 20; j++ {
			p := g.Center
			switch g.shape() {
			case ShapeSphere:
				dir := Vector3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}.Normalized()
				p = p.Add(dir.Mul(rng.Float64() * g.radius() * 0.99))
			case ShapeCylinder:
				angle := rng.Float64() * 2 * math.Pi
				r := rng.Float64() * g.radius() * 0.99
				p = p.Add(Vector3{r * math.Cos(angle), r * math.Sin(angle), (rng.Float64() - 0.5) * g.Height * 0.99})
			default:
				lx := (rng.Float64() - 0.5) * g.Length * 0.99
				ly := (rng.Float64() - 0.5) * g.Width * 0.99
				yaw := g.Rotation.Z * math.Pi / 180
				p = p.Add(Vector3{
					lx*math.Cos(yaw) - ly*math.Sin(yaw),
					lx*math.Sin(yaw) + ly*math.Cos(yaw),
					(rng.Float64() - 0.5) * g.Height * 0.99,
				})
			}
			require.True(t, g.ContainsPoint(p), "shape %s point %v", g.Shape, p)
			require.True(t, box.Expand(epsilon).ContainsPoint(p))
		}

		// Points outside the expanded bounding box.
		outside := box.Expand(epsilon)
		for j := 0; j < 20; j++ {
			p := Vector3{
				outside.Max.X + rng.Float64()*5 + epsilon,
				outside.Min.Y + rng.Float64()*(outside.Max.Y-outside.Min.Y),
				outside.Min.Z + rng.Float64()*(outside.Max.Z-outside.Min.Z),
			}
			if j%2 == 0 {
				p.X = outside.Min.X - rng.Float64()*5 - epsilon
			}
			require.False(t, g.ContainsPoint(p))
		}
	}
}

func TestGeometryMoved(t *testing.T) {
	g := Geometry{Length: 1, Width: 1, Height: 1}
	moved := g.Moved(Vector3{1, 2, 3})
	require.Equal(t, Vector3{1, 2, 3}, moved.Center)
	require.Equal(t, Vector3{}, g.Center)
}
