package octree

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newObject(t models.ObjectType, center models.Vector3, size float64) *models.SpatialObject {
	obj := &models.SpatialObject{
		ID:   models.NewID(),
		Type: t,
	}
	obj.SetGeometry(models.Geometry{
		Center: center,
		Length: size,
		Width:  size,
		Height: size,
	})
	return obj
}

func ids(objects []*models.SpatialObject) []uuid.UUID {
	res := make([]uuid.UUID, len(objects))
	for i, obj := range objects {
		res[i] = obj.ID
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].String() < res[j].String()
	})
	return res
}

func TestOctreeInsertAndRemove(t *testing.T) {
	tree := New(DefaultConfig())
	obj := newObject(models.ObjectHVACDuct, models.Vector3{}, 1)

	require.NoError(t, tree.Insert(obj))
	require.Equal(t, 1, tree.Len())
	require.True(t, tree.Contains(obj.ID))

	err := tree.Insert(obj)
	require.Error(t, err)
	require.True(t, errors.IsType(err, models.ErrTypeAlreadyExists))

	require.True(t, tree.Remove(obj.ID))
	require.False(t, tree.Remove(obj.ID))
	require.Zero(t, tree.Len())
	require.Empty(t, tree.Query(models.NewBox3(models.Vector3{}, models.Vector3{X: 5, Y: 5, Z: 5})))
}

func TestOctreeSubdivision(t *testing.T) {
	tree := New(Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 100, Y: 100, Z: 100}),
		MaxObjects: 4,
	})

	for i := 0; i < 20; i++ {
		c := models.Vector3{X: float64(i*8 - 80), Y: float64(i%5*10 - 20), Z: float64(i%3*10 - 10)}
		require.NoError(t, tree.Insert(newObject(models.ObjectPlumbingPipe, c, 1)))
	}

	info := tree.DebugInfo()
	require.Equal(t, "octree", info.Kind)
	require.Equal(t, 20, info.Objects)
	require.Greater(t, info.Nodes, 1)
	require.GreaterOrEqual(t, info.Entries, 20)
	require.Greater(t, info.Depth, 0)
}

func TestOctreeStraddlingObject(t *testing.T) {
	tree := New(Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 10, Y: 10, Z: 10}),
		MaxObjects: 1,
	})

	center := newObject(models.ObjectStructuralColumn, models.Vector3{}, 2)
	require.NoError(t, tree.Insert(center))
	require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: 5, Y: 5, Z: 5}, 1)))

	// The object straddling the centroid is copied into every octant but
	// only reported once.
	require.Greater(t, tree.DebugInfo().Entries, 2)
	res := tree.Query(models.NewBox3(models.Vector3{}, models.Vector3{X: 0.5, Y: 0.5, Z: 0.5}))
	require.Len(t, res, 1)
	require.Equal(t, center.ID, res[0].ID)

	require.True(t, tree.Remove(center.ID))
	require.Empty(t, tree.Query(models.NewBox3(models.Vector3{}, models.Vector3{X: 0.5, Y: 0.5, Z: 0.5})))
	require.Equal(t, 1, tree.Len())
}

func TestOctreeIdenticalObjectsDoNotExplode(t *testing.T) {
	tree := New(Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 1, Y: 1, Z: 1}),
		MaxObjects: 2,
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert(newObject(models.ObjectFurniture, models.Vector3{}, 2)))
	}
	require.Equal(t, 1, tree.DebugInfo().Nodes)
}

func TestOctreeGrowsToFitObjects(t *testing.T) {
	tree := New(Config{
		Bounds: models.NewBox3(models.Vector3{}, models.Vector3{X: 1, Y: 1, Z: 1}),
	})
	inside := newObject(models.ObjectDoor, models.Vector3{}, 0.5)
	outside := newObject(models.ObjectDoor, models.Vector3{X: 50, Y: -20, Z: 3}, 1)

	require.NoError(t, tree.Insert(inside))
	require.NoError(t, tree.Insert(outside))
	require.True(t, tree.Bounds().Contains(outside.Bounds))
	require.Len(t, tree.Query(outside.Bounds), 1)
	require.Len(t, tree.Query(inside.Bounds), 1)
}

func TestOctreeRejectsInvalidBounds(t *testing.T) {
	tree := New(DefaultConfig())
	obj := &models.SpatialObject{ID: models.NewID()}
	obj.Bounds.Max.X = -1

	err := tree.Insert(obj)
	require.Error(t, err)
	require.True(t, errors.IsType(err, models.ErrTypeInvalidGeometry))
}

func TestOctreeQueryPoint(t *testing.T) {
	tree := New(DefaultConfig())
	sphere := &models.SpatialObject{ID: models.NewID(), Type: models.ObjectLightFixture}
	sphere.SetGeometry(models.Geometry{Length: 2, Width: 2, Height: 2, Shape: models.ShapeSphere})
	require.NoError(t, tree.Insert(sphere))

	require.Len(t, tree.QueryPoint(models.Vector3{X: 0.5}), 1)

	// Inside the bounding box corner but outside the sphere.
	require.Empty(t, tree.QueryPoint(models.Vector3{X: 0.9, Y: 0.9, Z: 0.9}))
}

func TestOctreeNearest(t *testing.T) {
	tree := New(DefaultConfig())
	near := newObject(models.ObjectDoor, models.Vector3{X: 2}, 1)
	mid := newObject(models.ObjectDoor, models.Vector3{X: 5}, 1)
	far := newObject(models.ObjectDoor, models.Vector3{X: 50}, 1)
	for _, obj := range []*models.SpatialObject{far, mid, near} {
		require.NoError(t, tree.Insert(obj))
	}

	res := tree.Nearest(models.Vector3{}, 10, 0)
	require.Len(t, res, 2)
	require.Equal(t, near.ID, res[0].Object.ID)
	require.Equal(t, 1.5, res[0].Distance)
	require.Equal(t, mid.ID, res[1].Object.ID)

	res = tree.Nearest(models.Vector3{}, 100, 1)
	require.Len(t, res, 1)
	require.Equal(t, near.ID, res[0].Object.ID)

	require.Empty(t, tree.Nearest(models.Vector3{}, -1, 0))
}

func TestOctreeFindConflicts(t *testing.T) {
	tree := New(DefaultConfig())
	duct := newObject(models.ObjectHVACDuct, models.Vector3{}, 2)
	otherDuct := newObject(models.ObjectHVACDuct, models.Vector3{X: 1}, 2)
	beam := newObject(models.ObjectStructuralBeam, models.Vector3{Y: 1}, 2)
	tile := newObject(models.ObjectCeilingTile, models.Vector3{Z: 2.05}, 2)
	remote := newObject(models.ObjectCeilingTile, models.Vector3{Z: 20}, 2)

	for _, obj := range []*models.SpatialObject{duct, otherDuct, beam, tile, remote} {
		require.NoError(t, tree.Insert(obj))
	}

	kinds := make(map[uuid.UUID]models.IndexKind)
	for _, c := range tree.FindConflicts(duct, 0.1) {
		kinds[c.Object.ID] = c.Kind
	}

	require.Equal(t, map[uuid.UUID]models.IndexKind{
		otherDuct.ID: models.IndexKindSameSystem,
		beam.ID:      models.IndexKindHigherPriority,
		tile.ID:      models.IndexKindLowerPriority,
	}, kinds)
}

func TestOctreeOptimizeKeepsObjects(t *testing.T) {
	tree := New(Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 100, Y: 100, Z: 100}),
		MaxObjects: 3,
	})
	rng := rand.New(rand.NewSource(7))

	var objects []*models.SpatialObject
	for i := 0; i < 100; i++ {
		obj := newObject(models.ObjectElectricalConduit, randomPoint(rng, 90), 0.5+rng.Float64()*3)
		objects = append(objects, obj)
		require.NoError(t, tree.Insert(obj))
	}

	tree.Optimize()
	require.Equal(t, ids(objects), ids(tree.All()))
	require.Equal(t, ids(objects), ids(tree.Query(tree.Bounds())))
}

func TestOctreeQueryMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 10; round++ {
		tree := New(Config{
			Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 50, Y: 50, Z: 50}),
			MaxObjects: 1 + rng.Intn(8),
		})

		var objects []*models.SpatialObject
		for i := 0; i < 200; i++ {
			obj := newObject(models.ObjectHVACDuct, randomPoint(rng, 60), 0.1+rng.Float64()*8)
			require.NoError(t, tree.Insert(obj))
			objects = append(objects, obj)
		}

		// Remove a random third.
		rng.Shuffle(len(objects), func(i, j int) {
			objects[i], objects[j] = objects[j], objects[i]
		})
		for _, obj := range objects[:len(objects)/3] {
			require.True(t, tree.Remove(obj.ID))
		}
		objects = objects[len(objects)/3:]

		for q := 0; q < 50; q++ {
			query := models.NewBox3(randomPoint(rng, 60), models.Vector3{
				X: rng.Float64() * 20,
				Y: rng.Float64() * 20,
				Z: rng.Float64() * 20,
			})

			var expected []*models.SpatialObject
			for _, obj := range objects {
				if obj.Bounds.Intersects(query) {
					expected = append(expected, obj)
				}
			}
			require.Equal(t, ids(expected), ids(tree.Query(query)))
		}
	}
}

func TestOctreeMinVolumeStopsSubdivision(t *testing.T) {
	bounds := models.NewBox3(models.Vector3{}, models.Vector3{X: 1, Y: 1, Z: 1})

	t.Run("node volume at floor", func(t *testing.T) {
		tree := New(Config{
			Bounds:     bounds,
			MaxObjects: 1,
			MinVolume:  bounds.Volume(),
		})
		require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: -0.5, Y: -0.5, Z: -0.5}, 0.1)))
		require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: 0.5, Y: 0.5, Z: 0.5}, 0.1)))
		require.Equal(t, 1, tree.DebugInfo().Nodes)
	})

	t.Run("node volume above floor", func(t *testing.T) {
		tree := New(Config{
			Bounds:     bounds,
			MaxObjects: 1,
			MinVolume:  bounds.Volume() / 2,
		})
		require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: -0.5, Y: -0.5, Z: -0.5}, 0.1)))
		require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: 0.5, Y: 0.5, Z: 0.5}, 0.1)))
		require.Equal(t, 9, tree.DebugInfo().Nodes)
	})
}

func TestOctreeInsertDoesNotWaitOnOtherOctants(t *testing.T) {
	tree := New(Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 10, Y: 10, Z: 10}),
		MaxObjects: 1,
	})
	require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: -5, Y: -5, Z: -5}, 1)))
	require.NoError(t, tree.Insert(newObject(models.ObjectDoor, models.Vector3{X: 5, Y: 5, Z: 5}, 1)))

	root := tree.node(0)
	require.False(t, root.leaf)

	// Hold the lowest octant while inserting into the highest one.
	busy := tree.node(root.children[0])
	busy.mutex.Lock()
	defer busy.mutex.Unlock()

	obj := newObject(models.ObjectDoor, models.Vector3{X: 6, Y: 6, Z: 6}, 1)
	done := make(chan error, 1)
	go func() {
		done <- tree.Insert(obj)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 5):
		t.Fatal("insert waited on a lock held by another octant")
	}
	require.True(t, tree.Contains(obj.ID))
}

func TestOctreeConcurrentInsertsMatchBruteForce(t *testing.T) {
	tree := New(Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 64, Y: 64, Z: 64}),
		MaxObjects: 4,
	})

	perOctant := make([][]*models.SpatialObject, 8)
	for i := range perOctant {
		rng := rand.New(rand.NewSource(int64(i)))
		octant := tree.Bounds().Octant(i)
		center := octant.Center()

		for j := 0; j < 150; j++ {
			c := models.Vector3{
				X: center.X + (rng.Float64()*2-1)*28,
				Y: center.Y + (rng.Float64()*2-1)*28,
				Z: center.Z + (rng.Float64()*2-1)*28,
			}
			perOctant[i] = append(perOctant[i], newObject(models.ObjectPlumbingPipe, c, 0.2+rng.Float64()*2))
		}
	}

	var g errgroup.Group
	for _, objects := range perOctant {
		objects := objects
		g.Go(func() error {
			for _, obj := range objects {
				if err := tree.Insert(obj); err != nil {
					return err
				}
			}
			// Remove every third object while the other octants keep
			// inserting.
			for k := 0; k < len(objects); k += 3 {
				tree.Remove(objects[k].ID)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var objects []*models.SpatialObject
	for _, octant := range perOctant {
		for k, obj := range octant {
			if k%3 != 0 {
				objects = append(objects, obj)
			}
		}
	}
	require.Equal(t, ids(objects), ids(tree.All()))

	rng := rand.New(rand.NewSource(99))
	for q := 0; q < 100; q++ {
		query := models.NewBox3(randomPoint(rng, 64), models.Vector3{
			X: rng.Float64() * 16,
			Y: rng.Float64() * 16,
			Z: rng.Float64() * 16,
		})

		var expected []*models.SpatialObject
		for _, obj := range objects {
			if obj.Bounds.Intersects(query) {
				expected = append(expected, obj)
			}
		}
		require.Equal(t, ids(expected), ids(tree.Query(query)))
	}
}

func randomPoint(rng *rand.Rand, extent float64) models.Vector3 {
	return models.Vector3{
		X: (rng.Float64()*2 - 1) * extent,
		Y: (rng.Float64()*2 - 1) * extent,
		Z: (rng.Float64()*2 - 1) * extent,
	}
}
