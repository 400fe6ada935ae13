package rtree

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newObject(t models.ObjectType, floor string, x, y, size float64) *models.SpatialObject {
	obj := &models.SpatialObject{
		ID:      models.NewID(),
		Type:    t,
		FloorID: floor,
	}
	obj.SetGeometry(models.Geometry{
		Center: models.Vector3{X: x, Y: y},
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

func TestRTreeInsertAndRemove(t *testing.T) {
	tree := New(0)
	require.Equal(t, DefaultMaxEntries, tree.MaxEntries())

	obj := newObject(models.ObjectDoor, "1", 0, 0, 1)
	require.NoError(t, tree.Insert(obj))
	require.True(t, tree.Contains(obj.ID))

	err := tree.Insert(obj)
	require.Error(t, err)
	require.True(t, errors.IsType(err, models.ErrTypeAlreadyExists))

	require.True(t, tree.Remove(obj.ID))
	require.False(t, tree.Remove(obj.ID))
	require.Zero(t, tree.Len())
	require.Empty(t, tree.SearchPoint(0, 0))
	require.NoError(t, tree.Check())
}

func TestRTreeRejectsInvalidBounds(t *testing.T) {
	tree := New(4)
	obj := &models.SpatialObject{ID: models.NewID()}
	obj.Bounds.Min.X = math.NaN()

	err := tree.Insert(obj)
	require.Error(t, err)
	require.True(t, errors.IsType(err, models.ErrTypeInvalidGeometry))
}

func TestRTreeSplitGrowsAndShrinksHeight(t *testing.T) {
	tree := New(4)

	var objects []*models.SpatialObject
	for i := 0; i < 50; i++ {
		obj := newObject(models.ObjectDoor, "1", float64(i%10)*3, float64(i/10)*3, 1)
		objects = append(objects, obj)
		require.NoError(t, tree.Insert(obj))
		require.NoError(t, tree.Check())
	}
	require.Greater(t, tree.Height(), 2)

	for _, obj := range objects[:49] {
		require.True(t, tree.Remove(obj.ID))
		require.NoError(t, tree.Check())
	}
	require.Equal(t, 1, tree.Height())
	require.Len(t, tree.SearchPoint(objects[49].Geometry.Center.X, objects[49].Geometry.Center.Y), 1)

	require.True(t, tree.Remove(objects[49].ID))
	require.Equal(t, 1, tree.Height())
	require.NoError(t, tree.Check())
}

func TestRTreeSearch(t *testing.T) {
	tree := New(4)
	a := newObject(models.ObjectDoor, "1", 0, 0, 2)
	b := newObject(models.ObjectDoor, "1", 10, 10, 2)
	c := newObject(models.ObjectDoor, "1", 20, 0, 2)
	for _, obj := range []*models.SpatialObject{a, b, c} {
		require.NoError(t, tree.Insert(obj))
	}

	res := tree.Search(models.Box2{MinX: -1, MinY: -1, MaxX: 10, MaxY: 10})
	require.Equal(t, ids([]*models.SpatialObject{a, b}), ids(res))

	res = tree.SearchPoint(20.5, 0.5)
	require.Len(t, res, 1)
	require.Equal(t, c.ID, res[0].ID)
}

func TestRTreeNearest(t *testing.T) {
	tree := New(4)
	var objects []*models.SpatialObject
	for i := 1; i <= 30; i++ {
		obj := newObject(models.ObjectDoor, "1", float64(i)*10, 0, 1)
		objects = append(objects, obj)
		require.NoError(t, tree.Insert(obj))
	}

	t.Run("returns the k closest in order", func(t *testing.T) {
		res := tree.Nearest(0, 0, 3, 0)
		require.Len(t, res, 3)
		for i, n := range res {
			require.Equal(t, objects[i].ID, n.Object.ID)
			require.Equal(t, float64(i+1)*10-0.5, n.Distance)
		}
	})

	t.Run("respects the max distance", func(t *testing.T) {
		res := tree.Nearest(0, 0, 10, 25)
		require.Len(t, res, 2)
	})

	t.Run("returns everything when k exceeds the count", func(t *testing.T) {
		res := tree.Nearest(155, 0, 100, 0)
		require.Len(t, res, 30)
	})

	t.Run("point far outside the tree", func(t *testing.T) {
		res := tree.Nearest(10000, 10000, 1, 0)
		require.Len(t, res, 1)
		require.Equal(t, objects[29].ID, res[0].Object.ID)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		require.Empty(t, tree.Nearest(0, 0, 0, 0))
		require.Empty(t, tree.Nearest(math.NaN(), 0, 1, 0))
		require.Empty(t, New(4).Nearest(0, 0, 1, 0))
	})
}

func TestRTreeNearestMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tree := New(6)

	var objects []*models.SpatialObject
	for i := 0; i < 300; i++ {
		obj := newObject(models.ObjectHVACDiffuser, "1", rng.Float64()*200, rng.Float64()*200, 0.2+rng.Float64())
		objects = append(objects, obj)
		require.NoError(t, tree.Insert(obj))
	}

	for q := 0; q < 30; q++ {
		x, y := rng.Float64()*220-10, rng.Float64()*220-10
		k := 1 + rng.Intn(10)

		distances := make([]float64, len(objects))
		for i, obj := range objects {
			distances[i] = obj.PlanBounds().DistanceToPoint(x, y)
		}
		sort.Float64s(distances)

		res := tree.Nearest(x, y, k, 0)
		require.Len(t, res, k)
		for i, n := range res {
			require.Equal(t, distances[i], n.Distance)
		}
	}
}

func TestRTreeFindConflicts(t *testing.T) {
	tree := New(4)
	duct := newObject(models.ObjectHVACDuct, "2", 0, 0, 2)
	otherDuct := newObject(models.ObjectHVACDuct, "2", 1, 1, 2)
	pipe := newObject(models.ObjectPlumbingPipe, "2", -1, 0, 2)
	near := newObject(models.ObjectElectricalConduit, "2", 2.1, 0, 2)
	upstairs := newObject(models.ObjectHVACDuct, "3", 0, 0, 2)
	remote := newObject(models.ObjectHVACDuct, "2", 50, 50, 2)

	for _, obj := range []*models.SpatialObject{duct, otherDuct, pipe, near, upstairs, remote} {
		require.NoError(t, tree.Insert(obj))
	}

	kinds := make(map[uuid.UUID]models.IndexKind)
	for _, c := range tree.FindConflicts(duct, 0.5) {
		kinds[c.Object.ID] = c.Kind
	}

	require.Equal(t, map[uuid.UUID]models.IndexKind{
		otherDuct.ID: models.IndexKindPlanOverlap,
		pipe.ID:      models.IndexKindCrossSystem,
		near.ID:      models.IndexKindProximity,
	}, kinds)
}

func TestRTreeOptimize(t *testing.T) {
	tree := New(4)
	rng := rand.New(rand.NewSource(11))

	var objects []*models.SpatialObject
	for i := 0; i < 100; i++ {
		obj := newObject(models.ObjectDoor, "1", rng.Float64()*100, rng.Float64()*100, 1)
		objects = append(objects, obj)
		require.NoError(t, tree.Insert(obj))
	}

	tree.Optimize()
	require.NoError(t, tree.Check())
	require.Equal(t, ids(objects), ids(tree.All()))
	require.Equal(t, 100, tree.DebugInfo().Entries)
}

func TestRTreeIntegrityUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, maxEntries := range []int{2, 3, 4, 8, 16} {
		tree := New(maxEntries)
		live := make(map[uuid.UUID]*models.SpatialObject)

		for step := 0; step < 600; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				for id := range live {
					require.True(t, tree.Remove(id))
					delete(live, id)
					break
				}
			} else {
				obj := newObject(models.ObjectDoor, "1", rng.Float64()*100, rng.Float64()*100, 0.1+rng.Float64()*5)
				require.NoError(t, tree.Insert(obj))
				live[obj.ID] = obj
			}

			if step%25 == 0 {
				require.NoError(t, tree.Check(), "max entries %d step %d", maxEntries, step)
			}
		}
		require.NoError(t, tree.Check())
		require.Equal(t, len(live), tree.Len())

		query := models.Box2{MinX: 20, MinY: 20, MaxX: 60, MaxY: 60}
		var expected []*models.SpatialObject
		for _, obj := range live {
			if obj.PlanBounds().Intersects(query) {
				expected = append(expected, obj)
			}
		}
		require.Equal(t, ids(expected), ids(tree.Search(query)))
	}
}
