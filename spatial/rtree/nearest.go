package rtree

import (
	"container/heap"
	"math"
	"sort"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/spatial"
)

// Nearest returns the k objects whose plan bounds are closest to the point,
// closest first. A maxDistance of zero or less means unbounded.
//
// The search window starts small around the point and doubles until it holds
// k objects within reach, or until it covers the whole tree.
func (t *RTree) Nearest(x, y float64, k int, maxDistance float64) []spatial.Neighbor {
	if k <= 0 || math.IsNaN(x) || math.IsNaN(y) {
		return nil
	}
	if maxDistance <= 0 || math.IsNaN(maxDistance) {
		maxDistance = math.Inf(1)
	}

	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if len(t.objects) == 0 {
		return nil
	}
	bounds := t.bound(t.root)

	radius := initialRadius(bounds, len(t.objects))
	if radius > maxDistance {
		radius = maxDistance
	}

	for {
		window := models.NewBox2Around(x, y, radius)

		var candidates []*models.SpatialObject
		t.search(t.root, window, func(obj *models.SpatialObject) {
			candidates = append(candidates, obj)
		})

		reach := math.Min(radius, maxDistance)
		found := 0
		for _, obj := range candidates {
			if obj.PlanBounds().DistanceToPoint(x, y) <= reach {
				found++
			}
		}

		if found >= k || radius >= maxDistance || window.Contains(bounds) {
			return closest(candidates, x, y, k, maxDistance)
		}
		radius *= 2
	}
}

func initialRadius(bounds models.Box2, count int) float64 {
	side := math.Max(bounds.MaxX-bounds.MinX, bounds.MaxY-bounds.MinY)
	if side <= 0 {
		return 1
	}
	return side / math.Sqrt(float64(count))
}

// closest keeps the k candidates closest to the point with a bounded
// max-heap.
func closest(candidates []*models.SpatialObject, x, y float64, k int, maxDistance float64) []spatial.Neighbor {
	h := make(neighborHeap, 0, k+1)
	for _, obj := range candidates {
		d := obj.PlanBounds().DistanceToPoint(x, y)
		if d > maxDistance {
			continue
		}
		if len(h) < k {
			heap.Push(&h, spatial.Neighbor{Object: obj, Distance: d})
			continue
		}
		if d < h[0].Distance {
			h[0] = spatial.Neighbor{Object: obj, Distance: d}
			heap.Fix(&h, 0)
		}
	}

	res := []spatial.Neighbor(h)
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Distance != res[j].Distance {
			return res[i].Distance < res[j].Distance
		}
		return res[i].Object.ID.String() < res[j].Object.ID.String()
	})
	return res
}

type neighborHeap []spatial.Neighbor

func (h neighborHeap) Len() int {
	return len(h)
}

func (h neighborHeap) Less(i, j int) bool {
	return h[i].Distance > h[j].Distance
}

func (h neighborHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *neighborHeap) Push(x any) {
	*h = append(*h, x.(spatial.Neighbor))
}

func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
