// Package rtree implements an R-Tree over the plan view (x, y) projection of
// spatial objects.
//
// Nodes live in an arena and refer to each other by index. Leaves hold one
// entry per object, internal nodes hold one entry per child along with the
// box enclosing that child. Overflowing nodes are split with the quadratic
// algorithm. Removal shrinks ancestor boxes and prunes empty nodes but does
// not merge underfull ones.
package rtree

import (
	"math"
	"sort"
	"sync"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

const DefaultMaxEntries = 8

const noParent = -1

type entry struct {
	box    models.Box2
	child  int
	object *models.SpatialObject
}

type node struct {
	leaf    bool
	parent  int
	entries []entry
}

// RTree is safe for concurrent use. A single lock guards the whole tree:
// every insertion enlarges the entry boxes on its path up to the root and
// may split nodes up to it, so no two insertions touch disjoint nodes only.
type RTree struct {
	mutex      sync.RWMutex
	maxEntries int
	minEntries int
	nodes      []node
	free       []int
	root       int
	height     int
	objects    map[uuid.UUID]*models.SpatialObject
}

// New creates an R-Tree whose nodes hold up to maxEntries entries. Values
// below 2 fall back to DefaultMaxEntries.
func New(maxEntries int) *RTree {
	if maxEntries < 2 {
		maxEntries = DefaultMaxEntries
	}

	t := &RTree{
		maxEntries: maxEntries,
		minEntries: maxEntries / 2,
		objects:    make(map[uuid.UUID]*models.SpatialObject),
	}
	t.reset()
	return t
}

func (t *RTree) MaxEntries() int {
	return t.maxEntries
}

func (t *RTree) Insert(obj *models.SpatialObject) error {
	if obj == nil {
		return errors.New("nil object").WithType(models.ErrTypeInvalidGeometry)
	}
	box := obj.PlanBounds()
	if !validBox(box) {
		return errors.New("object plan bounds are not finite").
			WithType(models.ErrTypeInvalidGeometry).
			WithTag("object_id", obj.ID)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.objects[obj.ID]; ok {
		return errors.New("object already indexed").
			WithType(models.ErrTypeAlreadyExists).
			WithTag("object_id", obj.ID).
			WithTag("index", "rtree")
	}

	t.objects[obj.ID] = obj
	t.insert(obj, box)
	return nil
}

func (t *RTree) Remove(id uuid.UUID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	obj, ok := t.objects[id]
	if !ok {
		return false
	}
	delete(t.objects, id)

	leaf, idx := t.findLeaf(t.root, obj.PlanBounds(), id)
	if leaf < 0 {
		// Unreachable when the tree is consistent.
		t.rebuild()
		return true
	}

	entries := t.nodes[leaf].entries
	t.nodes[leaf].entries = append(entries[:idx], entries[idx+1:]...)
	t.condense(leaf)
	return true
}

func (t *RTree) Contains(id uuid.UUID) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	_, ok := t.objects[id]
	return ok
}

func (t *RTree) Get(id uuid.UUID) (*models.SpatialObject, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	obj, ok := t.objects[id]
	return obj, ok
}

func (t *RTree) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.objects)
}

// All returns every stored object ordered by id.
func (t *RTree) All() []*models.SpatialObject {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	res := make([]*models.SpatialObject, 0, len(t.objects))
	for _, obj := range t.objects {
		res = append(res, obj)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID.String() < res[j].ID.String()
	})
	return res
}

// Height returns the number of levels, a tree holding only a root leaf
// having a height of 1.
func (t *RTree) Height() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.height
}

// Search returns the objects whose plan bounds intersect the given box.
func (t *RTree) Search(box models.Box2) []*models.SpatialObject {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var res []*models.SpatialObject
	t.search(t.root, box, func(obj *models.SpatialObject) {
		res = append(res, obj)
	})
	return res
}

// SearchPoint returns the objects whose plan bounds contain the point.
func (t *RTree) SearchPoint(x, y float64) []*models.SpatialObject {
	return t.Search(models.Box2{MinX: x, MinY: y, MaxX: x, MaxY: y})
}

// FindConflicts returns the objects located on the same floor whose plan
// bounds overlap the given object or lie within tolerance of it.
func (t *RTree) FindConflicts(obj *models.SpatialObject, tolerance float64) []spatial.Candidate {
	if tolerance < 0 {
		tolerance = 0
	}
	box := obj.PlanBounds()

	var res []spatial.Candidate
	for _, c := range t.Search(box.Expand(tolerance)) {
		if c.ID == obj.ID || c.FloorID != obj.FloorID {
			continue
		}

		cbox := c.PlanBounds()
		var kind models.IndexKind
		switch {
		case box.Intersects(cbox) && c.SystemType() == obj.SystemType():
			kind = models.IndexKindPlanOverlap
		case box.Intersects(cbox):
			kind = models.IndexKindCrossSystem
		case box.Distance(cbox) <= tolerance:
			kind = models.IndexKindProximity
		default:
			continue
		}
		res = append(res, spatial.Candidate{Object: c, Kind: kind})
	}
	return res
}

// Optimize rebuilds the tree, reinserting the objects in spatial order.
func (t *RTree) Optimize() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.rebuild()
}

func (t *RTree) DebugInfo() spatial.DebugInfo {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	info := spatial.DebugInfo{
		Kind:    "rtree",
		Objects: len(t.objects),
		Depth:   t.height,
	}
	t.visit(t.root, func(n *node) {
		info.Nodes++
		if n.leaf {
			info.Leaves++
			info.Entries += len(n.entries)
		}
	})
	return info
}

func (t *RTree) reset() {
	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	t.nodes = append(t.nodes, node{leaf: true, parent: noParent})
	t.root = 0
	t.height = 1
}

func (t *RTree) rebuild() {
	objects := make([]*models.SpatialObject, 0, len(t.objects))
	for _, obj := range t.objects {
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool {
		a, b := objects[i].PlanBounds(), objects[j].PlanBounds()
		ax, bx := (a.MinX+a.MaxX)/2, (b.MinX+b.MaxX)/2
		if ax != bx {
			return ax < bx
		}
		return (a.MinY + a.MaxY) < (b.MinY + b.MaxY)
	})

	t.reset()
	for _, obj := range objects {
		t.insert(obj, obj.PlanBounds())
	}
}

func (t *RTree) insert(obj *models.SpatialObject, box models.Box2) {
	leaf := t.chooseLeaf(box)
	t.nodes[leaf].entries = append(t.nodes[leaf].entries, entry{
		box:    box,
		object: obj,
	})

	for n := leaf; n != t.root; {
		parent := t.nodes[n].parent
		i := t.entryIndex(parent, n)
		t.nodes[parent].entries[i].box = t.nodes[parent].entries[i].box.Union(box)
		n = parent
	}

	t.handleOverflow(leaf)
}

// chooseLeaf descends from the root picking the child needing the least
// enlargement, ties going to the smallest child.
func (t *RTree) chooseLeaf(box models.Box2) int {
	n := t.root
	for !t.nodes[n].leaf {
		best := -1
		var bestEnlargement, bestArea float64
		for i, e := range t.nodes[n].entries {
			enlargement := e.box.Enlargement(box)
			area := e.box.Area()
			if best < 0 ||
				enlargement < bestEnlargement ||
				(enlargement == bestEnlargement && area < bestArea) {
				best = i
				bestEnlargement = enlargement
				bestArea = area
			}
		}
		n = t.nodes[n].entries[best].child
	}
	return n
}

func (t *RTree) handleOverflow(n int) {
	for len(t.nodes[n].entries) > t.maxEntries {
		sibling := t.split(n)

		if n == t.root {
			root := t.alloc(false, noParent)
			t.nodes[root].entries = []entry{
				{box: t.bound(n), child: n},
				{box: t.bound(sibling), child: sibling},
			}
			t.nodes[n].parent = root
			t.nodes[sibling].parent = root
			t.root = root
			t.height++
			return
		}

		parent := t.nodes[n].parent
		i := t.entryIndex(parent, n)
		t.nodes[parent].entries[i].box = t.bound(n)
		t.nodes[parent].entries = append(t.nodes[parent].entries, entry{
			box:   t.bound(sibling),
			child: sibling,
		})
		t.nodes[sibling].parent = parent
		n = parent
	}
}

// split moves part of the entries of n into a new sibling node using the
// quadratic algorithm and returns the sibling.
func (t *RTree) split(n int) int {
	entries := t.nodes[n].entries

	seedA, seedB := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			waste := entries[i].box.Union(entries[j].box).Area() -
				entries[i].box.Area() -
				entries[j].box.Area()
			if waste > worst {
				worst = waste
				seedA, seedB = i, j
			}
		}
	}

	groupA := []entry{entries[seedA]}
	groupB := []entry{entries[seedB]}
	boxA, boxB := entries[seedA].box, entries[seedB].box

	remaining := len(entries) - 2
	for i, e := range entries {
		if i == seedA || i == seedB {
			continue
		}

		var toA bool
		switch {
		case len(groupA)+remaining <= t.minEntries:
			toA = true
		case len(groupB)+remaining <= t.minEntries:
			toA = false
		default:
			ea, eb := boxA.Enlargement(e.box), boxB.Enlargement(e.box)
			switch {
			case ea != eb:
				toA = ea < eb
			case boxA.Area() != boxB.Area():
				toA = boxA.Area() < boxB.Area()
			default:
				toA = len(groupA) <= len(groupB)
			}
		}

		if toA {
			groupA = append(groupA, e)
			boxA = boxA.Union(e.box)
		} else {
			groupB = append(groupB, e)
			boxB = boxB.Union(e.box)
		}
		remaining--
	}

	leaf := t.nodes[n].leaf
	t.nodes[n].entries = groupA
	sibling := t.alloc(leaf, t.nodes[n].parent)
	t.nodes[sibling].entries = groupB
	if !leaf {
		for _, e := range groupB {
			t.nodes[e.child].parent = sibling
		}
	}
	return sibling
}

// condense walks up from a leaf that lost an entry, pruning empty nodes and
// shrinking ancestor boxes, then collapses single child roots.
func (t *RTree) condense(n int) {
	for n != t.root {
		parent := t.nodes[n].parent
		i := t.entryIndex(parent, n)
		if len(t.nodes[n].entries) == 0 {
			entries := t.nodes[parent].entries
			t.nodes[parent].entries = append(entries[:i], entries[i+1:]...)
			t.release(n)
		} else {
			t.nodes[parent].entries[i].box = t.bound(n)
		}
		n = parent
	}

	for !t.nodes[t.root].leaf && len(t.nodes[t.root].entries) == 1 {
		child := t.nodes[t.root].entries[0].child
		t.release(t.root)
		t.root = child
		t.nodes[child].parent = noParent
		t.height--
	}

	if !t.nodes[t.root].leaf && len(t.nodes[t.root].entries) == 0 {
		t.nodes[t.root].leaf = true
		t.height = 1
	}
}

func (t *RTree) findLeaf(n int, box models.Box2, id uuid.UUID) (int, int) {
	nd := &t.nodes[n]
	if nd.leaf {
		for i, e := range nd.entries {
			if e.object.ID == id {
				return n, i
			}
		}
		return -1, -1
	}

	for _, e := range nd.entries {
		if !e.box.Contains(box) {
			continue
		}
		if leaf, idx := t.findLeaf(e.child, box, id); leaf >= 0 {
			return leaf, idx
		}
	}
	return -1, -1
}

func (t *RTree) search(n int, box models.Box2, yield func(*models.SpatialObject)) {
	nd := &t.nodes[n]
	for _, e := range nd.entries {
		if !e.box.Intersects(box) {
			continue
		}
		if nd.leaf {
			yield(e.object)
		} else {
			t.search(e.child, box, yield)
		}
	}
}

func (t *RTree) visit(n int, fn func(*node)) {
	nd := &t.nodes[n]
	fn(nd)
	if nd.leaf {
		return
	}
	for _, e := range nd.entries {
		t.visit(e.child, fn)
	}
}

func (t *RTree) entryIndex(parent, child int) int {
	for i, e := range t.nodes[parent].entries {
		if e.child == child {
			return i
		}
	}
	panic("rtree: child not found in parent")
}

func (t *RTree) bound(n int) models.Box2 {
	entries := t.nodes[n].entries
	if len(entries) == 0 {
		return models.Box2{}
	}
	box := entries[0].box
	for _, e := range entries[1:] {
		box = box.Union(e.box)
	}
	return box
}

func (t *RTree) alloc(leaf bool, parent int) int {
	n := node{leaf: leaf, parent: parent}
	if l := len(t.free); l > 0 {
		idx := t.free[l-1]
		t.free = t.free[:l-1]
		t.nodes[idx] = n
		return idx
	}
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func (t *RTree) release(n int) {
	t.nodes[n] = node{parent: noParent}
	t.free = append(t.free, n)
}

func validBox(b models.Box2) bool {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}
