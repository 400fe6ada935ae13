// Package octree implements a 3D partition of space where every node has
// eight children.
//
// The particularities are:
//   - objects are stored in every leaf their bounding box intersects, so a
//     query deduplicates by id;
//   - a leaf splits once it holds more than MaxObjects, unless it already
//     reached MaxDepth or MinVolume;
//   - the root grows to fit an object lying outside of it by rebuilding the
//     whole tree.
package octree

import (
	"math"
	"sort"
	"sync"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

const (
	DefaultMaxObjects = 10
	DefaultMaxDepth   = 15
	DefaultMinVolume  = 1e-6
)

// Config describes how an octree subdivides.
type Config struct {
	Bounds     models.Box3
	MaxObjects int
	MaxDepth   int
	MinVolume  float64
}

// DefaultConfig returns a config covering a 2km cube centered on the origin.
func DefaultConfig() Config {
	return Config{
		Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: 1000, Y: 1000, Z: 1000}),
		MaxObjects: DefaultMaxObjects,
		MaxDepth:   DefaultMaxDepth,
		MinVolume:  DefaultMinVolume,
	}
}

type node struct {
	mutex    sync.RWMutex
	box      models.Box3
	depth    int
	leaf     bool
	children [8]int
	items    []*models.SpatialObject
}

// Octree is safe for concurrent use.
//
// Every node guards its own children and items. A goroutine descending the
// tree releases a node before locking one of its children, so inserts and
// removals landing in disjoint octants proceed in parallel. Replacing the
// root takes the structure lock exclusively.
//
// Concurrent Insert and Remove calls for the same id must be serialized by
// the caller.
type Octree struct {
	structure sync.RWMutex
	config    Config

	arenaMutex sync.RWMutex
	nodes      []*node

	objectsMutex sync.RWMutex
	objects      map[uuid.UUID]*models.SpatialObject
}

func New(c Config) *Octree {
	if c.MaxObjects <= 0 {
		c.MaxObjects = DefaultMaxObjects
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MinVolume <= 0 {
		c.MinVolume = DefaultMinVolume
	}
	if c.Bounds.Volume() <= 0 {
		c.Bounds = DefaultConfig().Bounds
	}

	t := &Octree{
		config:  c,
		objects: make(map[uuid.UUID]*models.SpatialObject),
	}
	t.reset(c.Bounds)
	return t
}

func (t *Octree) Insert(obj *models.SpatialObject) error {
	if obj == nil {
		return errors.New("nil object").WithType(models.ErrTypeInvalidGeometry)
	}
	if !validBox(obj.Bounds) {
		return errors.New("object bounds are not finite").
			WithType(models.ErrTypeInvalidGeometry).
			WithTag("object_id", obj.ID)
	}

	t.structure.RLock()
	if t.node(0).box.Contains(obj.Bounds) {
		err := t.track(obj)
		if err == nil {
			t.insert(0, obj)
		}
		t.structure.RUnlock()
		return err
	}
	t.structure.RUnlock()

	t.structure.Lock()
	defer t.structure.Unlock()

	if err := t.track(obj); err != nil {
		return err
	}
	if t.node(0).box.Contains(obj.Bounds) {
		t.insert(0, obj)
		return nil
	}
	t.grow(obj.Bounds)
	return nil
}

func (t *Octree) Remove(id uuid.UUID) bool {
	t.structure.RLock()
	defer t.structure.RUnlock()

	t.objectsMutex.Lock()
	obj, ok := t.objects[id]
	delete(t.objects, id)
	t.objectsMutex.Unlock()

	if !ok {
		return false
	}
	t.remove(0, obj)
	return true
}

func (t *Octree) Contains(id uuid.UUID) bool {
	t.objectsMutex.RLock()
	defer t.objectsMutex.RUnlock()

	_, ok := t.objects[id]
	return ok
}

func (t *Octree) Get(id uuid.UUID) (*models.SpatialObject, bool) {
	t.objectsMutex.RLock()
	defer t.objectsMutex.RUnlock()

	obj, ok := t.objects[id]
	return obj, ok
}

func (t *Octree) Len() int {
	t.objectsMutex.RLock()
	defer t.objectsMutex.RUnlock()
	return len(t.objects)
}

// All returns every stored object ordered by id.
func (t *Octree) All() []*models.SpatialObject {
	res := t.snapshot()
	sortByID(res)
	return res
}

// Bounds returns the box currently covered by the root.
func (t *Octree) Bounds() models.Box3 {
	t.structure.RLock()
	defer t.structure.RUnlock()
	return t.node(0).box
}

// Query returns the objects whose bounding box intersects the given box.
func (t *Octree) Query(box models.Box3) []*models.SpatialObject {
	t.structure.RLock()
	defer t.structure.RUnlock()

	var res []*models.SpatialObject
	seen := make(map[uuid.UUID]struct{})
	t.walk(0, func(n *node) bool {
		return n.box.Intersects(box)
	}, func(obj *models.SpatialObject) {
		if _, ok := seen[obj.ID]; ok {
			return
		}
		seen[obj.ID] = struct{}{}
		if obj.Bounds.Intersects(box) {
			res = append(res, obj)
		}
	})
	return res
}

// QueryPoint returns the objects whose actual shape contains the point.
func (t *Octree) QueryPoint(p models.Vector3) []*models.SpatialObject {
	t.structure.RLock()
	defer t.structure.RUnlock()

	var res []*models.SpatialObject
	seen := make(map[uuid.UUID]struct{})
	t.walk(0, func(n *node) bool {
		return n.box.ContainsPoint(p)
	}, func(obj *models.SpatialObject) {
		if _, ok := seen[obj.ID]; ok {
			return
		}
		seen[obj.ID] = struct{}{}
		if obj.Bounds.ContainsPoint(p) && obj.Geometry.ContainsPoint(p) {
			res = append(res, obj)
		}
	})
	return res
}

// Nearest returns up to limit objects whose bounding box lies within radius
// of the point, closest first. A limit of zero or less means no limit.
func (t *Octree) Nearest(p models.Vector3, radius float64, limit int) []spatial.Neighbor {
	if radius < 0 || math.IsNaN(radius) {
		return nil
	}
	window := models.Box3{Min: p, Max: p}.Expand(radius)

	var res []spatial.Neighbor
	for _, obj := range t.Query(window) {
		if d := obj.Bounds.DistanceToPoint(p); d <= radius {
			res = append(res, spatial.Neighbor{Object: obj, Distance: d})
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Distance != res[j].Distance {
			return res[i].Distance < res[j].Distance
		}
		return res[i].Object.ID.String() < res[j].Object.ID.String()
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

// FindConflicts returns the objects whose bounding box lies within tolerance
// of the given object, classified by system priority.
func (t *Octree) FindConflicts(obj *models.SpatialObject, tolerance float64) []spatial.Candidate {
	if tolerance < 0 {
		tolerance = 0
	}

	var res []spatial.Candidate
	for _, c := range t.Query(obj.Bounds.Expand(tolerance)) {
		if c.ID == obj.ID {
			continue
		}
		res = append(res, spatial.Candidate{
			Object: c,
			Kind:   spatial.ClassifyByPriority(obj, c),
		})
	}
	return res
}

// Optimize rebuilds the tree, reinserting the objects in spatial order.
func (t *Octree) Optimize() {
	t.structure.Lock()
	defer t.structure.Unlock()

	t.rebuild(t.node(0).box)
}

func (t *Octree) DebugInfo() spatial.DebugInfo {
	t.structure.Lock()
	defer t.structure.Unlock()

	info := spatial.DebugInfo{
		Kind:    "octree",
		Objects: t.Len(),
		Nodes:   len(t.nodes),
	}
	for _, n := range t.nodes {
		if n.depth > info.Depth {
			info.Depth = n.depth
		}
		if n.leaf {
			info.Leaves++
			info.Entries += len(n.items)
		}
	}
	return info
}

func (t *Octree) node(idx int) *node {
	t.arenaMutex.RLock()
	defer t.arenaMutex.RUnlock()
	return t.nodes[idx]
}

func (t *Octree) alloc(box models.Box3, depth int) (int, *node) {
	n := &node{box: box, depth: depth, leaf: true}

	t.arenaMutex.Lock()
	defer t.arenaMutex.Unlock()

	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1, n
}

func (t *Octree) track(obj *models.SpatialObject) error {
	t.objectsMutex.Lock()
	defer t.objectsMutex.Unlock()

	if _, ok := t.objects[obj.ID]; ok {
		return errors.New("object already indexed").
			WithType(models.ErrTypeAlreadyExists).
			WithTag("object_id", obj.ID).
			WithTag("index", "octree")
	}
	t.objects[obj.ID] = obj
	return nil
}

func (t *Octree) snapshot() []*models.SpatialObject {
	t.objectsMutex.RLock()
	defer t.objectsMutex.RUnlock()

	res := make([]*models.SpatialObject, 0, len(t.objects))
	for _, obj := range t.objects {
		res = append(res, obj)
	}
	return res
}

func (t *Octree) reset(bounds models.Box3) {
	t.arenaMutex.Lock()
	t.nodes = []*node{{box: bounds, leaf: true}}
	t.arenaMutex.Unlock()
}

// grow makes the root cover its current box and the given one, plus a
// quarter of the largest side as slack.
func (t *Octree) grow(box models.Box3) {
	union := t.node(0).box.Union(box)
	size := union.Size()
	slack := math.Max(size.X, math.Max(size.Y, size.Z)) / 4
	t.rebuild(union.Expand(slack))
}

func (t *Octree) rebuild(bounds models.Box3) {
	objects := t.snapshot()
	sortSpatially(objects)

	t.reset(bounds)
	for _, obj := range objects {
		t.insert(0, obj)
	}
}

func (t *Octree) insert(idx int, obj *models.SpatialObject) {
	n := t.node(idx)

	n.mutex.Lock()
	if !n.leaf {
		children := n.children
		n.mutex.Unlock()

		for _, c := range children {
			if t.node(c).box.Intersects(obj.Bounds) {
				t.insert(c, obj)
			}
		}
		return
	}

	t.place(n, obj)
	n.mutex.Unlock()
}

// place adds an object to a leaf that is either locked by the caller or not
// yet reachable from the root.
func (t *Octree) place(n *node, obj *models.SpatialObject) {
	n.items = append(n.items, obj)
	if t.shouldSubdivide(n) {
		t.subdivide(n)
	}
}

func (t *Octree) shouldSubdivide(n *node) bool {
	if len(n.items) <= t.config.MaxObjects || n.depth >= t.config.MaxDepth {
		return false
	}
	if n.box.Volume() <= t.config.MinVolume {
		return false
	}

	// Splitting a leaf whose objects all cover it would only copy them into
	// every child.
	for _, obj := range n.items {
		if !obj.Bounds.Contains(n.box) {
			return true
		}
	}
	return false
}

// subdivide fills eight fresh children before publishing them, so no child
// lock is taken while n is held.
func (t *Octree) subdivide(n *node) {
	var indexes [8]int
	var children [8]*node
	for i := range children {
		indexes[i], children[i] = t.alloc(n.box.Octant(i), n.depth+1)
	}

	for _, obj := range n.items {
		for _, c := range children {
			if c.box.Intersects(obj.Bounds) {
				t.place(c, obj)
			}
		}
	}

	n.items = nil
	n.children = indexes
	n.leaf = false
}

func (t *Octree) remove(idx int, obj *models.SpatialObject) {
	n := t.node(idx)
	if !n.box.Intersects(obj.Bounds) {
		return
	}

	n.mutex.Lock()
	if n.leaf {
		for i, item := range n.items {
			if item.ID == obj.ID {
				items := make([]*models.SpatialObject, 0, len(n.items)-1)
				items = append(items, n.items[:i]...)
				n.items = append(items, n.items[i+1:]...)
				break
			}
		}
		n.mutex.Unlock()
		return
	}
	children := n.children
	n.mutex.Unlock()

	for _, c := range children {
		t.remove(c, obj)
	}
}

func (t *Octree) walk(idx int, visit func(*node) bool, yield func(*models.SpatialObject)) {
	n := t.node(idx)
	if !visit(n) {
		return
	}

	n.mutex.RLock()
	leaf, children, items := n.leaf, n.children, n.items
	n.mutex.RUnlock()

	if leaf {
		for _, obj := range items {
			yield(obj)
		}
		return
	}

	for _, c := range children {
		t.walk(c, visit, yield)
	}
}

func validBox(b models.Box3) bool {
	for _, v := range []float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

func sortSpatially(objects []*models.SpatialObject) {
	sort.Slice(objects, func(i, j int) bool {
		a, b := objects[i].Bounds.Center(), objects[j].Bounds.Center()
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

func sortByID(objects []*models.SpatialObject) {
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].ID.String() < objects[j].ID.String()
	})
}
