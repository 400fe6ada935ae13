package rtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

// Check verifies the structural integrity of the tree: every stored object is
// reachable through exactly one path, no node overflows, parent links and
// entry boxes are consistent, and all leaves sit at the same depth.
func (t *RTree) Check() error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.nodes[t.root].parent != noParent {
		return errors.New("root has a parent").WithTag("root", t.root)
	}

	seen := make(map[uuid.UUID]int, len(t.objects))
	if err := t.check(t.root, 1, seen); err != nil {
		return err
	}

	for id, count := range seen {
		if _, ok := t.objects[id]; !ok {
			return errors.New("unknown object reachable from root").WithTag("object_id", id)
		}
		if count != 1 {
			return errors.New("object reachable through several paths").
				WithTag("object_id", id).
				WithTag("paths", count)
		}
	}
	if len(seen) != len(t.objects) {
		return errors.New("objects not reachable from root").
			WithTag("reachable", len(seen)).
			WithTag("stored", len(t.objects))
	}
	return nil
}

func (t *RTree) check(n, depth int, seen map[uuid.UUID]int) error {
	nd := &t.nodes[n]
	if len(nd.entries) > t.maxEntries {
		return errors.New("node overflows").
			WithTag("node", n).
			WithTag("entries", len(nd.entries))
	}
	if n != t.root && len(nd.entries) == 0 {
		return errors.New("empty non-root node").WithTag("node", n)
	}

	if nd.leaf {
		if depth != t.height {
			return errors.New("leaf at wrong depth").
				WithTag("node", n).
				WithTag("depth", depth).
				WithTag("height", t.height)
		}
		for _, e := range nd.entries {
			if e.object == nil {
				return errors.New("leaf entry without object").WithTag("node", n)
			}
			if e.box != e.object.PlanBounds() {
				return errors.New("leaf entry box mismatch").WithTag("object_id", e.object.ID)
			}
			seen[e.object.ID]++
		}
		return nil
	}

	for _, e := range nd.entries {
		child := &t.nodes[e.child]
		if child.parent != n {
			return errors.New("broken parent link").
				WithTag("node", e.child).
				WithTag("parent", child.parent).
				WithTag("expected", n)
		}
		if !e.box.Contains(t.bound(e.child)) {
			return errors.New("entry box does not enclose child").WithTag("node", e.child)
		}
		if err := t.check(e.child, depth+1, seen); err != nil {
			return err
		}
	}
	return nil
}
