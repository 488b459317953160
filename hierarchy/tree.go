// Package hierarchy holds the device classification tree in memory.
//
// Nodes are loaded once from the store and indexed by id, code and path.
// Descendant lookup is a prefix match on the materialized path and ancestor
// lookup walks the dotted path segments, so neither needs a store round trip.
package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/medtariff/refprice/models"
)

// Tree is a read-mostly index over the classification hierarchy. All methods
// are safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	byID   map[uint]*models.Category
	byCode map[string]*models.Category
	byPath map[string]*models.Category
	paths  []string // sorted, for prefix scans
}

// CategorySource loads every category node.
type CategorySource interface {
	GetAllCategories(ctx context.Context) ([]models.Category, error)
}

// Load builds a tree from the store.
func Load(ctx context.Context, src CategorySource) (*Tree, error) {
	nodes, err := src.GetAllCategories(ctx)
	if err != nil {
		return nil, err
	}
	return New(nodes)
}

// New indexes nodes and checks the tree invariants: unique ids, codes and
// paths, path equal to the ancestor code chain, depth equal to the number of
// ancestor hops and child codes extending their parent's code.
func New(nodes []models.Category) (*Tree, error) {
	t := &Tree{
		byID:   make(map[uint]*models.Category, len(nodes)),
		byCode: make(map[string]*models.Category, len(nodes)),
		byPath: make(map[string]*models.Category, len(nodes)),
		paths:  make([]string, 0, len(nodes)),
	}

	for i := range nodes {
		n := nodes[i]
		if _, dup := t.byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %d: %w", n.ID, models.ErrIntegrityViolation)
		}
		if _, dup := t.byCode[n.Code]; dup {
			return nil, fmt.Errorf("duplicate category code %s: %w", n.Code, models.ErrIntegrityViolation)
		}
		if _, dup := t.byPath[n.Path]; dup {
			return nil, fmt.Errorf("duplicate category path %s: %w", n.Path, models.ErrIntegrityViolation)
		}
		t.byID[n.ID] = &n
		t.byCode[n.Code] = &n
		t.byPath[n.Path] = &n
		t.paths = append(t.paths, n.Path)
	}
	sort.Strings(t.paths)

	for _, n := range t.byID {
		if err := t.check(n); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) check(n *models.Category) error {
	segments := n.PathCodes()
	if len(segments) == 0 || segments[len(segments)-1] != n.Code {
		return fmt.Errorf("category %s: path %q does not end with its code: %w", n.Code, n.Path, models.ErrIntegrityViolation)
	}
	if n.Depth != len(segments)-1 {
		return fmt.Errorf("category %s: depth %d does not match path %q: %w", n.Code, n.Depth, n.Path, models.ErrIntegrityViolation)
	}

	if n.ParentID == nil {
		if n.Depth != 0 {
			return fmt.Errorf("category %s: root node at depth %d: %w", n.Code, n.Depth, models.ErrIntegrityViolation)
		}
		return nil
	}

	parent, ok := t.byID[*n.ParentID]
	if !ok {
		return fmt.Errorf("category %s: parent %d missing: %w", n.Code, *n.ParentID, models.ErrIntegrityViolation)
	}
	if parent.Path+models.PathSeparator+n.Code != n.Path {
		return fmt.Errorf("category %s: path %q does not extend parent path %q: %w", n.Code, n.Path, parent.Path, models.ErrIntegrityViolation)
	}
	if !strings.HasPrefix(n.Code, parent.Code) || n.Code == parent.Code {
		return fmt.Errorf("category %s: code does not extend parent code %s: %w", n.Code, parent.Code, models.ErrIntegrityViolation)
	}
	return nil
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Node returns a copy of the node with id.
func (t *Tree) Node(id uint) (models.Category, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byID[id]
	if !ok {
		return models.Category{}, fmt.Errorf("category id %d: %w", id, models.ErrNotFound)
	}
	return *n, nil
}

// ByCode returns a copy of the node with code.
func (t *Tree) ByCode(code string) (models.Category, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byCode[code]
	if !ok {
		return models.Category{}, fmt.Errorf("category code %s: %w", code, models.ErrNotFound)
	}
	return *n, nil
}

// DescendantIDs returns id itself followed by the id of every node whose
// path starts with the node's path plus the separator, in path order.
func (t *Tree) DescendantIDs(id uint) ([]uint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("category id %d: %w", id, models.ErrNotFound)
	}

	ids := []uint{n.ID}
	prefix := n.Path + models.PathSeparator
	start := sort.SearchStrings(t.paths, prefix)
	for _, p := range t.paths[start:] {
		if !strings.HasPrefix(p, prefix) {
			break
		}
		ids = append(ids, t.byPath[p].ID)
	}
	return ids, nil
}

// AncestorChain returns the nodes from the root down to id, inclusive.
func (t *Tree) AncestorChain(id uint) ([]models.Category, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("category id %d: %w", id, models.ErrNotFound)
	}

	segments := n.PathCodes()
	chain := make([]models.Category, 0, len(segments))
	for i := range segments {
		a, ok := t.byPath[strings.Join(segments[:i+1], models.PathSeparator)]
		if !ok {
			return nil, fmt.Errorf("category %s: ancestor %s missing: %w", n.Code, segments[i], models.ErrIntegrityViolation)
		}
		chain = append(chain, *a)
	}
	return chain, nil
}

// IsDescendantOrSelf reports whether node is ancestor itself or lies below it.
func (t *Tree) IsDescendantOrSelf(node, ancestor uint) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byID[node]
	if !ok {
		return false, fmt.Errorf("category id %d: %w", node, models.ErrNotFound)
	}
	a, ok := t.byID[ancestor]
	if !ok {
		return false, fmt.Errorf("category id %d: %w", ancestor, models.ErrNotFound)
	}
	return a.Contains(n), nil
}

// Nodes returns a copy of every node in path order.
func (t *Tree) Nodes() []models.Category {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Category, 0, len(t.paths))
	for _, p := range t.paths {
		out = append(out, *t.byPath[p])
	}
	return out
}

// Rename updates a node's display name. Names are the only field that may
// change after import.
func (t *Tree) Rename(id uint, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("category id %d: %w", id, models.ErrNotFound)
	}
	n.Name = name
	return nil
}
