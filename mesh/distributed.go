package mesh

import (
	"fmt"
	"github.com/notargets/DGBalance/pcl"
	"math"
)

type InterfaceKind uint8

const (
	// VerticalMaster copies own the children of a duplicated element
	VerticalMaster InterfaceKind = iota
	// VerticalSlave copies have no local parent
	VerticalSlave
)

func (k InterfaceKind) String() string {
	switch k {
	case VerticalMaster:
		return "VMaster"
	case VerticalSlave:
		return "VSlave"
	}
	return fmt.Sprintf("InterfaceKind(%d)", uint8(k))
}

// DistributedGridManager answers ownership queries for the local part of a
// distributed multigrid
type DistributedGridManager interface {
	// IsGhost reports elements held only to complete a vertical interface
	IsGhost(e ElementID) bool
	HasLayout(kind InterfaceKind) bool
	// LayoutOnLevel returns the interfaces of one kind on a grid level. Slot
	// values are local element ids.
	LayoutOnLevel(kind InterfaceKind, lvl int) pcl.Layout
}

// DistributedGrid is an in-memory DistributedGridManager
type DistributedGrid struct {
	ghosts  map[ElementID]bool
	layouts map[InterfaceKind]map[int]pcl.Layout
}

func NewDistributedGrid() *DistributedGrid {
	return &DistributedGrid{
		ghosts:  make(map[ElementID]bool),
		layouts: make(map[InterfaceKind]map[int]pcl.Layout),
	}
}

func (d *DistributedGrid) MarkGhost(e ElementID) { d.ghosts[e] = true }

func (d *DistributedGrid) IsGhost(e ElementID) bool { return d.ghosts[e] }

// AddInterface appends an interface to the remote process on a level. The
// remote process has to add the matching interface of the opposite kind
// with its copies in the same order.
func (d *DistributedGrid) AddInterface(kind InterfaceKind, lvl, remote int, elems []ElementID) {
	byLevel, ok := d.layouts[kind]
	if !ok {
		byLevel = make(map[int]pcl.Layout)
		d.layouts[kind] = byLevel
	}
	slots := make([]int, len(elems))
	for i, e := range elems {
		slots[i] = int(e)
	}
	byLevel[lvl] = append(byLevel[lvl], pcl.Interface{Remote: remote, Elems: slots})
}

func (d *DistributedGrid) HasLayout(kind InterfaceKind) bool {
	return len(d.layouts[kind]) > 0
}

func (d *DistributedGrid) LayoutOnLevel(kind InterfaceKind, lvl int) pcl.Layout {
	return d.layouts[kind][lvl]
}

// Distribute copies every level-0 element together with its subtree onto
// the grid of the rank returned by owner. The second result maps the local
// element ids of every rank back to ids of g.
func Distribute(g *Grid, owner func(e ElementID) int, numRanks int) ([]*Grid, [][]ElementID, error) {
	if numRanks < 1 {
		return nil, nil, fmt.Errorf("invalid number of ranks %d", numRanks)
	}
	grids := make([]*Grid, numRanks)
	globals := make([][]ElementID, numRanks)
	vmaps := make([]map[int]int, numRanks)
	for r := range grids {
		grids[r] = NewGrid(g.dim)
		vmaps[r] = make(map[int]int)
	}

	var copySubtree func(r int, e, localParent ElementID) error
	copySubtree = func(r int, e, localParent ElementID) error {
		lg := grids[r]
		el := g.elems[e]
		verts := make([]int, len(el.verts))
		for i, v := range el.verts {
			lv, ok := vmaps[r][v]
			if !ok {
				lv = lg.AddVertex(g.vertices[v])
				vmaps[r][v] = lv
			}
			verts[i] = lv
		}
		var (
			id  ElementID
			err error
		)
		if localParent == InvalidElement {
			id, err = lg.AddElement(el.geom, verts)
		} else {
			id, err = lg.AddChild(localParent, el.geom, verts)
		}
		if err != nil {
			return err
		}
		globals[r] = append(globals[r], e)
		for _, c := range el.children {
			if err = copySubtree(r, c, id); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range g.Level(0) {
		r := owner(e)
		if r < 0 || r >= numRanks {
			return nil, nil, fmt.Errorf("element %d assigned to rank %d of %d", e, r, numRanks)
		}
		if err := copySubtree(r, e, InvalidElement); err != nil {
			return nil, nil, err
		}
	}
	return grids, globals, nil
}

// SliceByAxis returns an owner function cutting the level-0 elements of g
// into n equally wide slabs along axis
func SliceByAxis(g *Grid, axis, n int) func(e ElementID) int {
	b := g.Bounds()
	lo, hi := Component(b.Min, axis), Component(b.Max, axis)
	return func(e ElementID) int {
		if n < 2 || hi <= lo {
			return 0
		}
		c := Component(g.Center(e), axis)
		r := int(math.Floor((c - lo) / (hi - lo) * float64(n)))
		return max(0, min(n-1, r))
	}
}
