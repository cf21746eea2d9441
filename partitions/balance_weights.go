package partitions

import "github.com/notargets/DGBalance/mesh"

// BalanceWeights assigns the computational load of elements
type BalanceWeights interface {
	Weight(e mesh.ElementID) float64
	// RefinedWeight is the weight of e once it has been refined
	RefinedWeight(e mesh.ElementID) float64
	// ConsiderInLevelAbove reports elements whose load is accounted one
	// level above their own, e.g. elements about to be refined
	ConsiderInLevelAbove(e mesh.ElementID) bool
	HasLevelOffsets() bool
}

// UnitWeights weighs every element 1
type UnitWeights struct{}

func (UnitWeights) Weight(mesh.ElementID) float64 { return 1 }

func (UnitWeights) RefinedWeight(mesh.ElementID) float64 { return 1 }

func (UnitWeights) ConsiderInLevelAbove(mesh.ElementID) bool { return false }

func (UnitWeights) HasLevelOffsets() bool { return false }

// GeometryWeights weighs elements by their geometry type, e.g. to account
// for the higher cost of hexahedra over tetrahedra. Geometries missing from
// Costs weigh Default.
type GeometryWeights struct {
	Grid    mesh.MultiGrid
	Costs   map[mesh.ElementGeometry]float64
	Default float64
}

func (w *GeometryWeights) Weight(e mesh.ElementID) float64 {
	if c, ok := w.Costs[w.Grid.Geometry(e)]; ok {
		return c
	}
	return w.Default
}

// RefinedWeight is the combined weight of the children a box refinement
// would create
func (w *GeometryWeights) RefinedWeight(e mesh.ElementID) float64 {
	geom := w.Grid.Geometry(e)
	return float64(childrenPerRefinement(geom)) * w.Weight(e)
}

func (w *GeometryWeights) ConsiderInLevelAbove(mesh.ElementID) bool { return false }

func (w *GeometryWeights) HasLevelOffsets() bool { return false }

// RefinementMarkWeights accounts elements marked for refinement with the
// weight of their future children on the level above
type RefinementMarkWeights struct {
	Grid   mesh.MultiGrid
	Marked map[mesh.ElementID]bool
}

func NewRefinementMarkWeights(grid mesh.MultiGrid, marked []mesh.ElementID) *RefinementMarkWeights {
	w := &RefinementMarkWeights{Grid: grid, Marked: make(map[mesh.ElementID]bool, len(marked))}
	for _, e := range marked {
		w.Marked[e] = true
	}
	return w
}

func (w *RefinementMarkWeights) Weight(mesh.ElementID) float64 { return 1 }

func (w *RefinementMarkWeights) RefinedWeight(e mesh.ElementID) float64 {
	if w.Marked[e] {
		return float64(childrenPerRefinement(w.Grid.Geometry(e)))
	}
	return 1
}

func (w *RefinementMarkWeights) ConsiderInLevelAbove(e mesh.ElementID) bool { return w.Marked[e] }

func (w *RefinementMarkWeights) HasLevelOffsets() bool { return true }

// childrenPerRefinement is the number of children of a regular refinement
func childrenPerRefinement(geom mesh.ElementGeometry) int {
	switch geom {
	case mesh.Line:
		return 2
	case mesh.Tri, mesh.Rectangle:
		return 4
	case mesh.Pyramid:
		// 6 pyramids and 4 tetrahedra
		return 10
	}
	return 8
}
