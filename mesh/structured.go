package mesh

import (
	"fmt"
	"gonum.org/v1/gonum/spatial/r3"
)

// boxGeometry returns the box element type of a spatial dimension
func boxGeometry(dim int) ElementGeometry {
	switch dim {
	case 1:
		return Line
	case 2:
		return Rectangle
	}
	return Hex
}

// NewStructuredGrid creates a level-0 grid of n[0] x n[1] x n[2] box
// elements spanning [lo, hi]. Only the first dim entries of n are used.
func NewStructuredGrid(dim int, n [3]int, lo, hi r3.Vec) (*Grid, error) {
	g := NewGrid(dim)
	dim = g.dim
	cells := [3]int{1, 1, 1}
	for d := 0; d < dim; d++ {
		if n[d] < 1 {
			return nil, fmt.Errorf("axis %d: need at least one cell, got %d", d, n[d])
		}
		cells[d] = n[d]
	}
	nv := [3]int{1, 1, 1}
	for d := 0; d < dim; d++ {
		nv[d] = cells[d] + 1
	}

	// Lattice vertices, x fastest
	vid := func(i, j, k int) int { return i + nv[0]*(j+nv[1]*k) }
	for k := 0; k < nv[2]; k++ {
		for j := 0; j < nv[1]; j++ {
			for i := 0; i < nv[0]; i++ {
				p := lo
				idx := [3]int{i, j, k}
				for d := 0; d < dim; d++ {
					h := (Component(hi, d) - Component(lo, d)) / float64(cells[d])
					p = SetComponent(p, d, Component(lo, d)+float64(idx[d])*h)
				}
				g.AddVertex(p)
			}
		}
	}

	geom := boxGeometry(dim)
	for k := 0; k < cells[2]; k++ {
		for j := 0; j < cells[1]; j++ {
			for i := 0; i < cells[0]; i++ {
				var verts []int
				switch dim {
				case 1:
					verts = []int{vid(i, 0, 0), vid(i+1, 0, 0)}
				case 2:
					verts = []int{vid(i, j, 0), vid(i+1, j, 0), vid(i+1, j+1, 0), vid(i, j+1, 0)}
				default:
					verts = []int{
						vid(i, j, k), vid(i+1, j, k), vid(i+1, j+1, k), vid(i, j+1, k),
						vid(i, j, k+1), vid(i+1, j, k+1), vid(i+1, j+1, k+1), vid(i, j+1, k+1),
					}
				}
				if _, err := g.AddElement(geom, verts); err != nil {
					return nil, err
				}
			}
		}
	}
	return g, nil
}

// elementBox returns the bounding box of an element's vertices
func (g *Grid) elementBox(e ElementID) (lo, hi r3.Vec) {
	verts := g.elems[e].verts
	lo, hi = g.vertices[verts[0]], g.vertices[verts[0]]
	for _, v := range verts[1:] {
		p := g.vertices[v]
		lo = r3.Vec{X: min(lo.X, p.X), Y: min(lo.Y, p.Y), Z: min(lo.Z, p.Z)}
		hi = r3.Vec{X: max(hi.X, p.X), Y: max(hi.Y, p.Y), Z: max(hi.Z, p.Z)}
	}
	return lo, hi
}

// RefineElement splits a box element into 2^dim children on the next level.
// Elements which already have children are left untouched.
func (g *Grid) RefineElement(e ElementID) error {
	if !g.valid(e) {
		return fmt.Errorf("refine %d: %w", e, ErrUnknownElement)
	}
	el := g.elems[e]
	if !el.geom.IsBox() {
		return fmt.Errorf("refine %d: %v elements can't be refined", e, el.geom)
	}
	if len(el.children) > 0 {
		return nil
	}
	dim := el.geom.Dimensions().Int()
	lo, hi := g.elementBox(e)
	mid := r3.Scale(0.5, r3.Add(lo, hi))
	coords := [3][3]float64{}
	for d := 0; d < 3; d++ {
		coords[d] = [3]float64{Component(lo, d), Component(mid, d), Component(hi, d)}
	}

	// 3^dim lattice of new vertices, created lazily
	lattice := make(map[[3]int]int)
	vertex := func(i, j, k int) int {
		key := [3]int{i, j, k}
		if v, ok := lattice[key]; ok {
			return v
		}
		p := lo
		idx := [3]int{i, j, k}
		for d := 0; d < dim; d++ {
			p = SetComponent(p, d, coords[d][idx[d]])
		}
		v := g.AddVertex(p)
		lattice[key] = v
		return v
	}

	kmax, jmax := 1, 1
	if dim > 1 {
		jmax = 2
	}
	if dim > 2 {
		kmax = 2
	}
	for k := 0; k < kmax; k++ {
		for j := 0; j < jmax; j++ {
			for i := 0; i < 2; i++ {
				var verts []int
				switch dim {
				case 1:
					verts = []int{vertex(i, 0, 0), vertex(i+1, 0, 0)}
				case 2:
					verts = []int{vertex(i, j, 0), vertex(i+1, j, 0), vertex(i+1, j+1, 0), vertex(i, j+1, 0)}
				default:
					verts = []int{
						vertex(i, j, k), vertex(i+1, j, k), vertex(i+1, j+1, k), vertex(i, j+1, k),
						vertex(i, j, k+1), vertex(i+1, j, k+1), vertex(i+1, j+1, k+1), vertex(i, j+1, k+1),
					}
				}
				if _, err := g.AddChild(e, el.geom, verts); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RefineElements refines each of the given elements
func (g *Grid) RefineElements(elems []ElementID) error {
	for _, e := range elems {
		if err := g.RefineElement(e); err != nil {
			return err
		}
	}
	return nil
}

// RefineUniform refines every element on the top level
func (g *Grid) RefineUniform() error {
	top := g.TopLevel()
	if top < 0 {
		return nil
	}
	// copy, since refinement appends to g.levels
	elems := append([]ElementID(nil), g.levels[top]...)
	return g.RefineElements(elems)
}
