package mesh

import (
	"errors"
	"fmt"
	"gonum.org/v1/gonum/spatial/r3"
)

// ElementID identifies an element of one Grid. IDs are dense, starting at
// zero, and stay valid for the lifetime of the grid.
type ElementID int

const InvalidElement ElementID = -1

var ErrUnknownElement = errors.New("unknown element")

// MultiGrid is the read-only view of a hierarchical mesh the load balancer
// works on. Level 0 holds the coarsest elements; children of an element on
// level l live on level l+1.
type MultiGrid interface {
	Dim() int
	NumLevels() int
	TopLevel() int
	// NumElements is the total number of element ids over all levels
	NumElements() int
	Level(lvl int) []ElementID
	ElementLevel(e ElementID) int
	Geometry(e ElementID) ElementGeometry
	NumChildren(e ElementID) int
	Child(e ElementID, i int) ElementID
	Parent(e ElementID) ElementID
	NumVertices(e ElementID) int
	Vertex(e ElementID, i int) r3.Vec
	Center(e ElementID) r3.Vec
}

type element struct {
	geom     ElementGeometry
	level    int
	verts    []int
	parent   ElementID
	children []ElementID
}

// Grid is an in-memory MultiGrid
type Grid struct {
	dim      int
	vertices []r3.Vec
	elems    []element
	levels   [][]ElementID
}

// NewGrid creates an empty grid embedded in dim spatial dimensions
func NewGrid(dim int) *Grid {
	if dim < 1 {
		dim = 1
	}
	if dim > 3 {
		dim = 3
	}
	return &Grid{dim: dim}
}

func (g *Grid) Dim() int { return g.dim }

func (g *Grid) NumLevels() int { return len(g.levels) }

// TopLevel returns the highest level index, -1 for an empty grid
func (g *Grid) TopLevel() int { return len(g.levels) - 1 }

func (g *Grid) NumElements() int { return len(g.elems) }

func (g *Grid) NumVerticesTotal() int { return len(g.vertices) }

// Level returns the elements of a level in insertion order. The returned
// slice must not be modified.
func (g *Grid) Level(lvl int) []ElementID {
	if lvl < 0 || lvl >= len(g.levels) {
		return nil
	}
	return g.levels[lvl]
}

func (g *Grid) ElementLevel(e ElementID) int { return g.elems[e].level }

func (g *Grid) Geometry(e ElementID) ElementGeometry { return g.elems[e].geom }

func (g *Grid) NumChildren(e ElementID) int { return len(g.elems[e].children) }

func (g *Grid) Child(e ElementID, i int) ElementID { return g.elems[e].children[i] }

func (g *Grid) Parent(e ElementID) ElementID { return g.elems[e].parent }

func (g *Grid) NumVertices(e ElementID) int { return len(g.elems[e].verts) }

func (g *Grid) Vertex(e ElementID, i int) r3.Vec { return g.vertices[g.elems[e].verts[i]] }

// Center returns the arithmetic mean of the element's vertex positions
func (g *Grid) Center(e ElementID) r3.Vec {
	verts := g.elems[e].verts
	var c r3.Vec
	for _, v := range verts {
		c = r3.Add(c, g.vertices[v])
	}
	if len(verts) > 0 {
		c = r3.Scale(1/float64(len(verts)), c)
	}
	return c
}

// AddVertex appends a vertex and returns its index
func (g *Grid) AddVertex(p r3.Vec) int {
	g.vertices = append(g.vertices, p)
	return len(g.vertices) - 1
}

// AddElement adds a level-0 element
func (g *Grid) AddElement(geom ElementGeometry, verts []int) (ElementID, error) {
	return g.addElement(geom, verts, InvalidElement, 0)
}

// AddChild adds an element on the level above parent and registers it as
// the parent's next child
func (g *Grid) AddChild(parent ElementID, geom ElementGeometry, verts []int) (ElementID, error) {
	if !g.valid(parent) {
		return InvalidElement, fmt.Errorf("parent %d: %w", parent, ErrUnknownElement)
	}
	return g.addElement(geom, verts, parent, g.elems[parent].level+1)
}

// AddOrphan adds an element without a local parent on the given level. This
// is how vertical slave copies look on the process that holds them.
func (g *Grid) AddOrphan(level int, geom ElementGeometry, verts []int) (ElementID, error) {
	if level < 0 {
		return InvalidElement, fmt.Errorf("invalid level %d", level)
	}
	return g.addElement(geom, verts, InvalidElement, level)
}

func (g *Grid) addElement(geom ElementGeometry, verts []int, parent ElementID, level int) (ElementID, error) {
	if n := geom.NumVertices(); n != len(verts) {
		return InvalidElement, fmt.Errorf("%v expects %d vertices, got %d", geom, n, len(verts))
	}
	for _, v := range verts {
		if v < 0 || v >= len(g.vertices) {
			return InvalidElement, fmt.Errorf("vertex index %d out of range [0, %d)", v, len(g.vertices))
		}
	}
	id := ElementID(len(g.elems))
	g.elems = append(g.elems, element{
		geom:   geom,
		level:  level,
		verts:  append([]int(nil), verts...),
		parent: parent,
	})
	for len(g.levels) <= level {
		g.levels = append(g.levels, nil)
	}
	g.levels[level] = append(g.levels[level], id)
	if parent != InvalidElement {
		g.elems[parent].children = append(g.elems[parent].children, id)
	}
	return id, nil
}

func (g *Grid) valid(e ElementID) bool {
	return e >= 0 && int(e) < len(g.elems)
}

// Bounds returns the axis-aligned bounding box of all vertices
func (g *Grid) Bounds() r3.Box {
	if len(g.vertices) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: g.vertices[0], Max: g.vertices[0]}
	for _, p := range g.vertices[1:] {
		b.Min = r3.Vec{X: min(b.Min.X, p.X), Y: min(b.Min.Y, p.Y), Z: min(b.Min.Z, p.Z)}
		b.Max = r3.Vec{X: max(b.Max.X, p.X), Y: max(b.Max.Y, p.Y), Z: max(b.Max.Z, p.Z)}
	}
	return b
}

// Component returns coordinate axis (0=x, 1=y, 2=z) of p
func Component(p r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

// SetComponent returns p with coordinate axis replaced by v
func SetComponent(p r3.Vec, axis int, v float64) r3.Vec {
	switch axis {
	case 0:
		p.X = v
	case 1:
		p.Y = v
	default:
		p.Z = v
	}
	return p
}
