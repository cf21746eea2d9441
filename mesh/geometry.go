package mesh

import "fmt"

type Dimensionality uint8

const (
	D1 Dimensionality = iota
	D2
	D3
)

// Int returns the number of spatial dimensions
func (d Dimensionality) Int() int {
	return int(d) + 1
}

type ElementGeometry uint8

const (
	Tet ElementGeometry = iota
	Hex
	Prism
	Pyramid
	Tri
	Rectangle
	Line
)

func (g ElementGeometry) String() string {
	switch g {
	case Tet:
		return "Tet"
	case Hex:
		return "Hex"
	case Prism:
		return "Prism"
	case Pyramid:
		return "Pyramid"
	case Tri:
		return "Tri"
	case Rectangle:
		return "Rectangle"
	case Line:
		return "Line"
	}
	return fmt.Sprintf("ElementGeometry(%d)", uint8(g))
}

// NumVertices returns the number of corner vertices of the geometry
func (g ElementGeometry) NumVertices() int {
	switch g {
	case Tet:
		return 4
	case Hex:
		return 8
	case Prism:
		return 6
	case Pyramid:
		return 5
	case Tri:
		return 3
	case Rectangle:
		return 4
	case Line:
		return 2
	}
	return 0
}

// Dimensions returns the topological dimension of the geometry
func (g ElementGeometry) Dimensions() Dimensionality {
	switch g {
	case Line:
		return D1
	case Tri, Rectangle:
		return D2
	}
	return D3
}

// IsBox reports whether the geometry is an axis-aligned box type that
// RefineElement can subdivide
func (g ElementGeometry) IsBox() bool {
	return g == Line || g == Rectangle || g == Hex
}

// ParseGeometry maps a geometry name (as used in configuration files) to
// its ElementGeometry
func ParseGeometry(name string) (ElementGeometry, error) {
	for g := Tet; g <= Line; g++ {
		if g.String() == name {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown element geometry %q", name)
}

// geometryFromVertexCount guesses the volume geometry of an element read
// from a mesh file from its number of vertices
func geometryFromVertexCount(dim, n int) (ElementGeometry, error) {
	switch {
	case n == 2:
		return Line, nil
	case n == 3:
		return Tri, nil
	case n == 4 && dim == 2:
		return Rectangle, nil
	case n == 4:
		return Tet, nil
	case n == 5:
		return Pyramid, nil
	case n == 6:
		return Prism, nil
	case n == 8:
		return Hex, nil
	}
	return 0, fmt.Errorf("no element geometry with %d vertices in %dD", n, dim)
}
