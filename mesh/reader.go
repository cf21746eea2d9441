package mesh

import (
	"fmt"
	"github.com/notargets/gocfd/DG3D/mesh/readers"
	"gonum.org/v1/gonum/spatial/r3"
)

// ReadMeshFile loads a mesh file (Gambit .neu, Gmsh .msh, SU2) into the
// level 0 of a new 3D grid
func ReadMeshFile(meshfile string) (*Grid, error) {
	msh, err := readers.ReadMeshFile(meshfile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", meshfile, err)
	}
	g := NewGrid(3)
	for _, v := range msh.Vertices {
		g.AddVertex(r3.Vec{X: v[0], Y: v[1], Z: v[2]})
	}
	for k, ev := range msh.EtoV {
		geom, err := geometryFromVertexCount(3, len(ev))
		if err != nil {
			return nil, fmt.Errorf("%s element %d: %w", meshfile, k, err)
		}
		verts := make([]int, len(ev))
		for i := range ev {
			verts[i] = int(ev[i])
		}
		if _, err = g.AddElement(geom, verts); err != nil {
			return nil, fmt.Errorf("%s element %d: %w", meshfile, k, err)
		}
	}
	return g, nil
}
