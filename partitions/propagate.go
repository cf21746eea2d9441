package partitions

import "github.com/notargets/DGBalance/mesh"

// copyPartitionsToChildren assigns the partition of every element on lvl
// to its children. Vertical slaves on lvl+1 have no local parent and
// receive their partition from the vertical masters.
func (p *Partitioner) copyPartitionsToChildren(lvl int) error {
	grid := p.grid
	for _, e := range grid.Level(lvl) {
		part := p.pm.Get(e)
		for i := 0; i < grid.NumChildren(e); i++ {
			p.pm.Assign(grid.Child(e, i), part)
		}
	}
	return p.exchange(mesh.VerticalMaster, mesh.VerticalSlave, lvl+1, copyPartitions{pm: p.pm})
}

// enforceSiblingClusters moves the children of every element on lvl onto
// the partition of the first child
func (p *Partitioner) enforceSiblingClusters(lvl int) int {
	return clusterSiblings(p.grid, p.pm, lvl)
}
