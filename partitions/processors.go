package partitions

import "github.com/notargets/DGBalance/mesh"

// PartitionPreProcessor is notified when a call to Partition starts and
// after all hierarchy levels were processed
type PartitionPreProcessor interface {
	PartitioningStarts(grid mesh.MultiGrid, p *Partitioner) error
	PartitioningDone(grid mesh.MultiGrid, p *Partitioner) error
}

// PartitionPostProcessor adjusts the partition map after each bisection.
// PostProcess runs before the partitions of lvl are copied to the children.
type PartitionPostProcessor interface {
	Init(grid mesh.MultiGrid, pm *PartitionMap)
	PostProcess(lvl int) error
	Done()
}

// SiblingClusterer moves all children of an element onto the partition of
// the first child
type SiblingClusterer struct {
	grid mesh.MultiGrid
	pm   *PartitionMap
	// Moved counts the elements moved since Init
	Moved int
}

func (sc *SiblingClusterer) Init(grid mesh.MultiGrid, pm *PartitionMap) {
	sc.grid, sc.pm = grid, pm
	sc.Moved = 0
}

func (sc *SiblingClusterer) PostProcess(lvl int) error {
	if lvl > 0 {
		sc.Moved += clusterSiblings(sc.grid, sc.pm, lvl-1)
	}
	return nil
}

func (sc *SiblingClusterer) Done() {}

// clusterSiblings moves the children of every element on lvl onto the
// partition of the first child and returns the number of moved elements
func clusterSiblings(grid mesh.MultiGrid, pm *PartitionMap, lvl int) int {
	moved := 0
	for _, e := range grid.Level(lvl) {
		n := grid.NumChildren(e)
		if n < 2 {
			continue
		}
		part := pm.Get(grid.Child(e, 0))
		for i := 1; i < n; i++ {
			c := grid.Child(e, i)
			if pm.Get(c) != part {
				pm.Assign(c, part)
				moved++
			}
		}
	}
	return moved
}
