package partitions

import (
	"github.com/notargets/DGBalance/mesh"
	"slices"
)

// Unassigned marks elements without a partition
const Unassigned = -1

// PartitionMap stores one target partition per element of a grid
type PartitionMap struct {
	parts []int
}

// NewPartitionMap creates a map for n elements, all unassigned
func NewPartitionMap(n int) *PartitionMap {
	pm := &PartitionMap{}
	pm.Resize(n)
	return pm
}

// Resize adapts the map to n elements and clears it
func (pm *PartitionMap) Resize(n int) {
	if cap(pm.parts) < n {
		pm.parts = make([]int, n)
	}
	pm.parts = pm.parts[:n]
	pm.Clear()
}

func (pm *PartitionMap) Clear() {
	for i := range pm.parts {
		pm.parts[i] = Unassigned
	}
}

func (pm *PartitionMap) Len() int { return len(pm.parts) }

func (pm *PartitionMap) Get(e mesh.ElementID) int { return pm.parts[e] }

func (pm *PartitionMap) Assign(e mesh.ElementID, p int) { pm.parts[e] = p }

// AssignLevel assigns p to every element of a grid level
func (pm *PartitionMap) AssignLevel(grid mesh.MultiGrid, lvl, p int) {
	for _, e := range grid.Level(lvl) {
		pm.parts[e] = p
	}
}

// NumSubsets returns the highest assigned partition plus one
func (pm *PartitionMap) NumSubsets() int {
	n := 0
	for _, p := range pm.parts {
		n = max(n, p+1)
	}
	return n
}

// Snapshot returns a copy of the per-element partitions
func (pm *PartitionMap) Snapshot() []int { return slices.Clone(pm.parts) }

// LevelSnapshot returns the partitions of the elements of one level in
// level order
func (pm *PartitionMap) LevelSnapshot(grid mesh.MultiGrid, lvl int) []int {
	elems := grid.Level(lvl)
	out := make([]int, len(elems))
	for i, e := range elems {
		out[i] = pm.parts[e]
	}
	return out
}

// Counts returns the number of elements of a level per partition
func (pm *PartitionMap) Counts(grid mesh.MultiGrid, lvl int) map[int]int {
	counts := make(map[int]int)
	for _, e := range grid.Level(lvl) {
		counts[pm.parts[e]]++
	}
	return counts
}
