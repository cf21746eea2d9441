package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"slices"
)

// PickBuffer lists the local elements to send to one target rank
type PickBuffer struct {
	Elements   []mesh.ElementID
	TargetRank int
}

// RedistributionPlan groups the local elements of all grid levels by the
// rank that receives them
type RedistributionPlan struct {
	LocalRank int
	// Keep lists the elements staying on the local rank
	Keep []mesh.ElementID
	// Picks are sorted by target rank and never include the local rank
	Picks []PickBuffer

	numElements int
}

// NewRedistributionPlan maps every assigned, non-ghost element of grid to
// procMap[partition]. Partition i goes to rank i for a nil procMap.
func NewRedistributionPlan(grid mesh.MultiGrid, pm *PartitionMap, ghosts mesh.DistributedGridManager,
	procMap []int, localRank int) (*RedistributionPlan, error) {

	if grid == nil {
		return nil, ErrNoGrid
	}
	if pm == nil || pm.Len() < grid.NumElements() {
		return nil, fmt.Errorf("partition map doesn't cover the %d elements of the grid", grid.NumElements())
	}

	plan := &RedistributionPlan{LocalRank: localRank}
	byRank := make(map[int][]mesh.ElementID)
	for lvl := 0; lvl < grid.NumLevels(); lvl++ {
		for _, e := range grid.Level(lvl) {
			if ghosts != nil && ghosts.IsGhost(e) {
				continue
			}
			part := pm.Get(e)
			if part == Unassigned {
				return nil, fmt.Errorf("element %d on level %d has no partition", e, lvl)
			}
			rank := part
			if procMap != nil {
				if part >= len(procMap) {
					return nil, fmt.Errorf("partition %d of element %d has no entry in process map of size %d",
						part, e, len(procMap))
				}
				rank = procMap[part]
			}
			plan.numElements++
			if rank == localRank {
				plan.Keep = append(plan.Keep, e)
			} else {
				byRank[rank] = append(byRank[rank], e)
			}
		}
	}

	for rank, elems := range byRank {
		plan.Picks = append(plan.Picks, PickBuffer{Elements: elems, TargetRank: rank})
	}
	slices.SortFunc(plan.Picks, func(a, b PickBuffer) int { return a.TargetRank - b.TargetRank })
	return plan, nil
}

// SendVolume returns the number of elements leaving the local rank
func (rp *RedistributionPlan) SendVolume() int {
	n := 0
	for _, pb := range rp.Picks {
		n += len(pb.Elements)
	}
	return n
}

// Verify checks that every planned element is picked exactly once
func (rp *RedistributionPlan) Verify() error {
	seen := make(map[mesh.ElementID]int, rp.numElements)
	for _, e := range rp.Keep {
		seen[e]++
	}
	for _, pb := range rp.Picks {
		if pb.TargetRank == rp.LocalRank {
			return fmt.Errorf("pick buffer targets the local rank %d", rp.LocalRank)
		}
		for _, e := range pb.Elements {
			seen[e]++
		}
	}
	for e, n := range seen {
		if n != 1 {
			return fmt.Errorf("element %d picked %d times", e, n)
		}
	}
	if len(seen) != rp.numElements {
		return fmt.Errorf("%d elements picked, %d planned", len(seen), rp.numElements)
	}
	return nil
}

// RedistributionPlan returns the plan for the partitions of the last call
// to Partition
func (p *Partitioner) RedistributionPlan(localRank int) (*RedistributionPlan, error) {
	return NewRedistributionPlan(p.grid, p.pm, p.dgm, p.ProcessMap(), localRank)
}
