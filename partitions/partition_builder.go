package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"slices"
)

// PartitionBuilder constructs partition layouts from a partition map
type PartitionBuilder struct {
	Grid       mesh.MultiGrid
	Partitions *PartitionMap
	Weights    BalanceWeights
	// Ghosts are left out of layouts if set
	Ghosts mesh.DistributedGridManager
	// ProcessMap maps partition indices to ranks. Partition i goes to rank
	// i without one.
	ProcessMap []int
}

// BuildLayout creates the layout of grid level lvl
func (pb *PartitionBuilder) BuildLayout(lvl int) (*PartitionLayout, error) {
	if pb.Grid == nil {
		return nil, ErrNoGrid
	}
	if lvl < 0 || lvl >= pb.Grid.NumLevels() {
		return nil, fmt.Errorf("level %d outside [0, %d)", lvl, pb.Grid.NumLevels())
	}
	if pb.Partitions == nil || pb.Partitions.Len() < pb.Grid.NumElements() {
		return nil, fmt.Errorf("partition map doesn't cover the %d elements of the grid", pb.Grid.NumElements())
	}
	weights := pb.Weights
	if weights == nil {
		weights = UnitWeights{}
	}

	eToP := make(map[mesh.ElementID]int)
	numPartitions := 0
	for _, e := range pb.Grid.Level(lvl) {
		if pb.Ghosts != nil && pb.Ghosts.IsGhost(e) {
			continue
		}
		part := pb.Partitions.Get(e)
		if part == Unassigned {
			return nil, fmt.Errorf("element %d on level %d has no partition", e, lvl)
		}
		eToP[e] = part
		numPartitions = max(numPartitions, part+1)
	}

	partitions, err := pb.createPartitions(lvl, eToP, numPartitions, weights)
	if err != nil {
		return nil, err
	}
	kpartMax := pb.calculateKpartMax(partitions)
	layout := &PartitionLayout{
		Level:         lvl,
		Partitions:    partitions,
		KpartMax:      kpartMax,
		TotalElements: len(eToP),
		NumPartitions: numPartitions,
		EToP:          eToP,
	}
	for i := range partitions {
		partitions[i].MaxElements = kpartMax
		layout.TotalWeight += partitions[i].Weight
	}

	if err = layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(lvl int, eToP map[mesh.ElementID]int,
	numPartitions int, weights BalanceWeights) ([]Partition, error) {

	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		rank := i
		if pb.ProcessMap != nil {
			if i >= len(pb.ProcessMap) {
				return nil, fmt.Errorf("partition %d has no entry in process map of size %d",
					i, len(pb.ProcessMap))
			}
			rank = pb.ProcessMap[i]
		}
		partitions[i] = Partition{ID: i, Rank: rank}
	}

	// level order keeps layouts deterministic
	for _, e := range pb.Grid.Level(lvl) {
		part, ok := eToP[e]
		if !ok {
			continue
		}
		partitions[part].Elements = append(partitions[part].Elements, e)
		partitions[part].NumElements++
		partitions[part].Weight += weights.Weight(e)
	}

	for i := range partitions {
		partitions[i].TypeGroups = pb.createElementGroups(&partitions[i])
	}
	return partitions, nil
}

// createElementGroups organizes elements by type within a partition
func (pb *PartitionBuilder) createElementGroups(p *Partition) []ElementGroup {
	if len(p.Elements) == 0 {
		return nil
	}
	byType := make(map[mesh.ElementGeometry][]int)
	for i, e := range p.Elements {
		geom := pb.Grid.Geometry(e)
		byType[geom] = append(byType[geom], i)
	}

	groups := make([]ElementGroup, 0, len(byType))
	for geom, ids := range byType {
		groups = append(groups, ElementGroup{ElementType: geom, Count: len(ids), LocalIDs: ids})
	}
	slices.SortFunc(groups, func(a, b ElementGroup) int {
		return int(a.ElementType) - int(b.ElementType)
	})
	return groups
}

// calculateKpartMax finds maximum elements across all partitions
func (pb *PartitionBuilder) calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		kpartMax = max(kpartMax, p.NumElements)
	}
	return kpartMax
}

// Layout returns the layout of grid level lvl after Partition
func (p *Partitioner) Layout(lvl int) (*PartitionLayout, error) {
	pb := PartitionBuilder{
		Grid:       p.grid,
		Partitions: p.pm,
		Weights:    p.bw,
		Ghosts:     p.dgm,
		ProcessMap: p.ProcessMap(),
	}
	return pb.BuildLayout(lvl)
}
