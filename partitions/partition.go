package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
)

// Partition is the set of elements of one grid level assigned to the same
// target
type Partition struct {
	// Unique identifier for this partition
	ID int
	// Rank is the world rank receiving the partition
	Rank int

	// Element membership
	Elements    []mesh.ElementID
	NumElements int // Actual number of elements
	MaxElements int // Size of the largest partition of the layout
	Weight      float64

	// Mixed element support
	TypeGroups []ElementGroup
}

// ElementGroup represents elements of the same type within a partition
type ElementGroup struct {
	ElementType mesh.ElementGeometry
	Count       int
	LocalIDs    []int // Indices within the partition
}

// PartitionLayout is the decomposition of one grid level
type PartitionLayout struct {
	Level      int
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumElements) across all partitions
	TotalElements int
	TotalWeight   float64
	NumPartitions int

	// Element to partition mapping
	EToP map[mesh.ElementID]int
}

// GetPartition returns the partition containing element e, -1 if e is not
// part of the layout
func (pl *PartitionLayout) GetPartition(e mesh.ElementID) int {
	if p, ok := pl.EToP[e]; ok {
		return p
	}
	return -1
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions, expected %d", len(pl.Partitions), pl.NumPartitions)
	}
	actualMax, total := 0, 0
	for _, p := range pl.Partitions {
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != %d elements",
				p.ID, p.NumElements, len(p.Elements))
		}
		if p.MaxElements != pl.KpartMax {
			return fmt.Errorf("partition %d: MaxElements %d != KpartMax %d",
				p.ID, p.MaxElements, pl.KpartMax)
		}
		for _, e := range p.Elements {
			if owner := pl.GetPartition(e); owner != p.ID {
				return fmt.Errorf("element %d listed in partition %d but mapped to %d", e, p.ID, owner)
			}
		}
		actualMax = max(actualMax, p.NumElements)
		total += p.NumElements
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	if total != pl.TotalElements || total != len(pl.EToP) {
		return fmt.Errorf("%d elements in partitions, layout holds %d", total, pl.TotalElements)
	}
	return nil
}

type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements

	MinWeight       float64
	MaxWeight       float64
	AvgWeight       float64
	WeightImbalance float64 // MaxWeight / AvgWeight
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{NumPartitions: pl.NumPartitions}
	if pl.NumPartitions == 0 {
		return stats
	}
	stats.AvgElements = float64(pl.TotalElements) / float64(pl.NumPartitions)
	stats.AvgWeight = pl.TotalWeight / float64(pl.NumPartitions)
	stats.MinElements = pl.Partitions[0].NumElements
	stats.MinWeight = pl.Partitions[0].Weight

	for _, p := range pl.Partitions {
		stats.MinElements = min(stats.MinElements, p.NumElements)
		stats.MaxElements = max(stats.MaxElements, p.NumElements)
		stats.MinWeight = min(stats.MinWeight, p.Weight)
		stats.MaxWeight = max(stats.MaxWeight, p.Weight)
	}
	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements
	}
	if stats.AvgWeight > 0 {
		stats.WeightImbalance = stats.MaxWeight / stats.AvgWeight
	}
	return stats
}
