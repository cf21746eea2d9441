package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/pcl"
	"maps"
	"slices"
)

// Partition hint keys understood by the partitioner
const (
	HintEnableXCuts = "enableXCuts"
	HintEnableYCuts = "enableYCuts"
	HintEnableZCuts = "enableZCuts"
)

// HierarchyLevel declares how many processes share the grid from
// GridBaseLevel upwards
type HierarchyLevel struct {
	GridBaseLevel  int
	NumGlobalProcs int
	// ClusterProcs are the world ranks the local process distributes its
	// elements to under static partitioning
	ClusterProcs []int
	// Comm spans the processes involved on this level
	Comm  pcl.Communicator
	Hints map[string]bool
}

// ProcessHierarchy is an ordered list of hierarchy levels with
// non-decreasing grid base levels
type ProcessHierarchy struct {
	world  pcl.Communicator
	levels []HierarchyLevel
}

// NewProcessHierarchy creates an empty hierarchy for the processes of
// world. A nil world stands for a single process.
func NewProcessHierarchy(world pcl.Communicator) *ProcessHierarchy {
	if world == nil {
		world = pcl.NewSerial()
	}
	return &ProcessHierarchy{world: world}
}

// World is the communicator spanning every process of the hierarchy
func (ph *ProcessHierarchy) World() pcl.Communicator { return ph.world }

// AddLevel appends a level on which numProcs processes share the grid.
// The level communicator spans world ranks [0, numProcs). The cluster of
// the local process is the contiguous block of numProcs/prevProcs ranks
// starting at rank*numProcs/prevProcs.
func (ph *ProcessHierarchy) AddLevel(gridBaseLevel, numProcs int, hints map[string]bool) error {
	if numProcs < 1 {
		return fmt.Errorf("level with %d processes: %w", numProcs, ErrInvalidHierarchy)
	}
	lvl := HierarchyLevel{
		GridBaseLevel:  gridBaseLevel,
		NumGlobalProcs: numProcs,
		Comm:           ph.world,
		Hints:          maps.Clone(hints),
	}

	rank := 0
	if g, ok := ph.world.(pcl.Grouper); ok {
		rank = g.WorldRank()
		if numProcs < g.WorldSize() {
			ranks := make([]int, numProcs)
			for i := range ranks {
				ranks[i] = i
			}
			lvl.Comm = g.Group(ranks)
		}
	} else {
		rank = ph.world.Rank()
	}

	prevProcs := 1
	if n := len(ph.levels); n > 0 {
		prevProcs = ph.levels[n-1].NumGlobalProcs
	}
	if rank < prevProcs && numProcs >= prevProcs && numProcs%prevProcs == 0 {
		k := numProcs / prevProcs
		for i := 0; i < k; i++ {
			lvl.ClusterProcs = append(lvl.ClusterProcs, rank*k+i)
		}
	} else {
		lvl.ClusterProcs = []int{rank}
	}
	return ph.AddHierarchyLevel(lvl)
}

// AddHierarchyLevel appends a fully specified level. A nil Comm is
// replaced by the world communicator.
func (ph *ProcessHierarchy) AddHierarchyLevel(lvl HierarchyLevel) error {
	if lvl.GridBaseLevel < 0 || lvl.NumGlobalProcs < 1 {
		return fmt.Errorf("base level %d with %d processes: %w",
			lvl.GridBaseLevel, lvl.NumGlobalProcs, ErrInvalidHierarchy)
	}
	if n := len(ph.levels); n > 0 && ph.levels[n-1].GridBaseLevel > lvl.GridBaseLevel {
		return fmt.Errorf("base level %d follows base level %d: %w",
			lvl.GridBaseLevel, ph.levels[n-1].GridBaseLevel, ErrInvalidHierarchy)
	}
	if lvl.Comm == nil {
		lvl.Comm = ph.world
	}
	ph.levels = append(ph.levels, lvl)
	return nil
}

func (ph *ProcessHierarchy) NumLevels() int { return len(ph.levels) }

func (ph *ProcessHierarchy) Level(hlvl int) HierarchyLevel { return ph.levels[hlvl] }

func (ph *ProcessHierarchy) GridBaseLevel(hlvl int) int { return ph.levels[hlvl].GridBaseLevel }

func (ph *ProcessHierarchy) NumGlobalProcs(hlvl int) int { return ph.levels[hlvl].NumGlobalProcs }

func (ph *ProcessHierarchy) ClusterProcs(hlvl int) []int { return ph.levels[hlvl].ClusterProcs }

func (ph *ProcessHierarchy) GlobalProcCom(hlvl int) pcl.Communicator { return ph.levels[hlvl].Comm }

// HierarchyLevelFromGridLevel returns the last hierarchy level whose base
// level is not above lvl
func (ph *ProcessHierarchy) HierarchyLevelFromGridLevel(lvl int) int {
	hlvl := 0
	for i, l := range ph.levels {
		if l.GridBaseLevel <= lvl {
			hlvl = i
		}
	}
	return hlvl
}

// PartitionHint looks up a hint of a hierarchy level
func (ph *ProcessHierarchy) PartitionHint(hlvl int, key string) (value, ok bool) {
	value, ok = ph.levels[hlvl].Hints[key]
	return value, ok
}

// Equal compares base levels, process counts and cluster sizes
func (ph *ProcessHierarchy) Equal(other *ProcessHierarchy) bool {
	if other == nil || len(ph.levels) != len(other.levels) {
		return false
	}
	for i, l := range ph.levels {
		o := other.levels[i]
		if l.GridBaseLevel != o.GridBaseLevel || l.NumGlobalProcs != o.NumGlobalProcs ||
			len(l.ClusterProcs) != len(o.ClusterProcs) {
			return false
		}
	}
	return true
}

// Clone copies the hierarchy. Communicators are shared.
func (ph *ProcessHierarchy) Clone() *ProcessHierarchy {
	c := &ProcessHierarchy{world: ph.world, levels: make([]HierarchyLevel, len(ph.levels))}
	for i, l := range ph.levels {
		l.ClusterProcs = slices.Clone(l.ClusterProcs)
		l.Hints = maps.Clone(l.Hints)
		c.levels[i] = l
	}
	return c
}
