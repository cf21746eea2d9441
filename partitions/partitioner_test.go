package partitions

import (
	"errors"
	"github.com/google/go-cmp/cmp"
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/pcl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"testing"
)

func unitCube(t *testing.T, n, refinements int) *mesh.Grid {
	t.Helper()
	g, err := mesh.NewStructuredGrid(3, [3]int{n, n, n}, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	for i := 0; i < refinements; i++ {
		require.NoError(t, g.RefineUniform())
	}
	return g
}

// serialHierarchy returns a single-process hierarchy with the given
// (base level, process count) pairs
func serialHierarchy(t *testing.T, levels ...[2]int) *ProcessHierarchy {
	t.Helper()
	ph := NewProcessHierarchy(pcl.NewSerial())
	for _, l := range levels {
		require.NoError(t, ph.AddLevel(l[0], l[1], nil))
	}
	return ph
}

func partitionCounts(g mesh.MultiGrid, pm *PartitionMap, lvl int) map[int]int {
	return pm.Counts(g, lvl)
}

func TestPartitionUnitCube(t *testing.T) {
	g := unitCube(t, 10, 0)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})))
	require.NoError(t, err)
	p.SetTolerance(0.95)

	changed, err := p.Partition(0, 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Done, p.Stage())
	assert.False(t, p.ProblemsOccurred())
	assert.Nil(t, p.ProcessMap())

	counts := partitionCounts(g, p.Partitions(), 0)
	require.Len(t, counts, 4)
	for part := 0; part < 4; part++ {
		assert.GreaterOrEqual(t, counts[part], 225, "partition %d", part)
		assert.LessOrEqual(t, counts[part], 275, "partition %d", part)
	}
}

func TestPartitionBalanceBound(t *testing.T) {
	g := unitCube(t, 8, 0)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 8})))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	counts := partitionCounts(g, p.Partitions(), 0)
	total := float64(len(g.Level(0)))
	for part := 0; part < 8; part++ {
		assert.InDelta(t, total/8, float64(counts[part]), 1, "partition %d", part)
	}
}

func TestPartitionMoreProcsThanElements(t *testing.T) {
	g, err := mesh.NewStructuredGrid(1, [3]int{2}, r3.Vec{}, r3.Vec{X: 1})
	require.NoError(t, err)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	counts := partitionCounts(g, p.Partitions(), 0)
	sum := 0
	for part, n := range counts {
		assert.GreaterOrEqual(t, part, 0)
		assert.Less(t, part, 4)
		assert.LessOrEqual(t, n, 1)
		sum += n
	}
	assert.Equal(t, 2, sum)
}

func TestPartitionNoSplitAxis(t *testing.T) {
	g := unitCube(t, 2, 0)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 2})))
	require.NoError(t, err)
	for axis := 0; axis < 3; axis++ {
		p.EnableSplitAxis(axis, false)
	}
	_, err = p.Partition(0, 0)
	assert.ErrorIs(t, err, ErrNoSplitAxis)
	// a failed call leaves the axis settings untouched
	for axis := 0; axis < 3; axis++ {
		assert.False(t, p.SplitAxisEnabled(axis))
	}

	p.SetNextProcessHierarchy(serialHierarchy(t, [2]int{0, 1}))
	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 8}, partitionCounts(g, p.Partitions(), 0))
}

func TestPartitionWithoutGrid(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	assert.True(t, errors.Is(err, ErrNoGrid))
}

func TestPartitionCompleteness(t *testing.T) {
	g := unitCube(t, 4, 2)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	pm := p.Partitions()
	for lvl := 0; lvl < g.NumLevels(); lvl++ {
		for _, e := range g.Level(lvl) {
			part := pm.Get(e)
			assert.GreaterOrEqual(t, part, 0, "element %d", e)
			assert.Less(t, part, 4, "element %d", e)
			if parent := g.Parent(e); parent != mesh.InvalidElement {
				assert.Equal(t, pm.Get(parent), part, "element %d", e)
			}
		}
	}
	assert.Equal(t, 4, pm.NumSubsets())
}

func TestPartitionBaseLevel(t *testing.T) {
	g := unitCube(t, 2, 1)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 2})))
	require.NoError(t, err)
	_, err = p.Partition(1, 0)
	require.NoError(t, err)

	pm := p.Partitions()
	for _, e := range g.Level(0) {
		assert.Equal(t, 0, pm.Get(e))
	}
	assert.Equal(t, map[int]int{0: 32, 1: 32}, partitionCounts(g, pm, 1))
}

func TestPartitionClusteredSiblings(t *testing.T) {
	g := unitCube(t, 4, 2)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 1}, [2]int{1, 4})))
	require.NoError(t, err)
	p.EnableClusteredSiblings(true)
	assert.True(t, p.ClusteredSiblingsEnabled())

	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	pm := p.Partitions()
	for _, e := range g.Level(0) {
		assert.Equal(t, 0, pm.Get(e))
	}
	for lvl := 0; lvl < g.NumLevels(); lvl++ {
		for _, e := range g.Level(lvl) {
			n := g.NumChildren(e)
			if n < 2 {
				continue
			}
			first := pm.Get(g.Child(e, 0))
			for i := 1; i < n; i++ {
				assert.Equal(t, first, pm.Get(g.Child(e, i)), "children of %d", e)
			}
		}
	}
	assert.Len(t, partitionCounts(g, pm, 1), 4)
}

func TestEnforceSiblingClusters(t *testing.T) {
	g := unitCube(t, 1, 1)
	p, err := New(g)
	require.NoError(t, err)
	p.pm.Resize(g.NumElements())
	parent := g.Level(0)[0]
	for i := 0; i < g.NumChildren(parent); i++ {
		p.pm.Assign(g.Child(parent, i), i%2)
	}
	assert.Equal(t, 4, p.enforceSiblingClusters(0))
	for i := 0; i < g.NumChildren(parent); i++ {
		assert.Equal(t, 0, p.pm.Get(g.Child(parent, i)))
	}
}

func TestStaticPartitioningIdempotent(t *testing.T) {
	g := unitCube(t, 4, 1)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})))
	require.NoError(t, err)
	p.EnableStaticPartitioning(true)

	changed, err := p.Partition(0, 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, p.HighestRedistLevel())
	assert.Equal(t, []int{0, 1, 2, 3}, p.ProcessMap())
	first := p.Partitions().Snapshot()

	changed, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.False(t, changed)
	if diff := cmp.Diff(first, p.Partitions().Snapshot()); diff != "" {
		t.Errorf("static partitions changed (-first +second):\n%s", diff)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, p.ProcessMap())
}

func TestStaticPartitioningInheritsNewElements(t *testing.T) {
	g := unitCube(t, 2, 0)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 2})))
	require.NoError(t, err)
	p.EnableStaticPartitioning(true)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	before := p.Partitions().Snapshot()

	require.NoError(t, g.RefineUniform())
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	pm := p.Partitions()
	for _, e := range g.Level(0) {
		assert.Equal(t, before[e], pm.Get(e))
	}
	for _, e := range g.Level(1) {
		assert.Equal(t, pm.Get(g.Parent(e)), pm.Get(e))
	}
}

func TestSingleProcessNoCollectives(t *testing.T) {
	g := unitCube(t, 3, 1)
	world := pcl.NewSerial()
	ph := NewProcessHierarchy(world)
	require.NoError(t, ph.AddLevel(0, 1, nil))
	p, err := New(g, WithProcessHierarchy(ph))
	require.NoError(t, err)

	changed, err := p.Partition(0, 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Zero(t, world.AllReduceCalls())
	for lvl := 0; lvl < g.NumLevels(); lvl++ {
		assert.Equal(t, map[int]int{0: len(g.Level(lvl))}, partitionCounts(g, p.Partitions(), lvl))
	}
}

func TestPartitionHints(t *testing.T) {
	g := unitCube(t, 4, 0)
	ph := NewProcessHierarchy(nil)
	require.NoError(t, ph.AddLevel(0, 2, map[string]bool{
		HintEnableXCuts: false,
		HintEnableYCuts: false,
	}))
	p, err := New(g, WithProcessHierarchy(ph))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	for _, e := range g.Level(0) {
		want := 1
		if g.Center(e).Z < 0.5 {
			want = 0
		}
		assert.Equal(t, want, p.Partitions().Get(e), "element %d", e)
	}
	for axis := 0; axis < 3; axis++ {
		assert.True(t, p.SplitAxisEnabled(axis))
	}
}

func TestPartitionElementThreshold(t *testing.T) {
	g := unitCube(t, 4, 0)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})))
	require.NoError(t, err)
	_, err = p.Partition(0, 32)
	require.NoError(t, err)

	counts := partitionCounts(g, p.Partitions(), 0)
	assert.Len(t, counts, 2)
	assert.Equal(t, 64, counts[0]+counts[1])
}

func TestPartitionSkipsUnreachedHierarchyLevel(t *testing.T) {
	g := unitCube(t, 2, 0)
	bw := NewRefinementMarkWeights(g, nil)
	p, err := New(g,
		WithBalanceWeights(bw),
		WithProcessHierarchy(serialHierarchy(t, [2]int{0, 1}, [2]int{5, 2})))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.True(t, p.ProblemsOccurred())
	assert.Equal(t, map[int]int{0: 8}, partitionCounts(g, p.Partitions(), 0))
}

func TestNextProcessHierarchy(t *testing.T) {
	g := unitCube(t, 2, 0)
	p, err := New(g)
	require.NoError(t, err)
	next := serialHierarchy(t, [2]int{0, 2})
	p.SetNextProcessHierarchy(next)
	assert.Same(t, next, p.NextProcessHierarchy())

	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.Same(t, next, p.CurrentProcessHierarchy())
	assert.Nil(t, p.NextProcessHierarchy())
	assert.Len(t, partitionCounts(g, p.Partitions(), 0), 2)
}

func TestControlBisectionUsesEveryProcess(t *testing.T) {
	g := unitCube(t, 7, 0)
	p, err := New(g)
	require.NoError(t, err)
	p.pm.Resize(g.NumElements())

	weights := make([]float64, g.NumElements())
	root := newTreeNode(&p.arena, 0, 7)
	for _, e := range g.Level(0) {
		weights[e] = 1
		root.Elems.Add(p.arena.Add(e))
	}
	require.NoError(t, p.controlBisection([]TreeNode{root}, weights, 1, pcl.NewSerial()))

	counts := partitionCounts(g, p.Partitions(), 0)
	assert.Len(t, counts, 7)
	for part := 0; part < 7; part++ {
		assert.Positive(t, counts[part], "partition %d", part)
	}
	assert.Equal(t, LeavesAssigned, p.Stage())
}

func TestNextSplitAxis(t *testing.T) {
	p, err := New(unitCube(t, 1, 0))
	require.NoError(t, err)
	p.EnableSplitAxis(1, false)

	var axes []int
	for i := 0; i < 4; i++ {
		axis, err := p.getNextSplitAxis()
		require.NoError(t, err)
		axes = append(axes, axis)
	}
	assert.Equal(t, []int{0, 2, 0, 2}, axes)

	p.lastSplitAxis = -1
	p.SetStartSplitAxis(2)
	axis, err := p.getNextSplitAxis()
	require.NoError(t, err)
	assert.Equal(t, 2, axis)

	p.EnableSplitAxis(0, false)
	p.EnableSplitAxis(2, false)
	_, err = p.nextSplitAxis(0)
	assert.ErrorIs(t, err, ErrNoSplitAxis)
}

func TestStageObserver(t *testing.T) {
	g := unitCube(t, 4, 0)
	var stages []Stage
	p, err := New(g,
		WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})),
		WithStageObserver(func(hlevel int, s Stage) {
			assert.Equal(t, 0, hlevel)
			stages = append(stages, s)
		}))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		NotStarted, WeightsGathered, TreeBuilt, BisectionInProgress,
		LeavesAssigned, PropagatedToChildren, Done,
	}, stages)
	assert.Equal(t, "BisectionInProgress", BisectionInProgress.String())
}

func TestLongestSplitAxis(t *testing.T) {
	g, err := mesh.NewStructuredGrid(3, [3]int{8, 2, 2}, r3.Vec{}, r3.Vec{X: 4, Y: 1, Z: 1})
	require.NoError(t, err)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 2})))
	require.NoError(t, err)
	p.EnableLongestSplitAxis(true)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	for _, e := range g.Level(0) {
		want := 1
		if g.Center(e).X < 2 {
			want = 0
		}
		assert.Equal(t, want, p.Partitions().Get(e), "element %d", e)
	}
}

func TestPartitionBelowFirstHierarchyLevel(t *testing.T) {
	g := unitCube(t, 2, 2)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{1, 2})))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)

	assert.Equal(t, map[int]int{0: 8}, partitionCounts(g, p.Partitions(), 0))
	for lvl := 1; lvl < g.NumLevels(); lvl++ {
		counts := partitionCounts(g, p.Partitions(), lvl)
		assert.NotContains(t, counts, Unassigned, "level %d", lvl)
		assert.Len(t, counts, 2, "level %d", lvl)
	}
}

func TestStaticPartitioningClusterSizeChange(t *testing.T) {
	g := unitCube(t, 4, 0)
	p, err := New(g, WithProcessHierarchy(serialHierarchy(t, [2]int{0, 4})))
	require.NoError(t, err)
	p.EnableStaticPartitioning(true)
	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.Len(t, partitionCounts(g, p.Partitions(), 0), 4)

	p.SetNextProcessHierarchy(serialHierarchy(t, [2]int{0, 2}))
	changed, err := p.Partition(0, 0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, p.HighestRedistLevel())
	assert.Equal(t, map[int]int{0: 32, 1: 32}, partitionCounts(g, p.Partitions(), 0))
	assert.Equal(t, []int{0, 1}, p.ProcessMap())

	before := p.Partitions().Snapshot()
	changed, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, cmp.Diff(before, p.Partitions().Snapshot()))
}
