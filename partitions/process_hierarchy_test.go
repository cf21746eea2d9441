package partitions

import (
	"github.com/notargets/DGBalance/pcl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestProcessHierarchyLevels(t *testing.T) {
	ph := NewProcessHierarchy(nil)
	require.NoError(t, ph.AddLevel(0, 1, nil))
	require.NoError(t, ph.AddLevel(2, 4, map[string]bool{HintEnableXCuts: false}))
	require.NoError(t, ph.AddLevel(2, 8, nil))
	assert.Equal(t, 3, ph.NumLevels())

	assert.Equal(t, 0, ph.HierarchyLevelFromGridLevel(0))
	assert.Equal(t, 0, ph.HierarchyLevelFromGridLevel(1))
	assert.Equal(t, 2, ph.HierarchyLevelFromGridLevel(2))
	assert.Equal(t, 2, ph.HierarchyLevelFromGridLevel(7))

	v, ok := ph.PartitionHint(1, HintEnableXCuts)
	assert.True(t, ok)
	assert.False(t, v)
	_, ok = ph.PartitionHint(1, HintEnableYCuts)
	assert.False(t, ok)

	assert.Equal(t, []int{0, 1, 2, 3}, ph.ClusterProcs(1))
	assert.Equal(t, []int{0, 1}, ph.ClusterProcs(2))
	assert.Same(t, ph.World(), ph.GlobalProcCom(0))

	err := ph.AddLevel(1, 2, nil)
	assert.ErrorIs(t, err, ErrInvalidHierarchy)
	assert.ErrorIs(t, ph.AddLevel(3, 0, nil), ErrInvalidHierarchy)
	assert.Equal(t, 3, ph.NumLevels())
}

func TestProcessHierarchyCloneEqual(t *testing.T) {
	ph := NewProcessHierarchy(nil)
	require.NoError(t, ph.AddLevel(0, 2, map[string]bool{HintEnableZCuts: true}))
	c := ph.Clone()
	assert.True(t, ph.Equal(c))
	assert.False(t, ph.Equal(nil))

	c.levels[0].Hints[HintEnableZCuts] = false
	v, _ := ph.PartitionHint(0, HintEnableZCuts)
	assert.True(t, v)

	require.NoError(t, c.AddLevel(1, 4, nil))
	assert.False(t, ph.Equal(c))
}

func TestProcessHierarchyLevelCommunicators(t *testing.T) {
	var (
		sizes    [4]int
		clusters [4][]int
	)
	err := pcl.RunLocal(4, func(com *pcl.LocalComm) error {
		ph := NewProcessHierarchy(com)
		if err := ph.AddLevel(0, 2, nil); err != nil {
			return err
		}
		if err := ph.AddLevel(1, 4, nil); err != nil {
			return err
		}
		rank := com.Rank()
		level := ph.GlobalProcCom(0)
		if !level.Empty() {
			n, err := pcl.AllReduceInt(level, 1, pcl.OpSum)
			if err != nil {
				return err
			}
			sizes[rank] = n
		}
		clusters[rank] = ph.ClusterProcs(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [4]int{2, 2, 0, 0}, sizes)
	assert.Equal(t, []int{0, 1}, clusters[0])
	assert.Equal(t, []int{2, 3}, clusters[1])
	assert.Equal(t, []int{2}, clusters[2])
	assert.Equal(t, []int{3}, clusters[3])
}
