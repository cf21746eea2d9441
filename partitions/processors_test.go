package partitions

import (
	"errors"
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

// levelMover moves every element of a post-processed level onto partition 1
type levelMover struct {
	grid  mesh.MultiGrid
	pm    *PartitionMap
	calls []string
}

func (m *levelMover) Init(grid mesh.MultiGrid, pm *PartitionMap) {
	m.grid, m.pm = grid, pm
	m.calls = append(m.calls, "init")
}

func (m *levelMover) PostProcess(lvl int) error {
	m.calls = append(m.calls, fmt.Sprintf("post %d", lvl))
	m.pm.AssignLevel(m.grid, lvl, 1)
	return nil
}

func (m *levelMover) Done() { m.calls = append(m.calls, "done") }

type hookRecorder struct {
	startErr error
	calls    []string
}

func (h *hookRecorder) PartitioningStarts(grid mesh.MultiGrid, p *Partitioner) error {
	h.calls = append(h.calls, "starts")
	return h.startErr
}

func (h *hookRecorder) PartitioningDone(grid mesh.MultiGrid, p *Partitioner) error {
	h.calls = append(h.calls, "done")
	return nil
}

func TestPostProcessorReachesChildren(t *testing.T) {
	g := unitCube(t, 2, 2)
	mover := &levelMover{}
	hooks := &hookRecorder{}
	p, err := New(g,
		WithProcessHierarchy(serialHierarchy(t, [2]int{0, 2})),
		WithPreProcessor(hooks),
		WithPostProcessor(mover))
	require.NoError(t, err)

	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "post 0", "done"}, mover.calls)
	assert.Equal(t, []string{"starts", "done"}, hooks.calls)
	for lvl := 0; lvl < g.NumLevels(); lvl++ {
		assert.Equal(t, map[int]int{1: len(g.Level(lvl))}, partitionCounts(g, p.Partitions(), lvl), "level %d", lvl)
	}
}

func TestPreProcessorError(t *testing.T) {
	errNotReady := errors.New("grid not ready")
	g := unitCube(t, 2, 0)
	p, err := New(g, WithPreProcessor(&hookRecorder{startErr: errNotReady}))
	require.NoError(t, err)
	_, err = p.Partition(0, 0)
	assert.ErrorIs(t, err, errNotReady)
}

func TestSiblingClusterer(t *testing.T) {
	// one root with 8 children that a two way cut separates 4:4
	g := unitCube(t, 1, 2)
	sc := &SiblingClusterer{}
	p, err := New(g,
		WithProcessHierarchy(serialHierarchy(t, [2]int{1, 2})),
		WithPostProcessor(sc))
	require.NoError(t, err)

	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, sc.Moved)

	level1 := partitionCounts(g, p.Partitions(), 1)
	require.Len(t, level1, 1)
	for part, n := range level1 {
		assert.Equal(t, 8, n)
		assert.Equal(t, map[int]int{part: 64}, partitionCounts(g, p.Partitions(), 2))
	}
}
