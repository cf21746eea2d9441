package partitions

import (
	"github.com/notargets/DGBalance/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

const testConfig = `
tolerance: 0.9
split_improve_iterations: 4
split_axes:
  x: true
  y: false
  z: true
longest_split_axis: true
start_split_axis: 2
clustered_siblings: true
weights:
  kind: geometry
  costs:
    Hex: 2.5
  default: 1
hierarchy:
  - grid_base_level: 0
    num_procs: 1
  - grid_base_level: 1
    num_procs: 4
    hints:
      enableZCuts: false
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Tolerance)
	assert.Equal(t, 4, cfg.SplitImproveIterations)
	assert.Equal(t, SplitAxesConfig{X: true, Z: true}, cfg.SplitAxes)
	assert.True(t, cfg.LongestSplitAxis)
	assert.False(t, cfg.StaticPartitioning)
	assert.Equal(t, WeightsGeometry, cfg.Weights.Kind)
	require.Len(t, cfg.Hierarchy, 2)
	assert.Equal(t, map[string]bool{HintEnableZCuts: false}, cfg.Hierarchy[1].Hints)

	g := unitCube(t, 2, 1)
	p, err := New(g, WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.Tolerance())
	assert.Equal(t, 4, p.SplitImproveIterations())
	assert.True(t, p.SplitAxisEnabled(0))
	assert.False(t, p.SplitAxisEnabled(1))
	assert.True(t, p.ClusteredSiblingsEnabled())
	assert.Equal(t, 2, p.CurrentProcessHierarchy().NumLevels())
	assert.Equal(t, 4, p.CurrentProcessHierarchy().NumGlobalProcs(1))
	assert.Equal(t, 2.5, p.bw.Weight(g.Level(0)[0]))

	_, err = p.Partition(0, 0)
	require.NoError(t, err)
	total := 0
	for part, n := range p.Partitions().Counts(g, 1) {
		assert.GreaterOrEqual(t, part, 0)
		assert.Less(t, part, 4)
		total += n
	}
	assert.Equal(t, 64, total)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "balance.yaml")
	cfg := DefaultConfig()
	cfg.StaticPartitioning = true
	cfg.Weights = WeightsConfig{Kind: WeightsRefinementMarks, Marked: []int{3, 5}}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	g := unitCube(t, 2, 0)
	bw, err := loaded.BalanceWeights(g)
	require.NoError(t, err)
	assert.True(t, bw.HasLevelOffsets())
	assert.True(t, bw.ConsiderInLevelAbove(mesh.ElementID(5)))
	assert.False(t, bw.ConsiderInLevelAbove(mesh.ElementID(4)))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"tolerance above one", func(c *Config) { c.Tolerance = 1.5 }},
		{"negative iterations", func(c *Config) { c.SplitImproveIterations = -1 }},
		{"start axis", func(c *Config) { c.StartSplitAxis = 3 }},
		{"weights kind", func(c *Config) { c.Weights.Kind = "random" }},
		{"geometry name", func(c *Config) {
			c.Weights = WeightsConfig{Kind: WeightsGeometry, Costs: map[string]float64{"Cube": 1}}
		}},
		{"no processes", func(c *Config) {
			c.Hierarchy = []HierarchyLevelConfig{{GridBaseLevel: 0, NumProcs: 0}}
		}},
		{"decreasing base levels", func(c *Config) {
			c.Hierarchy = []HierarchyLevelConfig{{GridBaseLevel: 2, NumProcs: 1}, {GridBaseLevel: 1, NumProcs: 2}}
		}},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tolerance: 2\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
