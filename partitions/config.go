package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/pcl"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
)

// Balance weight kinds of WeightsConfig
const (
	WeightsUnit            = "unit"
	WeightsGeometry        = "geometry"
	WeightsRefinementMarks = "refinement_marks"
)

// Config holds the partitioner settings read from YAML
type Config struct {
	Tolerance              float64                `yaml:"tolerance"`
	SplitImproveIterations int                    `yaml:"split_improve_iterations"`
	SplitAxes              SplitAxesConfig        `yaml:"split_axes"`
	LongestSplitAxis       bool                   `yaml:"longest_split_axis"`
	StartSplitAxis         int                    `yaml:"start_split_axis"`
	StaticPartitioning     bool                   `yaml:"static_partitioning"`
	ClusteredSiblings      bool                   `yaml:"clustered_siblings"`
	Weights                WeightsConfig          `yaml:"weights"`
	Hierarchy              []HierarchyLevelConfig `yaml:"hierarchy,omitempty"`
}

type SplitAxesConfig struct {
	X bool `yaml:"x"`
	Y bool `yaml:"y"`
	Z bool `yaml:"z"`
}

type WeightsConfig struct {
	Kind string `yaml:"kind"`
	// Costs per geometry name (Tet, Hex, ...) for the geometry kind
	Costs   map[string]float64 `yaml:"costs,omitempty"`
	Default float64            `yaml:"default,omitempty"`
	// Marked elements for the refinement_marks kind
	Marked []int `yaml:"marked,omitempty"`
}

type HierarchyLevelConfig struct {
	GridBaseLevel int             `yaml:"grid_base_level"`
	NumProcs      int             `yaml:"num_procs"`
	Hints         map[string]bool `yaml:"hints,omitempty"`
}

// DefaultConfig returns the settings of a partitioner created by New
func DefaultConfig() *Config {
	return &Config{
		Tolerance:              DefaultTolerance,
		SplitImproveIterations: DefaultSplitImproveIterations,
		SplitAxes:              SplitAxesConfig{X: true, Y: true, Z: true},
		Weights:                WeightsConfig{Kind: WeightsUnit},
	}
}

// LoadConfig reads a YAML file on top of the defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Tolerance <= 0 || c.Tolerance > 1 {
		return fmt.Errorf("tolerance %g outside (0, 1]", c.Tolerance)
	}
	if c.SplitImproveIterations < 0 {
		return fmt.Errorf("negative split_improve_iterations %d", c.SplitImproveIterations)
	}
	if c.StartSplitAxis < 0 || c.StartSplitAxis > 2 {
		return fmt.Errorf("start_split_axis %d outside [0, 2]", c.StartSplitAxis)
	}
	switch c.Weights.Kind {
	case "", WeightsUnit, WeightsRefinementMarks:
	case WeightsGeometry:
		for name := range c.Weights.Costs {
			if _, err := mesh.ParseGeometry(name); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown weights kind %q", c.Weights.Kind)
	}
	for i, l := range c.Hierarchy {
		if l.NumProcs < 1 {
			return fmt.Errorf("hierarchy level %d: %d processes: %w", i, l.NumProcs, ErrInvalidHierarchy)
		}
		if i > 0 && c.Hierarchy[i-1].GridBaseLevel > l.GridBaseLevel {
			return fmt.Errorf("hierarchy level %d: decreasing base level: %w", i, ErrInvalidHierarchy)
		}
	}
	return nil
}

// ProcessHierarchy builds the configured hierarchy over world. It returns
// nil if the configuration has no hierarchy.
func (c *Config) ProcessHierarchy(world pcl.Communicator) (*ProcessHierarchy, error) {
	if len(c.Hierarchy) == 0 {
		return nil, nil
	}
	ph := NewProcessHierarchy(world)
	for _, l := range c.Hierarchy {
		if err := ph.AddLevel(l.GridBaseLevel, l.NumProcs, l.Hints); err != nil {
			return nil, err
		}
	}
	return ph, nil
}

// BalanceWeights creates the configured weighting for grid
func (c *Config) BalanceWeights(grid mesh.MultiGrid) (BalanceWeights, error) {
	switch c.Weights.Kind {
	case "", WeightsUnit:
		return UnitWeights{}, nil
	case WeightsGeometry:
		w := &GeometryWeights{Grid: grid, Costs: make(map[mesh.ElementGeometry]float64), Default: c.Weights.Default}
		if w.Default == 0 {
			w.Default = 1
		}
		for name, cost := range c.Weights.Costs {
			geom, err := mesh.ParseGeometry(name)
			if err != nil {
				return nil, err
			}
			w.Costs[geom] = cost
		}
		return w, nil
	case WeightsRefinementMarks:
		marked := make([]mesh.ElementID, len(c.Weights.Marked))
		for i, e := range c.Weights.Marked {
			marked[i] = mesh.ElementID(e)
		}
		return NewRefinementMarkWeights(grid, marked), nil
	}
	return nil, fmt.Errorf("unknown weights kind %q", c.Weights.Kind)
}

// Apply configures p. A configured hierarchy is built over the world of the
// partitioner's current hierarchy.
func (c *Config) Apply(p *Partitioner) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.SetTolerance(c.Tolerance)
	p.SetSplitImproveIterations(c.SplitImproveIterations)
	for axis, enable := range []bool{c.SplitAxes.X, c.SplitAxes.Y, c.SplitAxes.Z} {
		p.EnableSplitAxis(axis, enable)
	}
	p.EnableLongestSplitAxis(c.LongestSplitAxis)
	p.SetStartSplitAxis(c.StartSplitAxis)
	p.EnableStaticPartitioning(c.StaticPartitioning)
	p.EnableClusteredSiblings(c.ClusteredSiblings)

	bw, err := c.BalanceWeights(p.grid)
	if err != nil {
		return err
	}
	p.SetBalanceWeights(bw)

	ph, err := c.ProcessHierarchy(p.hierarchy.World())
	if err != nil {
		return err
	}
	if ph != nil {
		p.hierarchy = ph
	}
	return nil
}
