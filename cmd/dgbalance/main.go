package main

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/partitions"
	"github.com/notargets/DGBalance/pcl"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/spatial/r3"
	"os"
	"sort"
	"sync"
)

var (
	numProcs   int
	dim        int
	cells      int
	refine     int
	numRanks   int
	threshold  int
	baseLevel  int
	configPath string
	meshFile   string
	tolerance  float64
	static     bool
	clustered  bool
	postSibs   bool
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dgbalance",
	Short: "Geometric bisection load balancing of hierarchical meshes",
	Long: `dgbalance partitions a multigrid hierarchy by recursive geometric
bisection and reports the resulting load balance per grid level.

The grid is either a structured box grid or a mesh file read into level 0,
refined uniformly --refine times. With --ranks > 1 the grid is sliced among
simulated processes which balance it collectively.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runPartition,
}

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Write the default partitioner configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := partitions.DefaultConfig().Save(args[0]); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	flags := rootCmd.Flags()
	flags.IntVarP(&numProcs, "procs", "p", 4, "Number of target processes")
	flags.IntVar(&dim, "dim", 3, "Dimension of the structured grid")
	flags.IntVar(&cells, "cells", 10, "Structured grid cells per axis")
	flags.IntVar(&refine, "refine", 0, "Number of uniform refinements")
	flags.IntVar(&numRanks, "ranks", 1, "Number of simulated processes holding the grid")
	flags.IntVar(&threshold, "threshold", 0, "Minimum number of elements per partition (0 disables)")
	flags.IntVar(&baseLevel, "base-level", 0, "Lowest grid level to partition")
	flags.StringVarP(&configPath, "config", "c", "", "YAML partitioner configuration")
	flags.StringVarP(&meshFile, "mesh", "m", "", "Mesh file (Gambit .neu, Gmsh .msh, SU2) instead of a structured grid")
	flags.Float64Var(&tolerance, "tolerance", partitions.DefaultTolerance, "Balance tolerance")
	flags.BoolVar(&static, "static", false, "Enable static partitioning")
	flags.BoolVar(&clustered, "clustered-siblings", false, "Keep siblings on one process")
	flags.BoolVar(&postSibs, "post-cluster-siblings", false, "Move split siblings together after every bisection")

	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*partitions.Config, error) {
	cfg := partitions.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = partitions.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("tolerance") {
		cfg.Tolerance = tolerance
	}
	if cmd.Flags().Changed("static") {
		cfg.StaticPartitioning = static
	}
	if cmd.Flags().Changed("clustered-siblings") {
		cfg.ClusteredSiblings = clustered
	}
	if len(cfg.Hierarchy) == 0 {
		cfg.Hierarchy = []partitions.HierarchyLevelConfig{{GridBaseLevel: 0, NumProcs: numProcs}}
	}
	return cfg, cfg.Validate()
}

func buildGrid() (*mesh.Grid, error) {
	var (
		g   *mesh.Grid
		err error
	)
	if meshFile != "" {
		if g, err = mesh.ReadMeshFile(meshFile); err == nil {
			fmt.Printf("Mesh file %s: %d elements\n", meshFile, g.NumElements())
		}
	} else {
		hi := r3.Vec{X: 1, Y: 1, Z: 1}
		g, err = mesh.NewStructuredGrid(dim, [3]int{cells, cells, cells}, r3.Vec{}, hi)
	}
	if err != nil {
		return nil, err
	}
	for i := 0; i < refine; i++ {
		if err = g.RefineUniform(); err != nil {
			return nil, fmt.Errorf("refinement %d: %w", i+1, err)
		}
	}
	return g, nil
}

// levelTotals accumulates element counts and weights per partition
type levelTotals struct {
	counts  map[int]int
	weights map[int]float64
}

func runPartition(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	global, err := buildGrid()
	if err != nil {
		return err
	}
	if numRanks < 1 {
		return fmt.Errorf("invalid number of ranks %d", numRanks)
	}
	grids, _, err := mesh.Distribute(global, mesh.SliceByAxis(global, 0, numRanks), numRanks)
	if err != nil {
		return err
	}

	fmt.Printf("=== Dynamic Bisection Load Balancer ===\n")
	fmt.Printf("Grid: %d levels, %d elements on %d ranks\n", global.NumLevels(), global.NumElements(), numRanks)

	var (
		mu     sync.Mutex
		totals = make([]levelTotals, global.NumLevels())
	)
	for i := range totals {
		totals[i] = levelTotals{counts: make(map[int]int), weights: make(map[int]float64)}
	}

	err = pcl.RunLocal(numRanks, func(com *pcl.LocalComm) error {
		grid := grids[com.Rank()]
		opts := []partitions.Option{
			partitions.WithLogger(logger.With(zap.Int("rank", com.Rank()))),
			partitions.WithProcessHierarchy(defaultHierarchy(com)),
			partitions.WithConfig(cfg),
		}
		var sc *partitions.SiblingClusterer
		if postSibs {
			sc = &partitions.SiblingClusterer{}
			opts = append(opts, partitions.WithPostProcessor(sc))
		}
		p, err := partitions.New(grid, opts...)
		if err != nil {
			return err
		}
		if _, err = p.Partition(baseLevel, threshold); err != nil {
			return err
		}
		if sc != nil {
			logger.Info("clustered siblings", zap.Int("rank", com.Rank()), zap.Int("moved", sc.Moved))
		}
		for lvl := 0; lvl < grid.NumLevels(); lvl++ {
			layout, err := p.Layout(lvl)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, part := range layout.Partitions {
				totals[lvl].counts[part.ID] += part.NumElements
				totals[lvl].weights[part.ID] += part.Weight
			}
			mu.Unlock()
		}
		plan, err := p.RedistributionPlan(com.Rank())
		if err != nil {
			return err
		}
		if err = plan.Verify(); err != nil {
			return err
		}
		logger.Info("redistribution plan",
			zap.Int("rank", com.Rank()),
			zap.Int("keep", len(plan.Keep)),
			zap.Int("send", plan.SendVolume()),
			zap.Int("targets", len(plan.Picks)))
		return nil
	})
	if err != nil {
		return err
	}

	for lvl, lt := range totals {
		report(lvl, lt)
	}
	return nil
}

// defaultHierarchy spans every simulated process. The configured hierarchy
// replaces its levels.
func defaultHierarchy(com *pcl.LocalComm) *partitions.ProcessHierarchy {
	ph := partitions.NewProcessHierarchy(com)
	_ = ph.AddLevel(0, 1, nil)
	return ph
}

func report(lvl int, lt levelTotals) {
	parts := make([]int, 0, len(lt.counts))
	for part := range lt.counts {
		parts = append(parts, part)
	}
	sort.Ints(parts)

	fmt.Printf("\nLevel %d\n", lvl)
	fmt.Printf("%10s %10s %12s\n", "Partition", "Elements", "Weight")
	total, totalWeight, maxWeight := 0, 0., 0.
	for _, part := range parts {
		fmt.Printf("%10d %10d %12.2f\n", part, lt.counts[part], lt.weights[part])
		total += lt.counts[part]
		totalWeight += lt.weights[part]
		maxWeight = max(maxWeight, lt.weights[part])
	}
	if len(parts) > 0 && totalWeight > 0 {
		avg := totalWeight / float64(len(parts))
		fmt.Printf("Elements: %d, Imbalance: %.3f\n", total, maxWeight/avg)
	}
}
