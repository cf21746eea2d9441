// Package partitions distributes the elements of a hierarchical mesh over
// processes by recursive geometric bisection.
//
// A Partitioner walks the levels of a process hierarchy. For every level it
// gathers element weights onto a partition level, splits the weighted
// element centers into as many parts as there are target processes, and
// copies the result to all finer grid levels. Every collective step is
// batched over all nodes of one bisection tree layer.
package partitions

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/pcl"
	"go.uber.org/zap"
	"slices"
)

const (
	DefaultTolerance              = 0.99
	DefaultSplitImproveIterations = 10
)

// Partitioner is the dynamic bisection load balancer of one mesh session
type Partitioner struct {
	grid    mesh.MultiGrid
	dim     int
	log     *zap.Logger
	session uuid.UUID

	bw            BalanceWeights
	hierarchy     *ProcessHierarchy
	nextHierarchy *ProcessHierarchy
	dgm           mesh.DistributedGridManager
	icom          pcl.InterfaceCommunicator
	localCom      pcl.Communicator

	pm      *PartitionMap
	procMap []int
	arena   EntryArena

	staticPartitioning bool
	clusteredSiblings  bool
	tolerance          float64

	splitImproveIterations int
	longestSplitAxis       bool
	startSplitAxis         int
	lastSplitAxis          int
	splitAxisEnabled       [3]bool
	numSplitAxisEnabled    int
	firstSplitAxisEnabled  int

	highestRedistLevel int
	problemsOccurred   bool
	staticCache        map[int]staticResult
	staticHierarchy    *ProcessHierarchy

	preProcessor  PartitionPreProcessor
	postProcessor PartitionPostProcessor

	hlevel   int
	stage    Stage
	observer StageObserver
}

// staticResult is the partition map computed for one hierarchy level under
// static partitioning
type staticResult struct {
	clusterSize int
	procMap     []int
	parts       []int
}

type Option func(p *Partitioner) error

func WithLogger(log *zap.Logger) Option {
	return func(p *Partitioner) error {
		if log != nil {
			p.log = log
		}
		return nil
	}
}

func WithBalanceWeights(bw BalanceWeights) Option {
	return func(p *Partitioner) error {
		p.SetBalanceWeights(bw)
		return nil
	}
}

func WithProcessHierarchy(ph *ProcessHierarchy) Option {
	return func(p *Partitioner) error {
		if ph == nil || ph.NumLevels() == 0 {
			return fmt.Errorf("empty process hierarchy: %w", ErrInvalidHierarchy)
		}
		p.hierarchy = ph
		return nil
	}
}

// WithDistributedGrid sets the ghost and vertical interface information of
// the local grid part
func WithDistributedGrid(dgm mesh.DistributedGridManager) Option {
	return func(p *Partitioner) error {
		p.dgm = dgm
		return nil
	}
}

// WithInterfaceCommunicator sets the communicator used to synchronize
// vertical interfaces
func WithInterfaceCommunicator(icom pcl.InterfaceCommunicator) Option {
	return func(p *Partitioner) error {
		p.icom = icom
		return nil
	}
}

// WithConfig applies cfg. Pass it after WithProcessHierarchy for the
// configured hierarchy to span the world of that hierarchy.
func WithConfig(cfg *Config) Option {
	return func(p *Partitioner) error {
		return cfg.Apply(p)
	}
}

// WithPreProcessor sets a hook notified when Partition starts and ends
func WithPreProcessor(pp PartitionPreProcessor) Option {
	return func(p *Partitioner) error {
		p.preProcessor = pp
		return nil
	}
}

// WithPostProcessor sets a hook that may adjust the partitions of the
// partition level after every bisection
func WithPostProcessor(pp PartitionPostProcessor) Option {
	return func(p *Partitioner) error {
		p.postProcessor = pp
		return nil
	}
}

func WithStageObserver(obs StageObserver) Option {
	return func(p *Partitioner) error {
		p.observer = obs
		return nil
	}
}

// New creates a partitioner for grid. Without further options it balances
// unit weights onto a single process.
func New(grid mesh.MultiGrid, opts ...Option) (*Partitioner, error) {
	p := &Partitioner{
		grid:                   grid,
		dim:                    3,
		log:                    zap.NewNop(),
		session:                uuid.New(),
		bw:                     UnitWeights{},
		localCom:               pcl.NewSerial(),
		pm:                     &PartitionMap{},
		tolerance:              DefaultTolerance,
		splitImproveIterations: DefaultSplitImproveIterations,
		lastSplitAxis:          -1,
		highestRedistLevel:     -1,
		staticCache:            make(map[int]staticResult),
	}
	if grid != nil {
		p.dim = grid.Dim()
	}
	for axis := 0; axis < p.dim; axis++ {
		p.splitAxisEnabled[axis] = true
	}
	p.countSplitAxes()

	p.hierarchy = NewProcessHierarchy(pcl.NewSerial())
	if err := p.hierarchy.AddLevel(0, 1, nil); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.log = p.log.With(zap.String("session", p.session.String()))
	return p, nil
}

// SessionID identifies the partitioner in log output
func (p *Partitioner) SessionID() uuid.UUID { return p.session }

// EnableSplitAxis enables or disables cuts orthogonal to axis. Axes beyond
// the grid dimension are ignored.
func (p *Partitioner) EnableSplitAxis(axis int, enable bool) {
	if axis < 0 || axis >= p.dim {
		return
	}
	p.splitAxisEnabled[axis] = enable
	p.countSplitAxes()
}

func (p *Partitioner) countSplitAxes() {
	p.numSplitAxisEnabled = 0
	p.firstSplitAxisEnabled = -1
	for axis := 0; axis < p.dim; axis++ {
		if p.splitAxisEnabled[axis] {
			p.numSplitAxisEnabled++
			if p.firstSplitAxisEnabled == -1 {
				p.firstSplitAxisEnabled = axis
			}
		}
	}
}

func (p *Partitioner) SplitAxisEnabled(axis int) bool {
	return axis >= 0 && axis < p.dim && p.splitAxisEnabled[axis]
}

// EnableLongestSplitAxis makes every node cut its longest enabled axis
// instead of cycling through the enabled axes
func (p *Partitioner) EnableLongestSplitAxis(enable bool) { p.longestSplitAxis = enable }

// SetStartSplitAxis sets the axis of the first cut of the axis cycle
func (p *Partitioner) SetStartSplitAxis(axis int) { p.startSplitAxis = axis }

// SetTolerance sets the fraction of the target weight both sides of a
// centroid tie-break have to reach
func (p *Partitioner) SetTolerance(tol float64) { p.tolerance = tol }

func (p *Partitioner) Tolerance() float64 { return p.tolerance }

func (p *Partitioner) SetSplitImproveIterations(n int) { p.splitImproveIterations = n }

func (p *Partitioner) SplitImproveIterations() int { return p.splitImproveIterations }

func (p *Partitioner) SetBalanceWeights(bw BalanceWeights) {
	if bw == nil {
		bw = UnitWeights{}
	}
	p.bw = bw
}

// EnableStaticPartitioning makes the partitioner keep the partitions of
// hierarchy levels that were already distributed. Partition values are
// then indices into ProcessMap.
func (p *Partitioner) EnableStaticPartitioning(enable bool) { p.staticPartitioning = enable }

func (p *Partitioner) StaticPartitioningEnabled() bool { return p.staticPartitioning }

// EnableClusteredSiblings keeps all children of an element on one process
func (p *Partitioner) EnableClusteredSiblings(enable bool) { p.clusteredSiblings = enable }

func (p *Partitioner) ClusteredSiblingsEnabled() bool { return p.clusteredSiblings }

// SetNextProcessHierarchy sets the hierarchy used by the next call to
// Partition. It replaces the current hierarchy afterwards.
func (p *Partitioner) SetNextProcessHierarchy(ph *ProcessHierarchy) { p.nextHierarchy = ph }

func (p *Partitioner) CurrentProcessHierarchy() *ProcessHierarchy { return p.hierarchy }

func (p *Partitioner) NextProcessHierarchy() *ProcessHierarchy { return p.nextHierarchy }

// Partitions returns the partition map of the last call to Partition
func (p *Partitioner) Partitions() *PartitionMap { return p.pm }

// ProcessMap maps partition indices to world ranks. It is nil unless
// static partitioning is enabled.
func (p *Partitioner) ProcessMap() []int {
	if !p.staticPartitioning {
		return nil
	}
	return p.procMap
}

// ProblemsOccurred reports hierarchy levels that had to be skipped since
// the grid doesn't reach them yet
func (p *Partitioner) ProblemsOccurred() bool { return p.problemsOccurred }

func (p *Partitioner) HighestRedistLevel() int { return p.highestRedistLevel }

// Stage returns the progress on the last processed hierarchy level
func (p *Partitioner) Stage() Stage { return p.stage }

// Partition assigns a partition to every element on baseLvl and above.
// Elements below baseLvl stay on partition 0. Hierarchy levels with fewer
// than elementThreshold elements per partition are split into fewer
// partitions; 0 disables the threshold.
//
// Under static partitioning Partition reports whether the highest
// redistributed hierarchy level changed. Otherwise it returns true.
func (p *Partitioner) Partition(baseLvl, elementThreshold int) (bool, error) {
	if p.grid == nil {
		return false, ErrNoGrid
	}
	grid := p.grid
	p.pm.Resize(grid.NumElements())
	weights := make([]float64, grid.NumElements())

	if p.preProcessor != nil {
		if err := p.preProcessor.PartitioningStarts(grid, p); err != nil {
			return false, fmt.Errorf("partition pre-processor: %w", err)
		}
	}
	if p.postProcessor != nil {
		p.postProcessor.Init(grid, p.pm)
	}

	procH := p.hierarchy
	if p.nextHierarchy != nil {
		procH = p.nextHierarchy
	}
	if p.staticPartitioning {
		p.invalidateStaticCache(procH)
	}

	// levels below baseLvl and below the first hierarchy level stay local
	firstLvl := baseLvl
	if procH.NumLevels() > 0 {
		firstLvl = max(firstLvl, procH.GridBaseLevel(0))
	}
	for lvl := 0; lvl < firstLvl && lvl < grid.NumLevels(); lvl++ {
		p.pm.AssignLevel(grid, lvl, 0)
	}

	p.procMap = nil
	p.problemsOccurred = false
	origAxes := p.splitAxisEnabled
	restoreAxes := func() {
		p.splitAxisEnabled = origAxes
		p.countSplitAxes()
	}
	oldHighestRedistLevel := p.highestRedistLevel

	for hlevel := 0; hlevel < procH.NumLevels(); hlevel++ {
		p.hlevel = hlevel
		p.stage = NotStarted
		if p.observer != nil {
			p.observer(hlevel, NotStarted)
		}

		numProcs := procH.NumGlobalProcs(hlevel)
		minLvl := procH.GridBaseLevel(hlevel)
		maxLvl := grid.TopLevel()

		if p.bw.HasLevelOffsets() && grid.TopLevel() < minLvl {
			// Only a changed process count needs another redistribution
			if hlevel == 0 || procH.NumGlobalProcs(hlevel-1) != numProcs {
				p.log.Warn("ignoring hierarchy level without elements",
					zap.Int("hlevel", hlevel), zap.Int("baseLevel", minLvl))
				p.problemsOccurred = true
			}
			continue
		}

		if hlevel+1 < procH.NumLevels() {
			maxLvl = min(maxLvl, procH.GridBaseLevel(hlevel+1)-1)
		}
		minLvl = max(minLvl, baseLvl)
		if maxLvl < minLvl {
			continue
		}

		numPartitions := numProcs
		if p.staticPartitioning {
			numPartitions = len(procH.ClusterProcs(hlevel))
		}

		if numProcs <= 1 || numPartitions == 1 {
			for lvl := minLvl; lvl <= maxLvl; lvl++ {
				p.pm.AssignLevel(grid, lvl, 0)
			}
			p.setStage(Done)
			continue
		}

		if p.staticPartitioning && hlevel <= p.highestRedistLevel {
			if p.reuseStaticResult(hlevel, minLvl, maxLvl) {
				p.setStage(Done)
				continue
			}
		}

		p.applyHints(procH, hlevel)

		partitionLvl := minLvl
		com := procH.GlobalProcCom(hlevel)
		if p.staticPartitioning {
			com = p.localCom
		}
		if minLvl > 0 && p.clusteredSiblings {
			partitionLvl = minLvl - 1
			if !p.staticPartitioning {
				com = p.hierarchy.GlobalProcCom(p.hierarchy.HierarchyLevelFromGridLevel(partitionLvl))
			}
		}

		numTargets, err := p.applyElementThreshold(numPartitions, elementThreshold, partitionLvl, com)
		if err != nil {
			restoreAxes()
			return false, err
		}

		p.log.Info("partitioning hierarchy level",
			zap.Int("hlevel", hlevel),
			zap.Int("minLevel", minLvl),
			zap.Int("maxLevel", maxLvl),
			zap.Int("partitionLevel", partitionLvl),
			zap.Int("partitions", numTargets))

		if err = p.performBisection(numTargets, minLvl, maxLvl, partitionLvl, weights, com); err != nil {
			restoreAxes()
			return false, fmt.Errorf("hierarchy level %d: %w", hlevel, err)
		}

		if p.clusteredSiblings && minLvl > 0 {
			if moved := p.enforceSiblingClusters(minLvl - 1); moved > 0 {
				p.log.Debug("moved siblings into their cluster", zap.Int("elements", moved))
			}
		}
		for lvl := minLvl; lvl < maxLvl; lvl++ {
			if err = p.copyPartitionsToChildren(lvl); err != nil {
				restoreAxes()
				return false, err
			}
		}
		p.setStage(PropagatedToChildren)

		if p.staticPartitioning {
			p.procMap = slices.Clone(procH.ClusterProcs(hlevel))
			p.highestRedistLevel = hlevel
			p.staticCache[hlevel] = staticResult{
				clusterSize: numPartitions,
				procMap:     p.procMap,
				parts:       p.pm.Snapshot(),
			}
		}

		restoreAxes()
		p.setStage(Done)
	}
	restoreAxes()

	if p.preProcessor != nil {
		if err := p.preProcessor.PartitioningDone(grid, p); err != nil {
			return false, fmt.Errorf("partition pre-processor: %w", err)
		}
	}
	if p.postProcessor != nil {
		p.postProcessor.Done()
	}

	if p.nextHierarchy != nil {
		p.hierarchy = p.nextHierarchy
		p.nextHierarchy = nil
	}

	if !p.staticPartitioning {
		return true, nil
	}

	world := p.hierarchy.World()
	if !world.Empty() {
		highest, err := pcl.AllReduceInt(world, p.highestRedistLevel, pcl.OpMax)
		if err != nil {
			return false, fmt.Errorf("reducing highest redistribution level: %w", err)
		}
		p.highestRedistLevel = highest
	}
	if len(p.procMap) == 0 && p.pm.NumSubsets() > 0 {
		if n := p.pm.NumSubsets(); n != 1 {
			return false, fmt.Errorf("%d partitions without a process map", n)
		}
		rank := 0
		if g, ok := world.(pcl.Grouper); ok {
			rank = g.WorldRank()
		} else {
			rank = world.Rank()
		}
		p.procMap = []int{rank}
	}
	return p.highestRedistLevel != oldHighestRedistLevel, nil
}

// applyHints enables or disables split axes as requested by a hierarchy
// level. Partition restores the original axes after every level.
func (p *Partitioner) applyHints(procH *ProcessHierarchy, hlevel int) {
	for axis, key := range []string{HintEnableXCuts, HintEnableYCuts, HintEnableZCuts} {
		if v, ok := procH.PartitionHint(hlevel, key); ok {
			p.EnableSplitAxis(axis, v)
		}
	}
}

// applyElementThreshold lowers the number of partitions so that every
// partition receives at least threshold elements of the partition level
func (p *Partitioner) applyElementThreshold(numPartitions, threshold, partitionLvl int,
	com pcl.Communicator) (int, error) {

	if threshold <= 0 || numPartitions < 2 || com.Empty() {
		return numPartitions, nil
	}
	local := 0
	for _, e := range p.grid.Level(partitionLvl) {
		if !p.isGhost(e) {
			local++
		}
	}
	total, err := pcl.AllReduceInt(com, local, pcl.OpSum)
	if err != nil {
		return 0, fmt.Errorf("counting elements on level %d: %w", partitionLvl, err)
	}
	if total >= threshold*numPartitions {
		return numPartitions, nil
	}
	reduced := max(1, total/threshold)
	p.log.Info("too few elements for all partitions",
		zap.Int("elements", total),
		zap.Int("threshold", threshold),
		zap.Int("requested", numPartitions),
		zap.Int("partitions", reduced))
	return reduced, nil
}

// invalidateStaticCache drops the cached results of the hierarchy levels
// whose cluster size differs in procH
func (p *Partitioner) invalidateStaticCache(procH *ProcessHierarchy) {
	if p.staticHierarchy != nil && p.staticHierarchy.Equal(procH) {
		return
	}
	for hlevel, cached := range p.staticCache {
		if hlevel >= procH.NumLevels() || len(procH.ClusterProcs(hlevel)) != cached.clusterSize {
			delete(p.staticCache, hlevel)
			p.log.Debug("dropped static partitions",
				zap.Int("hlevel", hlevel), zap.Int("clusterSize", cached.clusterSize))
		}
	}
	p.staticHierarchy = procH.Clone()
}

// reuseStaticResult restores the partitions computed for a hierarchy level
// by an earlier call. Elements created since then inherit the partition of
// their parent. It returns false if there is nothing to reuse.
func (p *Partitioner) reuseStaticResult(hlevel, minLvl, maxLvl int) bool {
	cached, ok := p.staticCache[hlevel]
	if !ok {
		return false
	}
	grid := p.grid
	for lvl := minLvl; lvl <= maxLvl; lvl++ {
		for _, e := range grid.Level(lvl) {
			part := Unassigned
			if int(e) < len(cached.parts) {
				part = cached.parts[e]
			}
			if part == Unassigned {
				part = 0
				if parent := grid.Parent(e); parent != mesh.InvalidElement && p.pm.Get(parent) != Unassigned {
					part = p.pm.Get(parent)
				}
			}
			p.pm.Assign(e, part)
		}
	}
	p.procMap = slices.Clone(cached.procMap)
	p.log.Debug("reused static partitions", zap.Int("hlevel", hlevel))
	return true
}

// performBisection partitions the elements on partitionLvl for
// numTargetProcs processes. Elements whose descendants reach the highest
// level are balanced first, so that every grid level between minLvl and
// maxLvl ends up balanced.
func (p *Partitioner) performBisection(numTargetProcs, minLvl, maxLvl, partitionLvl int,
	weights []float64, com pcl.Communicator) error {

	grid := p.grid
	p.lastSplitAxis = -1

	if p.numSplitAxisEnabled == 0 {
		if numTargetProcs > 1 {
			return ErrNoSplitAxis
		}
		for lvl := minLvl; lvl <= maxLvl; lvl++ {
			p.pm.AssignLevel(grid, lvl, 0)
		}
		return nil
	}

	elems := grid.Level(partitionLvl)
	for _, e := range elems {
		weights[e] = 0
	}
	p.arena.Reserve(len(elems))

	var origParts []int
	if partitionLvl < minLvl {
		origParts = p.pm.LevelSnapshot(grid, partitionLvl)
	}
	p.pm.AssignLevel(grid, partitionLvl, Unassigned)

	markedOnly := p.bw.HasLevelOffsets()
	for lvl := maxLvl; lvl >= minLvl; {
		if err := p.gatherWeightsFromLevel(partitionLvl, lvl, weights, false, markedOnly); err != nil {
			return err
		}
		p.setStage(WeightsGathered)

		p.arena.Clear()
		root := newTreeNode(&p.arena, 0, numTargetProcs)
		maxChildWeight := 0.
		for _, e := range elems {
			if weights[e] > 0 && p.pm.Get(e) == Unassigned && !p.isGhost(e) {
				root.Elems.Add(p.arena.Add(e))
				maxChildWeight = max(maxChildWeight, weights[e])
			}
		}
		if maxChildWeight == 0 {
			maxChildWeight = 1
		}
		p.setStage(TreeBuilt)

		if !com.Empty() {
			if numTargetProcs > 1 {
				var err error
				if maxChildWeight, err = pcl.AllReduceFloat(com, maxChildWeight, pcl.OpMax); err != nil {
					return fmt.Errorf("reducing max child weight: %w", err)
				}
			}
			if err := p.controlBisection([]TreeNode{root}, weights, maxChildWeight, com); err != nil {
				return err
			}
		}

		if markedOnly {
			markedOnly = false
		} else {
			lvl--
		}
	}

	// weightless elements
	for _, e := range elems {
		if p.pm.Get(e) == Unassigned && !p.isGhost(e) {
			p.pm.Assign(e, 0)
		}
	}

	if p.postProcessor != nil {
		if err := p.postProcessor.PostProcess(partitionLvl); err != nil {
			return fmt.Errorf("post-processing level %d: %w", partitionLvl, err)
		}
	}

	if partitionLvl < minLvl {
		for lvl := partitionLvl; lvl < minLvl; lvl++ {
			if err := p.copyPartitionsToChildren(lvl); err != nil {
				return err
			}
		}
		for i, e := range elems {
			p.pm.Assign(e, origParts[i])
		}
		return nil
	}
	// bisection only saw the vertical slaves
	return p.exchange(mesh.VerticalSlave, mesh.VerticalMaster, partitionLvl, copyPartitions{pm: p.pm})
}
