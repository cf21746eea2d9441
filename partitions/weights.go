package partitions

import (
	"github.com/notargets/DGBalance/mesh"
	"go.uber.org/zap"
)

// gatherWeightsFromLevel accumulates the weights of the elements on
// childLvl into their ancestors on baseLvl. Afterwards every element on
// baseLvl carries the weight of its descendants on childLvl. Vertical slave
// copies send their partial sums to the vertical masters on every level
// before the masters sum up their children.
//
// With markedOnly, only childless non-ghost elements on childLvl which are
// considered in the level above contribute, with their refined weight.
func (p *Partitioner) gatherWeightsFromLevel(baseLvl, childLvl int, weights []float64,
	copyToMastersOnBase, markedOnly bool) error {

	grid, bw := p.grid, p.bw
	if childLvl < baseLvl || childLvl >= grid.NumLevels() {
		for _, e := range grid.Level(baseLvl) {
			weights[e] = 0
		}
		return nil
	}

	if markedOnly {
		for _, e := range grid.Level(childLvl) {
			if grid.NumChildren(e) == 0 && !p.isGhost(e) && bw.ConsiderInLevelAbove(e) {
				weights[e] = bw.RefinedWeight(e)
			} else {
				weights[e] = 0
			}
		}
	} else {
		for _, e := range grid.Level(childLvl) {
			weights[e] = bw.Weight(e)
		}
	}

	for lvl := childLvl - 1; lvl >= baseLvl; lvl-- {
		if err := p.exchange(mesh.VerticalSlave, mesh.VerticalMaster, lvl+1, copyWeights(weights)); err != nil {
			return err
		}
		offsets := bw.HasLevelOffsets() && lvl == childLvl-1
		for _, e := range grid.Level(lvl) {
			n := grid.NumChildren(e)
			if offsets && n == 0 && !p.isGhost(e) && bw.ConsiderInLevelAbove(e) {
				weights[e] = bw.RefinedWeight(e)
				continue
			}
			w := 0.
			for i := 0; i < n; i++ {
				w += weights[grid.Child(e, i)]
			}
			weights[e] = w
		}
	}

	if copyToMastersOnBase {
		if err := p.exchange(mesh.VerticalSlave, mesh.VerticalMaster, baseLvl, copyWeights(weights)); err != nil {
			return err
		}
	}
	p.log.Debug("gathered weights",
		zap.Int("baseLevel", baseLvl),
		zap.Int("childLevel", childLvl),
		zap.Bool("markedOnly", markedOnly))
	return nil
}

func (p *Partitioner) isGhost(e mesh.ElementID) bool {
	return p.dgm != nil && p.dgm.IsGhost(e)
}
