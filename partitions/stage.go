package partitions

import (
	"fmt"
	"go.uber.org/zap"
)

// Stage is the progress of the partitioner on the current hierarchy level
type Stage uint8

const (
	NotStarted Stage = iota
	WeightsGathered
	TreeBuilt
	BisectionInProgress
	LeavesAssigned
	PropagatedToChildren
	Done
)

func (s Stage) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case WeightsGathered:
		return "WeightsGathered"
	case TreeBuilt:
		return "TreeBuilt"
	case BisectionInProgress:
		return "BisectionInProgress"
	case LeavesAssigned:
		return "LeavesAssigned"
	case PropagatedToChildren:
		return "PropagatedToChildren"
	case Done:
		return "Done"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// StageObserver is called on every stage transition of a hierarchy level
type StageObserver func(hlevel int, stage Stage)

func (p *Partitioner) setStage(s Stage) {
	if p.stage == s {
		return
	}
	p.stage = s
	p.log.Debug("stage", zap.Int("hlevel", p.hlevel), zap.Stringer("stage", s))
	if p.observer != nil {
		p.observer(p.hlevel, s)
	}
}
