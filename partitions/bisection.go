package partitions

import (
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/pcl"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
)

// TreeNode is one node of the bisection tree. A node distributes the
// elements of its list among the processes [FirstProc, FirstProc+NumTargetProcs).
type TreeNode struct {
	Elems          ElemList
	FirstProc      int
	NumTargetProcs int
	// RatioLeft is the fraction of the weight that goes to the left child
	RatioLeft float64

	SplitAxis                    int
	SplitValue                   float64
	MinSplitValue, MaxSplitValue float64

	Center         r3.Vec
	BoxMin, BoxMax r3.Vec
	TotalWeight    float64

	BisectionComplete bool
	// FirstChildNode indexes the left child in the next tree layer, the
	// right child follows it. invalidIndex for leaves.
	FirstChildNode int
}

// newTreeNode returns a node with an empty element list over arena
func newTreeNode(arena *EntryArena, firstProc, numTargetProcs int) TreeNode {
	return TreeNode{
		Elems:          NewElemList(arena),
		FirstProc:      firstProc,
		NumTargetProcs: numTargetProcs,
		RatioLeft:      0.5,
		FirstChildNode: invalidIndex,
	}
}

// controlBisection splits the element lists of nodes layer by layer until
// every node targets a single process and assigns its elements to that
// process. All nodes of one layer are bisected together so that every
// collective serves the whole layer.
func (p *Partitioner) controlBisection(nodes []TreeNode, weights []float64,
	maxChildWeight float64, com pcl.Communicator) error {

	for depth := 0; len(nodes) > 0; depth++ {
		var childNodes []TreeNode
		for i := range nodes {
			tn := &nodes[i]
			tn.BisectionComplete = false

			if tn.NumTargetProcs < 2 {
				tn.BisectionComplete = true
				tn.FirstChildNode = invalidIndex
				tn.RatioLeft = 0.5
				for j := tn.Elems.First(); j != invalidIndex; j = tn.Elems.Next(j) {
					p.pm.Assign(tn.Elems.Elem(j), tn.FirstProc)
				}
				continue
			}

			left := tn.NumTargetProcs / 2
			right := tn.NumTargetProcs - left
			tn.RatioLeft = float64(left) / float64(tn.NumTargetProcs)
			tn.FirstChildNode = len(childNodes)
			childNodes = append(childNodes,
				newTreeNode(&p.arena, tn.FirstProc, left),
				newTreeNode(&p.arena, tn.FirstProc+left, right))
		}

		if len(childNodes) == 0 {
			break
		}

		p.setStage(BisectionInProgress)
		splitAxis := -1
		if !p.longestSplitAxis {
			var err error
			if splitAxis, err = p.getNextSplitAxis(); err != nil {
				return err
			}
		}
		if err := p.bisectElements(childNodes, nodes, weights, maxChildWeight, com, 0, splitAxis); err != nil {
			return err
		}
		p.log.Debug("bisected tree layer",
			zap.Int("depth", depth),
			zap.Int("nodes", len(nodes)),
			zap.Int("children", len(childNodes)))
		nodes = childNodes
	}
	p.setStage(LeavesAssigned)
	return nil
}

// elemCenter returns coordinate axis of the center of e
func (p *Partitioner) elemCenter(e mesh.ElementID, axis int) float64 {
	return mesh.Component(p.grid.Center(e), axis)
}
