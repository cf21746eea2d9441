package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/pcl"
	"go.uber.org/zap"
	"math"
)

// Element locations relative to a split plane. A vertex on the plane
// counts as cutting.
const (
	unclassified = 0
	left         = 1
	right        = 2
	cutting      = left | right
)

// Weight buckets reduced per node in improveSplitValues
const (
	bucketCuttingCenterLeft = cutting + 1 + iota
	bucketCuttingCenterRight
	bucketTotal
	numBuckets
)

// Weight buckets reduced per node in bisectElements
const (
	cutLeft = iota
	cutRight
	cutCutting
	cutCenterLeft
	cutCenterRight
	numCutBuckets
)

// classifyElem locates the vertices of e relative to the plane
// x[axis] = value
func (p *Partitioner) classifyElem(e mesh.ElementID, axis int, value float64) int {
	loc := unclassified
	for i := 0; i < p.grid.NumVertices(e); i++ {
		v := mesh.Component(p.grid.Vertex(e, i), axis)
		switch {
		case v < value:
			loc |= left
		case v > value:
			loc |= right
		default:
			loc |= cutting
		}
	}
	return loc
}

// calculateGlobalDimensions computes the weighted center, the bounding box
// of element centers and the total weight of every node with children over
// all processes of com. Weights are scaled by 1/maxChildWeight.
func (p *Partitioner) calculateGlobalDimensions(nodes []TreeNode, maxChildWeight float64,
	weights []float64, com pcl.Communicator) error {

	n, dim := len(nodes), p.dim
	// [weights | centers] summed, [box min | -box max] minimized
	sumBuf := make([]float64, n+n*dim)
	minBuf := make([]float64, 2*n*dim)

	for i := range nodes {
		tn := &nodes[i]
		var (
			w      float64
			center [3]float64
			lo     = [3]float64{math.MaxFloat64, math.MaxFloat64, math.MaxFloat64}
			hi     = [3]float64{-math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
		)
		if tn.FirstChildNode != invalidIndex {
			for j := tn.Elems.First(); j != invalidIndex; j = tn.Elems.Next(j) {
				e := tn.Elems.Elem(j)
				c := p.grid.Center(e)
				we := weights[e] / maxChildWeight
				w += we
				for d := 0; d < dim; d++ {
					x := mesh.Component(c, d)
					center[d] += we * x
					lo[d] = min(lo[d], x)
					hi[d] = max(hi[d], x)
				}
			}
		}
		sumBuf[i] = w
		for d := 0; d < dim; d++ {
			sumBuf[n+i*dim+d] = center[d]
			minBuf[i*dim+d] = lo[d]
			minBuf[n*dim+i*dim+d] = -hi[d]
		}
	}

	gSum, err := com.AllReduce(sumBuf, pcl.OpSum)
	if err != nil {
		return fmt.Errorf("reducing node weights: %w", err)
	}
	gMin, err := com.AllReduce(minBuf, pcl.OpMin)
	if err != nil {
		return fmt.Errorf("reducing node boxes: %w", err)
	}

	for i := range nodes {
		tn := &nodes[i]
		tn.TotalWeight = gSum[i]
		for d := 0; d < dim; d++ {
			c := 0.
			if gSum[i] > 0 {
				c = gSum[n+i*dim+d] / gSum[i]
			}
			tn.Center = mesh.SetComponent(tn.Center, d, c)
			tn.BoxMin = mesh.SetComponent(tn.BoxMin, d, gMin[i*dim+d])
			tn.BoxMax = mesh.SetComponent(tn.BoxMax, d, -gMin[n*dim+i*dim+d])
		}
	}
	return nil
}

// getNextSplitAxis advances the round-robin split axis of the partitioner
func (p *Partitioner) getNextSplitAxis() (int, error) {
	last := p.lastSplitAxis
	if last < 0 {
		last = p.startSplitAxis - 1
	}
	axis, err := p.nextSplitAxis(last)
	if err != nil {
		return 0, err
	}
	p.lastSplitAxis = axis
	return axis, nil
}

// nextSplitAxis returns the first enabled axis after last
func (p *Partitioner) nextSplitAxis(last int) (int, error) {
	for i := 1; i <= p.dim; i++ {
		candidate := ((last+i)%p.dim + p.dim) % p.dim
		if p.splitAxisEnabled[candidate] {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("no split axis after axis %d: %w", last, ErrNoSplitAxis)
}

// longestEnabledAxis returns the enabled axis with the widest box extent
func (p *Partitioner) longestEnabledAxis(tn *TreeNode) int {
	axis := p.firstSplitAxisEnabled
	extent := func(d int) float64 {
		return mesh.Component(tn.BoxMax, d) - mesh.Component(tn.BoxMin, d)
	}
	for d := axis + 1; d < p.dim; d++ {
		if p.splitAxisEnabled[d] && extent(d) > extent(axis) {
			axis = d
		}
	}
	return axis
}

// improveSplitValues bisects the split interval of every unresolved node
// until the weights left and right of the split value match the node's
// ratio, or maxIterations rounds have passed.
func (p *Partitioner) improveSplitValues(nodes []TreeNode, maxIterations int,
	weights []float64, com pcl.Communicator) error {

	done := make([]bool, len(nodes))
	for i := range nodes {
		done[i] = nodes[i].FirstChildNode == invalidIndex || nodes[i].BisectionComplete
	}

	buf := make([]float64, len(nodes)*numBuckets)
	for iteration := 0; iteration < maxIterations; iteration++ {
		clear(buf)
		allDone := true
		for i := range nodes {
			if done[i] {
				continue
			}
			allDone = false
			tn := &nodes[i]
			b := buf[i*numBuckets : (i+1)*numBuckets]
			for j := tn.Elems.First(); j != invalidIndex; j = tn.Elems.Next(j) {
				e := tn.Elems.Elem(j)
				loc := p.classifyElem(e, tn.SplitAxis, tn.SplitValue)
				b[loc] += weights[e]
				b[bucketTotal] += weights[e]
				if loc == cutting {
					if p.elemCenter(e, tn.SplitAxis) < tn.SplitValue {
						b[bucketCuttingCenterLeft] += weights[e]
					} else {
						b[bucketCuttingCenterRight] += weights[e]
					}
				}
			}
		}

		stop, err := pcl.AllReduceBool(com, allDone)
		if err != nil {
			return fmt.Errorf("reducing split state: %w", err)
		}
		if stop {
			p.log.Debug("split values converged", zap.Int("iterations", iteration))
			break
		}

		g, err := com.AllReduce(buf, pcl.OpSum)
		if err != nil {
			return fmt.Errorf("reducing split weights: %w", err)
		}

		for i := range nodes {
			if done[i] {
				continue
			}
			tn := &nodes[i]
			b := g[i*numBuckets : (i+1)*numBuckets]
			total := b[bucketTotal]
			if total <= 0 {
				continue
			}
			leftOk := b[left]/total <= tn.RatioLeft
			rightOk := b[right]/total <= 1-tn.RatioLeft

			if !(leftOk && rightOk) {
				// would a centroid tie-break of the cutting elements do?
				ratioLeft := (b[left] + b[bucketCuttingCenterLeft]) / (total * tn.RatioLeft)
				ratioRight := (b[right] + b[bucketCuttingCenterRight]) / (total * (1 - tn.RatioLeft))
				if ratioLeft > p.tolerance && ratioRight > p.tolerance {
					done[i] = true
					continue
				}
			}

			switch {
			case !leftOk:
				tn.MaxSplitValue = tn.SplitValue
				tn.SplitValue = (tn.MinSplitValue + tn.SplitValue) / 2
			case !rightOk:
				tn.MinSplitValue = tn.SplitValue
				tn.SplitValue = (tn.SplitValue + tn.MaxSplitValue) / 2
			default:
				done[i] = true
			}
		}
	}
	return nil
}

// bisectElements moves the elements of every unresolved parent node into
// its two child nodes. Elements cut by the split plane are bisected again
// along the next enabled axis with the ratio of the weight still missing on
// either side, once per enabled axis. Afterwards the remaining cut elements
// are sorted by their centers.
func (p *Partitioner) bisectElements(children, parents []TreeNode, weights []float64,
	maxChildWeight float64, com pcl.Communicator, cutRecursion, splitAxis int) error {

	if err := p.calculateGlobalDimensions(parents, maxChildWeight, weights, com); err != nil {
		return err
	}

	for i := range parents {
		tn := &parents[i]
		if tn.BisectionComplete {
			continue
		}
		switch {
		case cutRecursion > 0:
			axis, err := p.nextSplitAxis(tn.SplitAxis)
			if err != nil {
				return err
			}
			tn.SplitAxis = axis
		case splitAxis == -1:
			tn.SplitAxis = p.longestEnabledAxis(tn)
		default:
			tn.SplitAxis = splitAxis
		}
		tn.MinSplitValue = mesh.Component(tn.BoxMin, tn.SplitAxis)
		tn.MaxSplitValue = mesh.Component(tn.BoxMax, tn.SplitAxis)
		// initial guess
		tn.SplitValue = (1-2*tn.RatioLeft)*tn.MinSplitValue +
			2*tn.RatioLeft*mesh.Component(tn.Center, tn.SplitAxis)
	}

	if err := p.improveSplitValues(parents, p.splitImproveIterations, weights, com); err != nil {
		return err
	}

	if cutRecursion >= p.numSplitAxisEnabled-1 {
		// plain bisection by element centers
		for i := range parents {
			tn := &parents[i]
			if tn.BisectionComplete {
				continue
			}
			leftOut := &children[tn.FirstChildNode].Elems
			rightOut := &children[tn.FirstChildNode+1].Elems
			for j := tn.Elems.First(); j != invalidIndex; {
				next := tn.Elems.Next(j)
				if p.elemCenter(tn.Elems.Elem(j), tn.SplitAxis) <= tn.SplitValue {
					leftOut.Add(j)
				} else {
					rightOut.Add(j)
				}
				j = next
			}
			tn.Elems.Clear()
		}
		return nil
	}

	cuts := make([]ElemList, len(parents))
	buf := make([]float64, len(parents)*numCutBuckets)
	for i := range parents {
		tn := &parents[i]
		cuts[i] = NewElemList(tn.Elems.Arena())
		if !tn.BisectionComplete {
			b := buf[i*numCutBuckets : (i+1)*numCutBuckets]
			leftOut := &children[tn.FirstChildNode].Elems
			rightOut := &children[tn.FirstChildNode+1].Elems
			for j := tn.Elems.First(); j != invalidIndex; {
				next := tn.Elems.Next(j)
				e := tn.Elems.Elem(j)
				switch p.classifyElem(e, tn.SplitAxis, tn.SplitValue) {
				case left:
					leftOut.Add(j)
					b[cutLeft] += weights[e]
				case right:
					rightOut.Add(j)
					b[cutRight] += weights[e]
				default:
					cuts[i].Add(j)
					b[cutCutting] += weights[e]
					if p.elemCenter(e, tn.SplitAxis) < tn.SplitValue {
						b[cutCenterLeft] += weights[e]
					} else {
						b[cutCenterRight] += weights[e]
					}
				}
				j = next
			}
		}
		// every entry has been relinked
		tn.Elems.Clear()
	}

	g, err := com.AllReduce(buf, pcl.OpSum)
	if err != nil {
		return fmt.Errorf("reducing bisection weights: %w", err)
	}

	for i := range parents {
		tn := &parents[i]
		if tn.BisectionComplete {
			continue
		}
		b := g[i*numCutBuckets : (i+1)*numCutBuckets]
		leftOut := &children[tn.FirstChildNode].Elems
		rightOut := &children[tn.FirstChildNode+1].Elems

		total := b[cutLeft] + b[cutRight] + b[cutCutting]
		missingLeft := tn.RatioLeft*total - b[cutLeft]
		missingRight := (1-tn.RatioLeft)*total - b[cutRight]

		switch {
		case missingLeft <= 0 && missingRight <= 0:
			// nothing missing anywhere, the heavier side takes the rest
			if b[cutLeft] >= b[cutRight] {
				moveAll(&cuts[i], leftOut)
			} else {
				moveAll(&cuts[i], rightOut)
			}
			tn.BisectionComplete = true
		case missingLeft <= 0:
			moveAll(&cuts[i], rightOut)
			tn.BisectionComplete = true
		case missingRight <= 0:
			moveAll(&cuts[i], leftOut)
			tn.BisectionComplete = true
		default:
			ratioLeft := (b[cutLeft] + b[cutCenterLeft]) / (total * tn.RatioLeft)
			ratioRight := (b[cutRight] + b[cutCenterRight]) / (total * (1 - tn.RatioLeft))
			if ratioLeft > p.tolerance && ratioRight > p.tolerance {
				for j := cuts[i].First(); j != invalidIndex; {
					next := cuts[i].Next(j)
					if p.elemCenter(cuts[i].Elem(j), tn.SplitAxis) < tn.SplitValue {
						leftOut.Add(j)
					} else {
						rightOut.Add(j)
					}
					j = next
				}
				cuts[i].Clear()
				tn.BisectionComplete = true
			}
		}

		if !tn.BisectionComplete {
			tn.RatioLeft = missingLeft / (missingLeft + missingRight)
			tn.Elems = cuts[i]
		}
	}

	return p.bisectElements(children, parents, weights, maxChildWeight, com, cutRecursion+1, splitAxis)
}

// moveAll relinks every entry of from into to and clears from
func moveAll(from, to *ElemList) {
	for j := from.First(); j != invalidIndex; {
		next := from.Next(j)
		to.Add(j)
		j = next
	}
	from.Clear()
}
