package partitions

import (
	"fmt"
	"github.com/notargets/DGBalance/mesh"
	"github.com/notargets/DGBalance/pcl"
)

// copyWeights overwrites the weights of receiving copies with the values of
// the sending copies
type copyWeights []float64

func (w copyWeights) Collect(itf pcl.Interface) []float64 {
	out := make([]float64, len(itf.Elems))
	for i, e := range itf.Elems {
		out[i] = w[e]
	}
	return out
}

func (w copyWeights) Extract(itf pcl.Interface, data []float64) error {
	if len(data) != len(itf.Elems) {
		return fmt.Errorf("%d weights for %d elements from process %d: %w",
			len(data), len(itf.Elems), itf.Remote, pcl.ErrBufferMismatch)
	}
	for i, e := range itf.Elems {
		w[e] = data[i]
	}
	return nil
}

// copyPartitions overwrites the partitions of receiving copies
type copyPartitions struct {
	pm *PartitionMap
}

func (c copyPartitions) Collect(itf pcl.Interface) []float64 {
	out := make([]float64, len(itf.Elems))
	for i, e := range itf.Elems {
		out[i] = float64(c.pm.Get(mesh.ElementID(e)))
	}
	return out
}

func (c copyPartitions) Extract(itf pcl.Interface, data []float64) error {
	if len(data) != len(itf.Elems) {
		return fmt.Errorf("%d partitions for %d elements from process %d: %w",
			len(data), len(itf.Elems), itf.Remote, pcl.ErrBufferMismatch)
	}
	for i, e := range itf.Elems {
		c.pm.Assign(mesh.ElementID(e), int(data[i]))
	}
	return nil
}

// exchange runs one communication round from the copies of kind from to the
// copies of kind to on a grid level. Processes without a distributed grid
// or interface communicator skip it.
func (p *Partitioner) exchange(from, to mesh.InterfaceKind, lvl int, policy pcl.Policy) error {
	if p.dgm == nil || p.icom == nil {
		return nil
	}
	if p.dgm.HasLayout(from) {
		p.icom.SendData(p.dgm.LayoutOnLevel(from, lvl), policy)
	}
	if p.dgm.HasLayout(to) {
		p.icom.ReceiveData(p.dgm.LayoutOnLevel(to, lvl), policy)
	}
	if err := p.icom.Communicate(); err != nil {
		return fmt.Errorf("%v to %v copy on level %d: %w", from, to, lvl, err)
	}
	return nil
}
