package pcl

// Interface lists local element slots shared with one remote process. The
// remote process holds a matching Interface whose slots appear in the same
// order.
type Interface struct {
	Remote int // world rank of the remote process
	Elems  []int
}

// Layout is the set of interfaces of one kind on one grid level
type Layout []Interface

// NumSlots returns the total number of elements in all interfaces
func (l Layout) NumSlots() int {
	n := 0
	for _, itf := range l {
		n += len(itf.Elems)
	}
	return n
}

// Policy gathers values to send and scatters received values for the slots
// of an interface
type Policy interface {
	Collect(itf Interface) []float64
	Extract(itf Interface, data []float64) error
}

// InterfaceCommunicator schedules sends and receives over layouts and
// exchanges all scheduled data in Communicate. Communicate blocks until
// every scheduled receive completed.
type InterfaceCommunicator interface {
	SendData(l Layout, p Policy)
	ReceiveData(l Layout, p Policy)
	Communicate() error
}
