package partitions

import "errors"

var (
	// ErrNoSplitAxis is returned when every split axis is disabled but more
	// than one target process is requested
	ErrNoSplitAxis = errors.New("all split axes are disabled but more than one target process is requested")
	// ErrNoGrid is returned by Partition when the partitioner has no grid
	ErrNoGrid = errors.New("no grid was specified, partitioning can't be executed")
	// ErrInvalidHierarchy reports a process hierarchy whose grid base levels
	// decrease or whose process counts are invalid
	ErrInvalidHierarchy = errors.New("invalid process hierarchy")
)
