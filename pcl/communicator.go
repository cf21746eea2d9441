// Package pcl is the process communication layer used by the load balancer:
// blocking collective reductions over process groups and scoped
// send/receive over interface layouts.
//
// All operations are synchronous barrier points. Every member of a
// communicator has to call the same sequence of collectives; mismatched
// participation blocks forever.
package pcl

import (
	"errors"
	"fmt"
	"gonum.org/v1/gonum/floats"
	"math"
)

type ReduceOp uint8

const (
	OpSum ReduceOp = iota
	OpMin
	OpMax
	// OpLAnd treats every non-zero value as true
	OpLAnd
)

func (op ReduceOp) String() string {
	switch op {
	case OpSum:
		return "SUM"
	case OpMin:
		return "MIN"
	case OpMax:
		return "MAX"
	case OpLAnd:
		return "LAND"
	}
	return fmt.Sprintf("ReduceOp(%d)", uint8(op))
}

var (
	ErrBufferMismatch = errors.New("collective buffers differ in length or operation")
	ErrNotMember      = errors.New("process is not a member of the communicator")
)

// Communicator performs collective reductions over a fixed group of
// processes
type Communicator interface {
	// Rank is the rank of the calling process inside the group
	Rank() int
	Size() int
	// Empty reports that the calling process does not belong to the group.
	// Collectives on an empty communicator must not be called.
	Empty() bool
	AllReduce(in []float64, op ReduceOp) ([]float64, error)
}

// Grouper is implemented by communicators that can form sub-groups of
// their world
type Grouper interface {
	WorldRank() int
	WorldSize() int
	// Group returns a communicator over the given world ranks. Processes
	// not listed get an empty communicator. Every listed process has to call
	// Group with the same set of ranks.
	Group(worldRanks []int) Communicator
}

// AllReduceFloat reduces a single value
func AllReduceFloat(com Communicator, v float64, op ReduceOp) (float64, error) {
	out, err := com.AllReduce([]float64{v}, op)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// AllReduceInt reduces a single integer. Values must be exactly
// representable as float64.
func AllReduceInt(com Communicator, v int, op ReduceOp) (int, error) {
	out, err := AllReduceFloat(com, float64(v), op)
	if err != nil {
		return 0, err
	}
	return int(math.Round(out)), nil
}

// AllReduceBool reduces a flag with logical AND
func AllReduceBool(com Communicator, v bool) (bool, error) {
	f := 0.
	if v {
		f = 1
	}
	out, err := AllReduceFloat(com, f, OpLAnd)
	if err != nil {
		return false, err
	}
	return out != 0, nil
}

// combine folds src into acc in place
func combine(acc, src []float64, op ReduceOp) {
	switch op {
	case OpSum:
		floats.Add(acc, src)
	case OpMin:
		for i := range acc {
			acc[i] = math.Min(acc[i], src[i])
		}
	case OpMax:
		for i := range acc {
			acc[i] = math.Max(acc[i], src[i])
		}
	case OpLAnd:
		for i := range acc {
			if acc[i] != 0 && src[i] != 0 {
				acc[i] = 1
			} else {
				acc[i] = 0
			}
		}
	}
}
