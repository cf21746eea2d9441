package pcl

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrAborted = errors.New("local world aborted")

var (
	_ Communicator          = (*LocalComm)(nil)
	_ Grouper               = (*LocalComm)(nil)
	_ InterfaceCommunicator = (*LocalComm)(nil)
)

// LocalWorld simulates a set of SPMD processes inside one OS process. Each
// simulated process owns one LocalComm and runs on its own goroutine.
type LocalWorld struct {
	size    int
	aborted atomic.Bool

	mu        sync.Mutex
	groups    map[string]*group
	mailboxes map[[2]int]*mailbox
}

// NewLocalWorld creates a world of size processes
func NewLocalWorld(size int) *LocalWorld {
	if size < 1 {
		size = 1
	}
	return &LocalWorld{
		size:      size,
		groups:    make(map[string]*group),
		mailboxes: make(map[[2]int]*mailbox),
	}
}

// NewSerial returns the communicator of a single-process world
func NewSerial() *LocalComm {
	return NewLocalWorld(1).Comm(0)
}

func (w *LocalWorld) Size() int { return w.size }

// Comm returns the world communicator of the given rank
func (w *LocalWorld) Comm(rank int) *LocalComm {
	members := make([]int, w.size)
	for i := range members {
		members[i] = i
	}
	return w.newComm(rank, members)
}

// Abort wakes every blocked process. Pending and future collectives fail
// with ErrAborted.
func (w *LocalWorld) Abort() {
	w.aborted.Store(true)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, g := range w.groups {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	}
	for _, m := range w.mailboxes {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

func (w *LocalWorld) newComm(worldRank int, members []int) *LocalComm {
	c := &LocalComm{world: w, worldRank: worldRank, rank: -1}
	if i := slices.Index(members, worldRank); i >= 0 {
		c.group = w.group(members)
		c.rank = i
	}
	return c
}

func (w *LocalWorld) group(members []int) *group {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = strconv.Itoa(m)
	}
	key := strings.Join(keys, ",")

	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.groups[key]
	if !ok {
		g = &group{world: w, size: len(members)}
		g.cond = sync.NewCond(&g.mu)
		w.groups[key] = g
	}
	return g
}

func (w *LocalWorld) mailbox(from, to int) *mailbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := [2]int{from, to}
	m, ok := w.mailboxes[key]
	if !ok {
		m = &mailbox{world: w}
		m.cond = sync.NewCond(&m.mu)
		w.mailboxes[key] = m
	}
	return m
}

// group is the shared rendezvous of one process group. Contributions are
// stored by group rank and combined in rank order, so results don't depend
// on goroutine scheduling.
type group struct {
	world *LocalWorld
	size  int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     uint64
	arrived int
	contrib [][]float64
	ops     []ReduceOp

	result []float64
	err    error
}

func (g *group) allReduce(rank int, in []float64, op ReduceOp) ([]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.world.aborted.Load() {
		return nil, ErrAborted
	}
	if g.arrived == 0 {
		g.contrib = make([][]float64, g.size)
		g.ops = make([]ReduceOp, g.size)
	}
	g.contrib[rank] = append([]float64(nil), in...)
	g.ops[rank] = op
	g.arrived++
	gen := g.gen

	if g.arrived == g.size {
		g.result, g.err = reduceContributions(g.contrib, g.ops)
		g.arrived = 0
		g.contrib = nil
		g.gen++
		g.cond.Broadcast()
	} else {
		for g.gen == gen && !g.world.aborted.Load() {
			g.cond.Wait()
		}
		if g.gen == gen {
			return nil, ErrAborted
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return append([]float64(nil), g.result...), nil
}

func reduceContributions(contrib [][]float64, ops []ReduceOp) ([]float64, error) {
	acc := append([]float64(nil), contrib[0]...)
	for r := 1; r < len(contrib); r++ {
		if len(contrib[r]) != len(acc) || ops[r] != ops[0] {
			return nil, fmt.Errorf("rank %d sent %d values with %v, rank 0 sent %d with %v: %w",
				r, len(contrib[r]), ops[r], len(acc), ops[0], ErrBufferMismatch)
		}
		combine(acc, contrib[r], ops[0])
	}
	return acc, nil
}

type mailbox struct {
	world *LocalWorld
	mu    sync.Mutex
	cond  *sync.Cond
	msgs  [][]float64
}

func (m *mailbox) push(data []float64) {
	m.mu.Lock()
	m.msgs = append(m.msgs, data)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *mailbox) pop() ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.msgs) == 0 {
		if m.world.aborted.Load() {
			return nil, ErrAborted
		}
		m.cond.Wait()
	}
	data := m.msgs[0]
	m.msgs = m.msgs[1:]
	return data, nil
}

type scheduled struct {
	layout Layout
	policy Policy
}

// LocalComm is one simulated process' view of a LocalWorld. It implements
// Communicator for its group and InterfaceCommunicator for point-to-point
// exchange with any process of the world.
type LocalComm struct {
	world     *LocalWorld
	worldRank int
	group     *group
	rank      int

	sends []scheduled
	recvs []scheduled

	allReduceCalls atomic.Int64
}

func (c *LocalComm) Rank() int { return c.rank }

// WorldRank is the rank of the calling process in the whole world
func (c *LocalComm) WorldRank() int { return c.worldRank }

func (c *LocalComm) Size() int {
	if c.group == nil {
		return 0
	}
	return c.group.size
}

func (c *LocalComm) Empty() bool { return c.group == nil }

func (c *LocalComm) World() *LocalWorld { return c.world }

// AllReduceCalls returns the number of collectives this process issued
func (c *LocalComm) AllReduceCalls() int { return int(c.allReduceCalls.Load()) }

func (c *LocalComm) AllReduce(in []float64, op ReduceOp) ([]float64, error) {
	if c.group == nil {
		return nil, ErrNotMember
	}
	c.allReduceCalls.Add(1)
	return c.group.allReduce(c.rank, in, op)
}

// Split returns a communicator over the given world ranks. Processes not
// listed get an empty communicator. Every listed process has to call Split
// with the same set of ranks.
func (c *LocalComm) Split(worldRanks []int) *LocalComm {
	members := append([]int(nil), worldRanks...)
	sort.Ints(members)
	members = slices.Compact(members)
	return c.world.newComm(c.worldRank, members)
}

func (c *LocalComm) WorldSize() int { return c.world.size }

func (c *LocalComm) Group(worldRanks []int) Communicator {
	return c.Split(worldRanks)
}

func (c *LocalComm) SendData(l Layout, p Policy) {
	c.sends = append(c.sends, scheduled{layout: l, policy: p})
}

func (c *LocalComm) ReceiveData(l Layout, p Policy) {
	c.recvs = append(c.recvs, scheduled{layout: l, policy: p})
}

func (c *LocalComm) Communicate() error {
	sends, recvs := c.sends, c.recvs
	c.sends, c.recvs = nil, nil
	for _, s := range sends {
		for _, itf := range s.layout {
			c.world.mailbox(c.worldRank, itf.Remote).push(s.policy.Collect(itf))
		}
	}
	for _, r := range recvs {
		for _, itf := range r.layout {
			data, err := c.world.mailbox(itf.Remote, c.worldRank).pop()
			if err != nil {
				return err
			}
			if err = r.policy.Extract(itf, data); err != nil {
				return fmt.Errorf("extracting data from process %d: %w", itf.Remote, err)
			}
		}
	}
	return nil
}
