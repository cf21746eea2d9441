package pcl

import (
	"fmt"
	"golang.org/x/sync/errgroup"
)

// RunLocal executes fn as an SPMD program on n simulated processes and
// waits for all of them. The first error aborts the world so that
// processes blocked in collectives return instead of hanging.
func RunLocal(n int, fn func(com *LocalComm) error) error {
	w := NewLocalWorld(n)
	var g errgroup.Group
	for rank := 0; rank < w.Size(); rank++ {
		com := w.Comm(rank)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("process %d panicked: %v", rank, r)
				}
				if err != nil {
					w.Abort()
				}
			}()
			if err = fn(com); err != nil {
				return fmt.Errorf("process %d: %w", rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}
