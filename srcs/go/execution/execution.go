// Package execution runs per-rank work on dedicated goroutines, modeling one
// host thread driving each device.
package execution

import (
	"golang.org/x/sync/errgroup"
)

// Par runs f once per rank in [0, n) in parallel and returns the first error.
func Par(n int, f func(rank int) error) error {
	g := new(errgroup.Group)
	for rank := 0; rank < n; rank++ {
		rank := rank
		g.Go(func() error {
			return f(rank)
		})
	}
	return g.Wait()
}

// Seq runs f once per rank in [0, n) in order, stopping at the first error.
func Seq(n int, f func(rank int) error) error {
	for rank := 0; rank < n; rank++ {
		if err := f(rank); err != nil {
			return err
		}
	}
	return nil
}
