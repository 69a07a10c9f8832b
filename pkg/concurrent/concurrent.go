package concurrent

import (
	"github.com/zeusync/blip/pkg/sequence"
	"golang.org/x/sync/errgroup"
)

// Concurrent runs action for each element of the iterator in a separate
// goroutine and waits for all of them to finish. If action returns an
// error, Concurrent returns the first error encountered; the rest of the
// goroutines still run to completion.
func Concurrent[T any](i *sequence.Iterator[T], action func(T) error) error {
	errGroup := errgroup.Group{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		errGroup.Go(func() error {
			return action(value)
		})
	}

	return errGroup.Wait()
}
