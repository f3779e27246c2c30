// Package fanout runs a transform over a slice with a fixed number of workers.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"
)

// Map applies fn to every item using at most limit workers and returns the
// results in input order. Workers claim indexes from a shared cursor, so
// completion order does not matter.
//
// fn is responsible for its own error handling: whatever it returns for an
// item is what lands in that item's slot.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(items) {
		limit = len(items)
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < limit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return
				}
				out[i] = fn(ctx, items[i])
			}
		}()
	}
	wg.Wait()
	return out
}
