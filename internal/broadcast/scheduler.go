package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBadBatchSize reports an invalid batch size before any delivery happens.
var ErrBadBatchSize = errors.New("batch size must be positive")

// runBatches partitions targets into contiguous chunks of opt.BatchSize and
// processes the chunks strictly in order. Within a chunk every delivery runs
// concurrently and the scheduler does not advance until all of them have a
// terminal outcome. The inter-batch delay is paid once per batch (never after
// the last) regardless of how fast the batch completed.
//
// Outcomes are written into a pre-sized slice by index, so workers never
// share counters. The returned done count says how many targets were handed
// to a worker; on cancellation the remainder of outcomes is left zero-valued
// for the caller to mark skipped.
func runBatches(ctx context.Context, n int, opt Options, run func(i int)) (done int, err error) {
	if opt.BatchSize <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadBatchSize, opt.BatchSize)
	}
	if n == 0 {
		return 0, nil
	}

	for start := 0; start < n; start += opt.BatchSize {
		if err := ctx.Err(); err != nil {
			return start, err
		}

		end := start + opt.BatchSize
		if end > n {
			end = n
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		// In-flight sends are allowed to settle even when ctx is cancelled;
		// they observe the context themselves.
		wg.Wait()
		done = end

		if end >= n || opt.BatchDelay <= 0 {
			continue
		}
		tmr := time.NewTimer(opt.BatchDelay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return done, ctx.Err()
		case <-tmr.C:
		}
	}
	return done, nil
}
