package tiering

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Pool is a bounded goroutine pool for running independent per-entry
// compression jobs concurrently during a large TransitionTiers batch,
// adapted from the background summarization worker: a fixed number of
// goroutines drain a job queue and the caller blocks until all work
// completes, rather than firing and forgetting.
type Pool struct {
	size int
}

// NewPool returns a Pool with the given number of worker goroutines. A
// size <= 1 means Run executes inline on the caller's goroutine.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Run calls fn(i) for every i in [0, n), fanned out across the pool, and
// blocks until every call has returned. This is the facade's "MAY use
// internal parallelism... MUST present a serial view" contract: Run never
// returns early, so transition_tiers remains synchronous from the caller.
func (p *Pool) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if p.size <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := p.size
	if workers > n {
		workers = n
	}

	log.Debug().Int("workers", workers).Int("jobs", n).Msg("tiering: dispatching compression batch")

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
