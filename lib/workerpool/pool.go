package workerpool

import (
	"errors"
	"sync"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Pool runs submitted work on a fixed number of goroutines.
type Pool struct {
	workers int
	jobs    chan func()
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{
		workers: workers,
		jobs:    make(chan func()),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}

	return p
}

func (p *Pool) Workers() int {
	return p.workers
}

// Do runs fn on one of the pool workers and blocks until it returns.
func (p *Pool) Do(fn func()) error {
	done := make(chan struct{})

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}

	p.jobs <- func() {
		defer close(done)
		fn()
	}
	p.mu.RUnlock()

	<-done
	return nil
}

// Stop refuses new work and waits for every accepted job to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()

	for job := range p.jobs {
		job()
	}
}
