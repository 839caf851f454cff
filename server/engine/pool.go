// fixed worker pool: one mutex protected FIFO queue, one wake condition
package engine

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work bound to a session.
type Task func()

// Pool runs tasks on a fixed number of long-lived workers.
// With capacity 0 the queue is unbounded, otherwise Submit rejects with ErrPoolBusy when full.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	capacity int
	closed   bool

	workers errgroup.Group
	size    int
}

// NewPool starts n workers, n <= 0 means one per CPU.
func NewPool(n, capacity int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &Pool{capacity: capacity, size: n}
	p.cond = sync.NewCond(&p.mu)
	for range n {
		p.workers.Go(p.work)
	}
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Pending is the number of queued tasks that no worker picked up yet.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Submit appends t to the queue and wakes one idle worker.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.capacity > 0 && len(p.queue) >= p.capacity {
		p.mu.Unlock()
		return ErrPoolBusy
	}

	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Close stops accepting tasks, wakes every worker and waits for them.
// Workers finish the task they already popped; queued tasks are dropped.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	clear(p.queue)
	p.queue = nil
	p.mu.Unlock()

	p.cond.Broadcast()
	return p.workers.Wait()
}

func (p *Pool) work() error {
	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return nil
		}

		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		t()

		p.mu.Lock()
	}
}
