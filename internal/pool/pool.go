// Package pool schedules the recurring sync flows. Jobs run in deadline
// order on a fixed number of goroutines; each run returns the deadline of
// the next run, and a zero deadline removes the job.
package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type Pool struct {
	mu    sync.Mutex
	queue []*job
	reg   map[string]*job
	wait  chan struct{}
}

type job struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

func New(workers int) *Pool {
	pool := Pool{reg: make(map[string]*job)}

	for range workers {
		go pool.work()
	}

	return &pool
}

// Add registers a job and schedules its first run immediately.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&job{name: name, fn: fn, deadline: time.Now()})
}

func (p *Pool) work() {
	for {
		ctx := context.Background()
		p.enqueue(p.dequeue().run(ctx))
	}
}

// Trigger moves the named job's deadline to now. A job that is queued jumps
// to the front; a job that is running at the moment gets one immediate
// re-run after the current run, then falls back to the deadlines its fn
// returns.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(j *job) bool { return j.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	// not queued, so it must be running
	if j, ok := p.reg[n]; ok {
		j.rerun = true
		return nil
	}

	return fmt.Errorf("no job with name %s", n)
}

// sortAndWake must be called with p.mu held.
func (p *Pool) sortAndWake() {
	slices.SortFunc(p.queue, func(a, b *job) int {
		return a.deadline.Compare(b.deadline)
	})

	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(j *job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if j.deadline.IsZero() {
		// Job requested removal from the pool. Trigger may be walking the
		// registry concurrently, so this needs the lock too.
		delete(p.reg, j.name)
		return
	}

	p.reg[j.name] = j
	p.queue = append(p.queue, j)
	p.sortAndWake()
}

func (p *Pool) dequeue() *job {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		var j *job
		if len(p.queue) == 0 {
			j = &job{name: "idle", deadline: time.Now().Add(time.Hour * 24 * 365)}
		} else {
			j = p.queue[0]
		}

		if j.deadline.After(time.Now()) {
			// Not due yet. Wait until it is, or until an earlier job arrives.

			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			select {
			case <-time.After(time.Until(j.deadline)):
			case <-wait:
			}

			p.mu.Lock()
			continue
		}

		break
	}

	var j *job
	j, p.queue = p.queue[0], p.queue[1:]
	return j
}

func (j *job) run(ctx context.Context) *job {
	j.deadline = j.fn(ctx)
	if j.rerun {
		j.rerun = false
		j.deadline = time.Now()
	}
	return j
}
