package jobpool

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Job is the view of a dispatched job the pool needs.
type Job interface {
	ID() string
	Name() string
	Directory() string
	Status() Status
	Kill()
	StartTime() time.Time
	RunningTime() time.Duration
	// OnStatusChanged registers fn to be called after every status change
	// and returns a function that unregisters it.
	OnStatusChanged(fn func(Job, Status)) (unsubscribe func())
}

// Pool is an ordered registry of jobs. Mutations and the notifications they
// trigger are serialized, so observers see events in the order they happen.
type Pool struct {
	mu       sync.Mutex
	jobs     []Job
	nextSub  int
	added    map[int]func(Job)
	removed  map[int]func(Job)
	notifyMu sync.Mutex
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		added:   make(map[int]func(Job)),
		removed: make(map[int]func(Job)),
	}
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the process-wide pool.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = New()
	})
	return defaultPool
}

// Add appends job. Adding a job that is already present does nothing.
func (p *Pool) Add(job Job) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if slices.Contains(p.jobs, job) {
		p.mu.Unlock()
		return
	}
	p.jobs = append(p.jobs, job)
	observers := observersOf(p.added)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(job)
	}
}

// Remove drops job, reporting whether it was present.
func (p *Pool) Remove(job Job) bool {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	i := slices.Index(p.jobs, job)
	if i < 0 {
		p.mu.Unlock()
		return false
	}
	p.jobs = slices.Delete(p.jobs, i, i+1)
	observers := observersOf(p.removed)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(job)
	}
	return true
}

// Jobs returns the jobs in the order they were added.
func (p *Pool) Jobs() []Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.jobs)
}

// Get returns the job with the given id.
func (p *Pool) Get(id string) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range p.jobs {
		if job.ID() == id {
			return job, true
		}
	}
	return nil, false
}

// OnJobAdded registers fn for every future Add.
func (p *Pool) OnJobAdded(fn func(Job)) (unsubscribe func()) {
	return p.subscribe(p.added, fn)
}

// OnJobRemoved registers fn for every future Remove.
func (p *Pool) OnJobRemoved(fn func(Job)) (unsubscribe func()) {
	return p.subscribe(p.removed, fn)
}

func (p *Pool) subscribe(set map[int]func(Job), fn func(Job)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	set[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(set, id)
	}
}

// observersOf returns the registered functions in subscription order. The
// caller must hold p.mu.
func observersOf(set map[int]func(Job)) []func(Job) {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Job), 0, len(ids))
	for _, id := range ids {
		out = append(out, set[id])
	}
	return out
}

// WaitForAll polls until every job in the pool is terminal or ctx is done.
func (p *Pool) WaitForAll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if p.allTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) allTerminal() bool {
	for _, job := range p.Jobs() {
		if !job.Status().Terminal() {
			return false
		}
	}
	return true
}

// KillAll kills every job that has not finished yet.
func (p *Pool) KillAll() {
	for _, job := range p.Jobs() {
		if !job.Status().Terminal() {
			job.Kill()
		}
	}
}
