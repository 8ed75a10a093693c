package call

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPoolSize is the number of tasks that may run at once.
const DefaultPoolSize = 8

// Pool runs short background tasks with bounded concurrency. Submitting never
// blocks the caller; tasks queue on the semaphore instead.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a pool running at most size tasks concurrently.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go schedules fn. A panic in fn is recovered and logged.
func (p *Pool) Go(fn func()) {
	p.run(fn, nil, nil)
}

func (p *Pool) run(fn func(), group *sync.WaitGroup, onPanic func(any)) {
	p.wg.Add(1)
	if group != nil {
		group.Add(1)
	}
	go func() {
		defer p.wg.Done()
		if group != nil {
			defer group.Done()
		}

		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		defer func() {
			if rec := recover(); rec != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Pool.run",
					"panic":    rec,
				}).Error("Background task panicked")
				if onPanic != nil {
					onPanic(rec)
				}
			}
		}()

		fn()
	}()
}

// Wait blocks until every submitted task has finished or timeout elapses. It
// reports whether all tasks finished.
func (p *Pool) Wait(timeout time.Duration) bool {
	return waitTimeout(&p.wg, timeout)
}

// Group returns a task group whose tasks run on p.
func (p *Pool) Group(onPanic func(any)) *TaskGroup {
	return &TaskGroup{pool: p, onPanic: onPanic}
}

// TaskGroup tracks the tasks of one session so teardown can wait for them.
type TaskGroup struct {
	pool    *Pool
	wg      sync.WaitGroup
	onPanic func(any)
}

// Go schedules fn on the pool as part of the group.
func (g *TaskGroup) Go(fn func()) {
	g.pool.run(fn, &g.wg, g.onPanic)
}

// Wait blocks until the group's tasks finish or timeout elapses.
func (g *TaskGroup) Wait(timeout time.Duration) bool {
	return waitTimeout(&g.wg, timeout)
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
