// Package workers provides a fixed-size pool of goroutines executing
// submitted tasks.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const DefaultSize = 4

// Task is a unit of work. The context is the one given on submission.
type Task func(ctx context.Context)

type job struct {
	ctx       context.Context
	task      Task
	submitted time.Time
}

// Pool runs tasks on a fixed number of goroutines. Submitting blocks when
// every worker is busy and the queue is full.
type Pool struct {
	size  int
	tasks chan job
	wg    sync.WaitGroup

	mutex  sync.RWMutex
	closed bool
}

// NewPool starts a pool of size workers sharing a queue of the given
// capacity.
func NewPool(size, queue int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if queue < 0 {
		queue = 0
	}

	p := &Pool{
		size:  size,
		tasks: make(chan job, queue),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work(i)
	}
	return p
}

func (p *Pool) Size() int {
	return p.size
}

// Submit queues a task. It fails once the pool is closed or when ctx is
// done before the task could be queued.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.closed {
		return errors.New("worker pool is closed").WithType(models.ErrTypePoolClosed)
	}

	select {
	case p.tasks <- job{ctx: ctx, task: task, submitted: time.Now()}:
		queueLength.Inc()
		return nil

	case <-ctx.Done():
		return errors.New("submitting task failed").Wrap(ctx.Err())
	}
}

// Close stops accepting tasks and waits for the queued ones to complete.
func (p *Pool) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mutex.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(worker int) {
	defer p.wg.Done()

	for j := range p.tasks {
		queueLength.Dec()
		instrumentWait(time.Since(j.submitted))
		p.run(worker, j)
	}
}

func (p *Pool) run(worker int, j job) {
	defer func() {
		if r := recover(); r != nil {
			tasksPanicked.Inc()
			logs.WithTag("worker", worker).
				Error(errors.New("task panicked").Wrap(fmt.Errorf("%v", r)))
		}
	}()

	j.task(j.ctx)
	tasksCompleted.Inc()
}
