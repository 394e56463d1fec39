package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleek-network/latency-measure/internal/measure"
)

// DefaultPoolSize bounds concurrent probes when no explicit size is given.
const DefaultPoolSize = 32

type runFunc func(ctx context.Context, target string) (measure.Response, error)

type job struct {
	ctx    context.Context
	target string
	result chan outcome
}

type outcome struct {
	sample measure.Response
	err    error
}

// Pool executes probes on a fixed set of executor goroutines, keeping the
// blocking socket work off the goroutines that accept and decode requests.
// Submit blocks while every executor is busy, which bounds the number of
// probes in flight.
type Pool struct {
	jobs chan job
	done chan struct{}
	run  runFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewPool(size int, opts Options) *Pool {
	return newPool(size, func(ctx context.Context, target string) (measure.Response, error) {
		return Run(ctx, target, opts)
	})
}

func newPool(size int, run runFunc) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}

	p := &Pool{
		jobs: make(chan job),
		done: make(chan struct{}),
		run:  run,
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.executor()
	}

	return p
}

func (p *Pool) executor() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.result <- p.execute(j)
		case <-p.done:
			return
		}
	}
}

// execute isolates a single probe. A panic inside the probe is confined to
// this call and reported as a task failure; the executor keeps serving.
func (p *Pool) execute(j job) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: measure.NewTaskFailure(fmt.Sprintf("probe crashed: %v", r))}
		}
	}()

	sample, err := p.run(j.ctx, j.target)
	return outcome{sample: sample, err: err}
}

// Submit hands a probe to the pool and waits for its asynchronous result.
func (p *Pool) Submit(ctx context.Context, target string) (measure.Response, error) {
	result := make(chan outcome, 1)

	select {
	case p.jobs <- job{ctx: ctx, target: target, result: result}:
	case <-p.done:
		return measure.Response{}, measure.NewTaskFailure("probe pool is shut down")
	case <-ctx.Done():
		return measure.Response{}, measure.NewTaskFailure("gave up waiting for a free probe executor: " + ctx.Err().Error())
	}

	out := <-result
	return out.sample, out.err
}

// Close stops accepting probes and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
