// Package collect drives sampling runs against a set of measurement
// workers and gathers the per-worker sample series.
package collect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleek-network/latency-measure/internal/logging"
	"github.com/fleek-network/latency-measure/internal/measure"
)

// Options configure a sampling run.
type Options struct {
	// Times is the number of samples taken per worker and target.
	Times int
	// Delay is the pause between consecutive calls in sequential mode.
	Delay time.Duration
	// Flood dispatches every repetition for every worker at once instead
	// of sampling sequentially. Delay is ignored.
	Flood bool
	// Progress, when set, is called after every finished measurement call
	// with the number of calls done and the total planned. Calls are
	// serialized, also under flood.
	Progress func(done, total int)
}

// WorkerResult holds everything gathered from one worker. Err is the
// first failure; the series keep the samples that arrived before it.
type WorkerResult struct {
	Worker     string
	Target     []measure.Response
	Comparison []measure.Response
	Err        error
}

// Run is the read-only outcome of one sampling run.
type Run struct {
	ID         string
	Target     measure.RequestSpec
	Comparison *measure.RequestSpec
	Results    []WorkerResult
	Times      int
	Flood      bool
	Started    time.Time
	Finished   time.Time
}

type Collector struct {
	client *Client
	opts   Options
	logger *logrus.Logger
}

func NewCollector(client *Client, opts Options) *Collector {
	return &Collector{
		client: client,
		opts:   opts,
		logger: logging.GetLogger(),
	}
}

// Run validates the request spec and then samples every worker in list
// order. Validation failures surface before any network call. A failing
// worker marks only its own result; the remaining workers still run.
//
// The comparison URL, when given, is measured with the same method,
// headers and body as the target.
func (c *Collector) Run(ctx context.Context, target measure.RequestSpec, comparisonURL string, workers []string) (*Run, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:      uuid.NewString(),
		Target:  target,
		Results: make([]WorkerResult, 0, len(workers)),
		Times:   c.opts.Times,
		Flood:   c.opts.Flood,
		Started: time.Now(),
	}
	if comparisonURL != "" {
		comp := target
		comp.URL = comparisonURL
		run.Comparison = &comp
	}

	total := len(workers) * c.opts.Times
	if run.Comparison != nil {
		total *= 2
	}
	tick := c.progress(total)

	if c.opts.Flood {
		c.flood(ctx, run, workers, tick)
	} else {
		c.sequential(ctx, run, workers, tick)
	}

	run.Finished = time.Now()
	return run, nil
}

func (c *Collector) progress(total int) func() {
	if c.opts.Progress == nil {
		return func() {}
	}
	var mu sync.Mutex
	done := 0
	return func() {
		mu.Lock()
		done++
		c.opts.Progress(done, total)
		mu.Unlock()
	}
}

func (c *Collector) sequential(ctx context.Context, run *Run, workers []string, tick func()) {
	for _, worker := range workers {
		res := WorkerResult{Worker: worker}

		c.logger.WithField("worker", worker).Info("Measuring target")
		series, err := c.series(ctx, worker, run.Target, tick)
		res.Target = series
		if err != nil {
			res.Err = fmt.Errorf("target series: %w", err)
		}

		if res.Err == nil && run.Comparison != nil {
			c.logger.WithField("worker", worker).Info("Measuring comparison")
			series, err := c.series(ctx, worker, *run.Comparison, tick)
			res.Comparison = series
			if err != nil {
				res.Err = fmt.Errorf("comparison series: %w", err)
			}
		}

		if res.Err != nil {
			c.logger.WithField("worker", worker).WithError(res.Err).Warn("Worker failed")
		}
		run.Results = append(run.Results, res)
	}
}

// series performs the repeated calls for one worker and spec, appending
// each sample as it arrives. On failure the samples gathered so far are
// returned together with the error.
func (c *Collector) series(ctx context.Context, worker string, spec measure.RequestSpec, tick func()) ([]measure.Response, error) {
	series := make([]measure.Response, 0, c.opts.Times)
	for i := 0; i < c.opts.Times; i++ {
		if i > 0 && c.opts.Delay > 0 {
			time.Sleep(c.opts.Delay)
		}

		sample, err := c.client.Measure(ctx, worker, spec)
		tick()
		if err != nil {
			return series, err
		}
		series = append(series, sample)
	}
	return series, nil
}

// flood dispatches every repetition for every worker and target at once
// and joins all outcomes before folding them into results. Each sample
// lands in its dispatch slot, so series order still matches call order.
func (c *Collector) flood(ctx context.Context, run *Run, workers []string, tick func()) {
	type slot struct {
		sample measure.Response
		err    error
	}

	targets := make([][]slot, len(workers))
	var comparisons [][]slot
	if run.Comparison != nil {
		comparisons = make([][]slot, len(workers))
	}

	var wg sync.WaitGroup
	dispatch := func(slots []slot, worker string, spec measure.RequestSpec) {
		for i := range slots {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				slots[i].sample, slots[i].err = c.client.Measure(ctx, worker, spec)
				tick()
			}(i)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"workers": len(workers),
		"times":   c.opts.Times,
	}).Info("Flooding workers")

	for wi, worker := range workers {
		targets[wi] = make([]slot, c.opts.Times)
		dispatch(targets[wi], worker, run.Target)
		if run.Comparison != nil {
			comparisons[wi] = make([]slot, c.opts.Times)
			dispatch(comparisons[wi], worker, *run.Comparison)
		}
	}
	wg.Wait()

	fold := func(slots []slot) ([]measure.Response, error) {
		series := make([]measure.Response, 0, len(slots))
		var firstErr error
		for _, s := range slots {
			if s.err != nil {
				if firstErr == nil {
					firstErr = s.err
				}
				continue
			}
			series = append(series, s.sample)
		}
		return series, firstErr
	}

	for wi, worker := range workers {
		res := WorkerResult{Worker: worker}

		series, err := fold(targets[wi])
		res.Target = series
		if err != nil {
			res.Err = fmt.Errorf("target series: %w", err)
		}

		if run.Comparison != nil {
			series, err := fold(comparisons[wi])
			res.Comparison = series
			if err != nil && res.Err == nil {
				res.Err = fmt.Errorf("comparison series: %w", err)
			}
		}

		if res.Err != nil {
			c.logger.WithField("worker", worker).WithError(res.Err).Warn("Worker failed")
		}
		run.Results = append(run.Results, res)
	}
}
