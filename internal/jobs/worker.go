// Package jobs runs the background maintenance loops of the index
// service.
package jobs

import (
	"context"
	"log"
	"time"
)

// CycleProcessor runs one maintenance cycle. Implementations own their
// per-item error handling; an error returned here aborts the cycle only,
// never the worker.
type CycleProcessor interface {
	RunCycle(ctx context.Context) error
}

// Worker runs a CycleProcessor on a fixed interval. The first cycle runs
// as soon as Start is called, so a freshly booted node sweeps its
// indexes without waiting out a full interval.
type Worker struct {
	processor CycleProcessor
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
}

// NewWorker creates a worker over the given processor.
func NewWorker(processor CycleProcessor, interval time.Duration) *Worker {
	return &Worker{
		processor: processor,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start blocks, running cycles until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	log.Printf("jobs: worker started, cycle interval %v", w.interval)
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("jobs: worker stopped, context cancelled")
			return
		case <-w.stop:
			log.Println("jobs: worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	if err := w.processor.RunCycle(ctx); err != nil {
		log.Printf("jobs: cycle failed: %v", err)
	}
}

// Stop signals the worker and waits for the in-flight cycle to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
