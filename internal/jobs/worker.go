// Package jobs runs background corpus synchronization. A Worker rescans the
// configured document source on an interval; the sync itself is also
// triggered on demand by the API and by the filesystem watcher.
package jobs

import (
	"context"
	"log"
	"time"
)

// Processor defines the interface for the unit of work a Worker runs each tick
type Processor interface {
	Process(ctx context.Context) error
}

// Worker runs a Processor on a fixed interval
type Worker struct {
	processor Processor
	interval  time.Duration
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(processor Processor, interval time.Duration) *Worker {
	return &Worker{
		processor: processor,
		interval:  interval,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start begins the worker's tick loop
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("worker: started with interval %v", w.interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("worker: stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("worker: stopped: stop signal received")
			return
		case <-ticker.C:
			if err := w.processor.Process(ctx); err != nil {
				log.Printf("worker: sync failed: %v", err)
			}
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("worker: shutdown complete")
}
