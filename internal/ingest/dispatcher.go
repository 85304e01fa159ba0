package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueFull        = errors.New("ingest queue full")
	ErrDispatcherClosed = errors.New("ingest dispatcher closed")
)

// Processor handles one job
type Processor interface {
	Process(ctx context.Context, job Job) (*Result, error)
}

// Dispatcher runs jobs on a fixed set of workers behind a bounded queue,
// so webhook requests never wait for the work itself
type Dispatcher struct {
	proc    Processor
	jobs    chan Job
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of queueSize
func NewDispatcher(proc Processor, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		proc:    proc,
		jobs:    make(chan Job, queueSize),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Submit enqueues a job, waiting for room until ctx is done
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

// Pending returns the number of queued jobs
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] %s: ingest job panicked: %v", job.DeliveryID, r)
		}
	}()
	d.proc.Process(ctx, job)
}
