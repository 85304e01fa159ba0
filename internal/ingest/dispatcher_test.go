package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type blockingProcessor struct {
	release chan struct{}

	mu   sync.Mutex
	seen []int64
	ctxs []context.Context
}

func (p *blockingProcessor) Process(ctx context.Context, job Job) (*Result, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	p.seen = append(p.seen, job.ActivityID)
	p.ctxs = append(p.ctxs, ctx)
	p.mu.Unlock()
	return &Result{}, nil
}

func (p *blockingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	proc := &blockingProcessor{}
	d := NewDispatcher(proc, 2, 8, time.Minute)

	for i := int64(1); i <= 5; i++ {
		if err := d.Submit(context.Background(), Job{ActivityID: i}); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	d.Close()

	if n := proc.count(); n != 5 {
		t.Errorf("processed %d jobs, want 5", n)
	}
	if err := d.Submit(context.Background(), Job{ActivityID: 6}); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrDispatcherClosed", err)
	}
	d.Close() // second close is a no-op
}

func TestDispatcherQueueFull(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, 1, 1, time.Minute)
	defer d.Close()
	defer close(proc.release)

	if err := d.Submit(context.Background(), Job{ActivityID: 1}); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	// Wait until the worker holds the first job
	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := d.Submit(context.Background(), Job{ActivityID: 2}); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := d.Submit(ctx, Job{ActivityID: 3})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Submit() waited past its budget")
	}
}

func TestDispatcherAppliesJobTimeout(t *testing.T) {
	proc := &blockingProcessor{}
	d := NewDispatcher(proc, 1, 1, 30*time.Second)
	if err := d.Submit(context.Background(), Job{ActivityID: 1}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	deadline, ok := proc.ctxs[0].Deadline()
	if !ok {
		t.Fatal("job context has no deadline")
	}
	if time.Until(deadline) > 30*time.Second {
		t.Errorf("deadline %v is beyond the job timeout", deadline)
	}
}

type panickingProcessor struct{ calls int }

func (p *panickingProcessor) Process(ctx context.Context, job Job) (*Result, error) {
	p.calls++
	if job.ActivityID == 1 {
		panic("boom")
	}
	return &Result{}, nil
}

func TestDispatcherSurvivesPanics(t *testing.T) {
	proc := &panickingProcessor{}
	d := NewDispatcher(proc, 1, 4, time.Minute)
	d.Submit(context.Background(), Job{ActivityID: 1})
	d.Submit(context.Background(), Job{ActivityID: 2})
	d.Close()

	if proc.calls != 2 {
		t.Errorf("calls = %d, want 2", proc.calls)
	}
}
