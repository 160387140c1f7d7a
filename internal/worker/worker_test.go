package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ledger/internal/events"
	"ledger/internal/events/memory"
	"ledger/internal/services"
)

type countingSweep struct {
	pub   events.Publisher
	calls int
	err   error
}

func (s *countingSweep) Run(ctx context.Context, now time.Time) (services.SweepResult, error) {
	s.calls++
	if s.err != nil {
		return services.SweepResult{}, s.err
	}
	payload, _ := events.NewRecurringProcessEvent("t1", "u1", now).ToJSON()
	if err := s.pub.Publish(ctx, events.RecurringProcess, payload); err != nil {
		return services.SweepResult{Due: 1, Failed: 1}, nil
	}
	return services.SweepResult{Due: 1, Published: 1}, nil
}

func TestRunConsumesStartupEvents(t *testing.T) {
	q := memory.NewQueue(memory.Config{Workers: 1})
	defer q.Close()

	var handled atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := func(context.Context, []byte) error {
		handled.Add(1)
		cancel()
		return nil
	}
	sweep := &countingSweep{pub: q}

	done := make(chan error, 1)
	go func() { done <- NewRecurringWorker(q, handler, sweep).Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if sweep.calls != 1 {
		t.Errorf("startup sweep ran %d times", sweep.calls)
	}
	if handled.Load() != 1 {
		t.Errorf("handled %d events, want 1", handled.Load())
	}
}

func TestStartupCheckFailureDoesNotStopWorker(t *testing.T) {
	q := memory.NewQueue(memory.Config{Workers: 1})
	defer q.Close()

	w := NewRecurringWorker(q, func(context.Context, []byte) error { return nil }, &countingSweep{err: errors.New("db down")})
	if err := w.StartupCheck(context.Background()); err == nil {
		t.Fatal("expected startup check error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStartupCheckWithoutSweep(t *testing.T) {
	w := NewRecurringWorker(nil, nil, nil)
	if err := w.StartupCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
}
