package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger/internal/events"
	"ledger/internal/log"
)

func TestPublishSubscribe(t *testing.T) {
	q := NewQueue(Config{Workers: 2})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	wg.Add(5)
	go q.Subscribe(ctx, "topic", func(_ context.Context, payload []byte) error {
		mu.Lock()
		seen[string(payload)] = true
		mu.Unlock()
		wg.Done()
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := q.Publish(ctx, "topic", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitOrFail(t, &wg)
	if len(seen) != 5 {
		t.Fatalf("saw %d payloads, want 5", len(seen))
	}
}

func TestRedeliveryOnError(t *testing.T) {
	q := NewQueue(Config{Workers: 1, RedeliveryDelay: 10 * time.Millisecond})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go q.Subscribe(ctx, "topic", func(context.Context, []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		wg.Done()
		return nil
	})

	if err := q.Publish(ctx, "topic", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitOrFail(t, &wg)
	if calls.Load() != 2 {
		t.Fatalf("handler called %d times, want 2", calls.Load())
	}
}

func TestMalformedIsDropped(t *testing.T) {
	q := NewQueue(Config{Workers: 1, RedeliveryDelay: 5 * time.Millisecond})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go q.Subscribe(ctx, "topic", func(context.Context, []byte) error {
		calls.Add(1)
		return fmt.Errorf("decode: %w", events.ErrMalformed)
	})
	_ = q.Publish(ctx, "topic", []byte("garbage"))

	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("malformed payload handled %d times, want 1", calls.Load())
	}
}

func TestPublishAfterClose(t *testing.T) {
	q := NewQueue(Config{})
	q.Close()
	if err := q.Publish(context.Background(), "topic", nil); err == nil {
		t.Fatal("expected publish on closed queue to fail")
	}
}

func TestRedeliveryAfterCloseIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Component: log.ComponentQueue, Output: &buf})
	q := NewQueue(Config{Workers: 1, RedeliveryDelay: 200 * time.Millisecond, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		_ = q.Subscribe(ctx, "topic", func(context.Context, []byte) error {
			select {
			case handled <- struct{}{}:
			default:
			}
			return errors.New("boom")
		})
	}()

	if err := q.Publish(ctx, "topic", []byte(`{"transactionId":"t1"}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	// Close waits for pending redelivery timers, so the log line is written
	// by the time it returns.
	q.Close()
	<-subDone

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "Event lost") || !strings.Contains(out, "t1") {
		t.Fatalf("expected lost event at ERROR, got:\n%s", out)
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}
