// Package memory is an in-process events.Dispatcher built on channels.
//
// It suits single-instance deployments and tests. Payloads whose handler
// fails are redelivered after RedeliveryDelay unless the error wraps
// events.ErrMalformed.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger/internal/events"
	"ledger/internal/log"
)

type Queue struct {
	mu        sync.Mutex
	topics    map[string]chan []byte
	closeChan chan struct{}
	closed    bool
	wg        sync.WaitGroup

	bufferSize      int
	workers         int
	redeliveryDelay time.Duration
	logger          *log.Logger
}

type Config struct {
	BufferSize      int
	Workers         int
	RedeliveryDelay time.Duration
	Logger          *log.Logger
}

func NewQueue(cfg Config) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.For(log.ComponentQueue)
	}
	return &Queue{
		topics:          make(map[string]chan []byte),
		closeChan:       make(chan struct{}),
		bufferSize:      cfg.BufferSize,
		workers:         cfg.Workers,
		redeliveryDelay: cfg.RedeliveryDelay,
		logger:          cfg.Logger,
	}
}

var _ events.Dispatcher = (*Queue)(nil)

func (q *Queue) topic(name string) (chan []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("queue is closed")
	}
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan []byte, q.bufferSize)
		q.topics[name] = ch
	}
	return ch, nil
}

// Publish enqueues payload, blocking while the topic buffer is full.
func (q *Queue) Publish(ctx context.Context, name string, payload []byte) error {
	ch, err := q.topic(name)
	if err != nil {
		return err
	}
	select {
	case ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Subscribe runs the configured number of workers on topic name and blocks
// until ctx is done or the queue is closed.
func (q *Queue) Subscribe(ctx context.Context, name string, h events.Handler) error {
	ch, err := q.topic(name)
	if err != nil {
		return err
	}

	var workers sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			q.work(ctx, name, ch, h)
		}()
	}
	workers.Wait()

	select {
	case <-q.closeChan:
		return nil
	default:
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context, name string, ch chan []byte, h events.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case payload := <-ch:
			err := h(ctx, payload)
			if err == nil {
				continue
			}
			if errors.Is(err, events.ErrMalformed) {
				q.logger.ErrorContext(ctx, "Dropping malformed event", log.FieldEvent, name, log.FieldError, err)
				continue
			}
			q.logger.WarnContext(ctx, "Event handler failed, redelivering", log.FieldEvent, name, log.FieldError, err,
				"delay", q.redeliveryDelay)
			q.redeliver(name, payload)
		}
	}
}

func (q *Queue) redeliver(name string, payload []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.lost(name, payload, fmt.Errorf("queue is closed"))
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	time.AfterFunc(q.redeliveryDelay, func() {
		defer q.wg.Done()
		// Redelivery outlives the handler's context; only Close stops it.
		if err := q.Publish(context.Background(), name, payload); err != nil {
			q.lost(name, payload, err)
		}
	})
}

// lost reports a payload that could not be put back on its topic.
func (q *Queue) lost(name string, payload []byte, err error) {
	q.logger.Error("Event lost, redelivery failed",
		log.FieldEvent, name, log.FieldError, err, "payload", string(payload))
}

// Pending reports how many payloads wait on topic name.
func (q *Queue) Pending(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[name])
}

// Close stops workers and rejects further publishes.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
