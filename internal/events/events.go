// Package events defines the publish/subscribe contract between the
// scheduler sweeps and their consumers.
//
// Delivery is at least once: a handler may see the same payload more than
// once and must be idempotent. A handler error requeues the payload unless it
// wraps ErrMalformed, in which case the payload is dropped.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RecurringProcess is emitted once per due recurring template.
const RecurringProcess = "transaction.recurring.process"

var ErrMalformed = errors.New("malformed event payload")

type Handler func(ctx context.Context, payload []byte) error

type Publisher interface {
	Publish(ctx context.Context, name string, payload []byte) error
}

// Dispatcher is implemented by the AMQP client and the in-memory queue.
type Dispatcher interface {
	Publisher
	// Subscribe blocks, delivering payloads published under name to h until
	// ctx is cancelled or the transport fails.
	Subscribe(ctx context.Context, name string, h Handler) error
	Close() error
}

// RecurringProcessEvent identifies one template to materialize.
type RecurringProcessEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	EmittedAt     time.Time `json:"emitted_at"`
}

func NewRecurringProcessEvent(transactionID, userID string, now time.Time) *RecurringProcessEvent {
	return &RecurringProcessEvent{
		TransactionID: transactionID,
		UserID:        userID,
		EmittedAt:     now,
	}
}

func (e *RecurringProcessEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RecurringProcessEventFromJSON decodes and validates a payload. Failures wrap
// ErrMalformed.
func RecurringProcessEventFromJSON(data []byte) (*RecurringProcessEvent, error) {
	var e RecurringProcessEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.TransactionID == "" || e.UserID == "" {
		return nil, fmt.Errorf("%w: transaction_id and user_id are required", ErrMalformed)
	}
	return &e, nil
}
