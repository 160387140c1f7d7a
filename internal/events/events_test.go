package events

import (
	"errors"
	"testing"
	"time"
)

func TestRecurringProcessEventJSON(t *testing.T) {
	now := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	data, err := NewRecurringProcessEvent("t1", "u1", now).ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := RecurringProcessEventFromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.TransactionID != "t1" || got.UserID != "u1" || !got.EmittedAt.Equal(now) {
		t.Errorf("decoded %+v", got)
	}
}

func TestRecurringProcessEventMalformed(t *testing.T) {
	for _, payload := range []string{`{`, `{}`, `{"transaction_id":"t1"}`, `{"user_id":"u1"}`} {
		if _, err := RecurringProcessEventFromJSON([]byte(payload)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", payload, err)
		}
	}
}
