package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentRecurring, Output: &buf})

	l.Fields(NewFields().WithOwner("u1").WithTransaction("t1", "a1", decimal.RequireFromString("12.5"))).
		InfoContext(context.Background(), "materialized")

	out := buf.String()
	for _, want := range []string{"component=recurring", "owner_id=u1", "transaction_id=t1", "account_id=a1", "amount=12.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestFailureIncludesOperationAndError(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentBudget, Output: &buf})

	l.Failure(context.Background(), "sweep failed", OpSweep, errors.New("boom"), "failed", 2)

	out := buf.String()
	for _, want := range []string{"level=ERROR", "operation=sweep", "error=boom", "failed=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Component: ComponentHTTP, Output: &buf})
	h := RequestIDMiddleware(base, func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "handled")
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), "request_id=req_1") {
		t.Fatalf("missing request id in %q", buf.String())
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if l := FromContext(context.Background()); l.Component() != "unknown" {
		t.Fatalf("component = %q", l.Component())
	}
}
