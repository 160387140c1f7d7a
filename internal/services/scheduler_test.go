package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSchedulerAddAndRunNow(t *testing.T) {
	s := NewScheduler(time.UTC)
	var ran time.Time
	err := s.Add("budget", "0 */6 * * *", func(_ context.Context, now time.Time) error {
		ran = now
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add("budget", "0 0 * * *", func(context.Context, time.Time) error { return nil }); err == nil {
		t.Error("duplicate job name accepted")
	}
	if err := s.Add("bad", "not a spec", func(context.Context, time.Time) error { return nil }); err == nil {
		t.Error("invalid spec accepted")
	}

	if err := s.RunNow(context.Background(), "budget"); err != nil {
		t.Fatal(err)
	}
	if ran.IsZero() {
		t.Error("job did not run")
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("unknown job ran")
	}
}

func TestSchedulerRunNowPropagatesError(t *testing.T) {
	s := NewScheduler(nil)
	boom := errors.New("boom")
	if err := s.Add("report", "0 0 1 * *", func(context.Context, time.Time) error { return boom }); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "report"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	s := NewScheduler(time.UTC)
	if s.IsRunning() {
		t.Fatal("scheduler should not be running initially")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop when idle: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error when starting twice")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}
