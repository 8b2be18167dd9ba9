package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNewCronSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	if _, err := NewCronScheduler("every morning", time.UTC, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCronSchedulerLifecycle(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s, err := NewCronScheduler("0 6 * * *", loc, nil)
	if err != nil {
		t.Fatalf("NewCronScheduler: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatal("next must be zero before start")
	}

	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	next := s.Next().In(loc)
	if next.Hour() != 6 || next.Minute() != 0 || !next.After(time.Now()) {
		t.Fatalf("unexpected next trigger: %v", next)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestCronSchedulerIgnoresNilJob(t *testing.T) {
	t.Parallel()

	s, err := NewCronScheduler("* * * * *", time.UTC, nil)
	if err != nil {
		t.Fatalf("NewCronScheduler: %v", err)
	}
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start with nil job: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatal("nil job must not start the loop")
	}
}
