package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/market"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[scheduler-test] ", log.LstdFlags)
}

func testScheduler() *Scheduler {
	cal := market.NewCalendarFromHolidays(map[string]string{})
	return New(cal, testLogger())
}

func TestScheduler_RunExecutesImmediateTaskWithoutWaitingInterval(t *testing.T) {
	s := testScheduler()
	var runs int32
	s.RegisterTask(Task{
		Name:      "immediate",
		Interval:  time.Hour,
		Immediate: true,
		RunFunc: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate task never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Stop()
	if !s.Wait(2 * time.Second) {
		t.Fatal("expected Run to exit within the bounded join window")
	}
}

func TestScheduler_RunRepeatsOnInterval(t *testing.T) {
	s := testScheduler()
	var runs int32
	s.RegisterTask(Task{
		Name:      "fast",
		Interval:  50 * time.Millisecond,
		Immediate: true,
		RunFunc: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&runs) < 3 {
		select {
		case <-deadline:
			t.Fatalf("only saw %d runs, expected at least 3", atomic.LoadInt32(&runs))
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Stop()
	s.Wait(2 * time.Second)
}

func TestScheduler_NeverRunsSameTaskConcurrently(t *testing.T) {
	s := testScheduler()
	var inFlight int32
	var overlapDetected int32
	s.RegisterTask(Task{
		Name:      "slow",
		Interval:  10 * time.Millisecond,
		Immediate: true,
		RunFunc: func(ctx context.Context) error {
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.StoreInt32(&overlapDetected, 1)
			}
			time.Sleep(100 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(350 * time.Millisecond)
	s.Stop()
	s.Wait(2 * time.Second)

	if atomic.LoadInt32(&overlapDetected) != 0 {
		t.Fatal("task ran concurrently with itself")
	}
}

func TestScheduler_FailedTaskDoesNotStopOtherTasks(t *testing.T) {
	s := testScheduler()
	var failingRuns, okRuns int32
	s.RegisterTask(Task{
		Name:      "failing",
		Interval:  20 * time.Millisecond,
		Immediate: true,
		RunFunc: func(ctx context.Context) error {
			atomic.AddInt32(&failingRuns, 1)
			return errors.New("boom")
		},
	})
	s.RegisterTask(Task{
		Name:      "ok",
		Interval:  20 * time.Millisecond,
		Immediate: true,
		RunFunc: func(ctx context.Context) error {
			atomic.AddInt32(&okRuns, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(300 * time.Millisecond)
	s.Stop()
	s.Wait(2 * time.Second)

	if atomic.LoadInt32(&failingRuns) < 2 {
		t.Fatalf("expected the failing task to keep retrying on its interval, got %d runs", failingRuns)
	}
	if atomic.LoadInt32(&okRuns) < 2 {
		t.Fatalf("expected the healthy task to keep running alongside the failing one, got %d runs", okRuns)
	}
}

func TestScheduler_ContextCancelStopsRun(t *testing.T) {
	s := testScheduler()
	s.RegisterTask(Task{
		Name:     "noop",
		Interval: time.Hour,
		RunFunc:  func(ctx context.Context) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	cancel()
	if !s.Wait(2 * time.Second) {
		t.Fatal("expected Run to exit promptly after context cancellation")
	}
}

func TestScheduler_StatusReportsMarketState(t *testing.T) {
	s := testScheduler()
	status := s.Status()
	if status == "" {
		t.Fatal("expected non-empty status string")
	}
}
