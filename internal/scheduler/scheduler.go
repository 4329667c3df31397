// Package scheduler drives the engine's single cooperative event loop:
// a named recurring Task per concern (decision cycle, status reporting,
// per-symbol market-data polling), each on its own interval, with no
// two instances of the same task ever running concurrently.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/market"
)

// Task is a named, independently-intervaled recurring unit of work
// driven by Scheduler.Run. Immediate tasks fire once as soon as Run
// starts instead of waiting a full Interval.
type Task struct {
	Name      string
	Interval  time.Duration
	Immediate bool
	RunFunc   func(ctx context.Context) error
}

type taskState struct {
	task    Task
	nextDue time.Time
	running bool
}

// Scheduler drives the cooperative Task loop and reports market state.
type Scheduler struct {
	calendar *market.Calendar
	logger   *log.Logger

	mu    sync.Mutex
	tasks []*taskState

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a new scheduler.
func New(calendar *market.Calendar, logger *log.Logger) *Scheduler {
	return &Scheduler{
		calendar: calendar,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RegisterTask adds a named recurring task to the cooperative Run loop.
// Must be called before Run starts; RegisterTask after Run has begun
// has no effect on the current loop iteration's due-time calculation.
func (s *Scheduler) RegisterTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &taskState{task: task})
	s.logger.Printf("[scheduler] registered task: %s (interval=%v immediate=%v)", task.Name, task.Interval, task.Immediate)
}

// Run drives every registered Task on its own interval from a single
// goroutine's perspective: each iteration scans for tasks whose
// nextDue has passed and runs them synchronously to this loop, one at
// a time, in registration order. A task already marked running
// (because its own RunFunc outran its interval) is skipped that tick
// rather than run concurrently with itself — the next tick picks it up
// as soon as it's free. Run blocks until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	now := time.Now()
	s.mu.Lock()
	for _, ts := range s.tasks {
		if ts.task.Immediate {
			ts.nextDue = now
		} else {
			ts.nextDue = now.Add(ts.task.Interval)
		}
	}
	s.mu.Unlock()

	const pollInterval = 250 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runDueTasks(ctx)
		}
	}
}

func (s *Scheduler) runDueTasks(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*taskState, 0, len(s.tasks))
	for _, ts := range s.tasks {
		if ts.running || now.Before(ts.nextDue) {
			continue
		}
		ts.running = true
		due = append(due, ts)
	}
	s.mu.Unlock()

	for _, ts := range due {
		s.runTask(ctx, ts)
	}
}

func (s *Scheduler) runTask(ctx context.Context, ts *taskState) {
	defer func() {
		s.mu.Lock()
		ts.running = false
		ts.nextDue = time.Now().Add(ts.task.Interval)
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := ts.task.RunFunc(ctx); err != nil {
		s.logger.Printf("[scheduler] task %s failed after %v: %v", ts.task.Name, time.Since(start), err)
		return
	}
	if elapsed := time.Since(start); elapsed > ts.task.Interval {
		s.logger.Printf("[scheduler] task %s took %v, longer than its %v interval", ts.task.Name, elapsed, ts.task.Interval)
	}
}

// Stop requests the Run loop exit at its next polling boundary. Safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wait blocks until Run has returned or timeout elapses, returning
// true only in the former case. Callers should pass a bounded timeout
// (2s, matching the rest of the system's shutdown budget) and treat a
// false return as an unclean shutdown — a task's RunFunc is still in
// flight past the deadline.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	select {
	case <-s.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Status returns current market state information.
func (s *Scheduler) Status() string {
	now := time.Now()
	isOpen := s.calendar.IsMarketOpen(now)
	isTrading := s.calendar.IsTradingDay(now)
	nextSession := s.calendar.TimeUntilNextSession(now)

	status := fmt.Sprintf(
		"Market Status: open=%v trading_day=%v next_session_in=%v",
		isOpen, isTrading, nextSession.Round(time.Minute),
	)

	if reason := s.calendar.HolidayReason(now); reason != "" {
		status += fmt.Sprintf(" holiday=%s", reason)
	}

	return status
}
