// Package cron drives the time-based sweeps: booking-link cleanup,
// next-day reminders and confirmations. Expressions are standard cron,
// checked once a minute.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Task is one scheduled sweep.
type Task struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// Scheduler evaluates the task expressions on a minute tick.
type Scheduler struct {
	gron   *gronx.Gronx
	tasks  []Task
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		gron:   gronx.New(),
		logger: logger,
		tick:   time.Minute,
		now:    time.Now,
	}
}

func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Expr: expr, Run: run})
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx, s.now())
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, task := range s.tasks {
		due, err := s.gron.IsDue(task.Expr, now)
		if err != nil {
			s.logger.Error("bad cron expression", "task", task.Name, "expr", task.Expr, "error", err)
			continue
		}
		if !due {
			continue
		}
		go s.runSafely(ctx, task)
	}
}

// runSafely keeps one panicking sweep from taking the scheduler down.
func (s *Scheduler) runSafely(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "task", task.Name, "panic", r)
		}
	}()
	started := time.Now()
	if err := task.Run(ctx); err != nil {
		s.logger.Error("sweep failed", "task", task.Name, "error", err)
		return
	}
	s.logger.Info("sweep done", "task", task.Name, "took", time.Since(started))
}
