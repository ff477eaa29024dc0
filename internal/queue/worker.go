package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one job. A returned error triggers the retry
// policy; a panic is recovered and treated the same way.
type Handler func(ctx context.Context, job *Job) error

type registration struct {
	queue       string
	concurrency int
	handler     Handler
}

// Workers runs bounded worker pools over registered queues plus a
// promoter tick that moves due delayed jobs to ready.
type Workers struct {
	client        *Client
	logger        *slog.Logger
	registrations []registration

	popTimeout  time.Duration
	promoteTick time.Duration
}

func NewWorkers(client *Client, logger *slog.Logger) *Workers {
	return &Workers{
		client:      client,
		logger:      logger,
		popTimeout:  time.Second,
		promoteTick: 250 * time.Millisecond,
	}
}

// Register binds a handler and its pool size to a queue. Must be called
// before Run.
func (w *Workers) Register(queueName string, concurrency int, h Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.registrations = append(w.registrations, registration{
		queue:       queueName,
		concurrency: concurrency,
		handler:     h,
	})
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Workers) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, reg := range w.registrations {
		wg.Add(1)
		go func(queueName string) {
			defer wg.Done()
			w.promoteLoop(ctx, queueName)
		}(reg.queue)

		for i := 0; i < reg.concurrency; i++ {
			wg.Add(1)
			go func(reg registration) {
				defer wg.Done()
				w.workLoop(ctx, reg)
			}(reg)
		}
	}

	wg.Wait()
}

func (w *Workers) promoteLoop(ctx context.Context, queueName string) {
	ticker := time.NewTicker(w.promoteTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.client.Promote(ctx, queueName, time.Now()); err != nil && ctx.Err() == nil {
				w.logger.Error("promote delayed jobs", "queue", queueName, "error", err)
			}
		}
	}
}

func (w *Workers) workLoop(ctx context.Context, reg registration) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.client.Pop(ctx, reg.queue, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("pop job", "queue", reg.queue, "error", err)
			time.Sleep(w.popTimeout)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, reg, job)
	}
}

func (w *Workers) handle(ctx context.Context, reg registration, job *Job) {
	err := runSafely(ctx, reg.handler, job)
	if err == nil {
		if ackErr := w.client.Ack(ctx, job); ackErr != nil {
			w.logger.Error("ack job", "queue", reg.queue, "job", job.ID, "error", ackErr)
		}
		return
	}

	retried, retryErr := w.client.Retry(ctx, job)
	if retryErr != nil {
		w.logger.Error("retry job", "queue", reg.queue, "job", job.ID, "error", retryErr)
		return
	}
	if retried {
		w.logger.Warn("job failed, retry scheduled",
			"queue", reg.queue, "job", job.ID,
			"attempt", job.AttemptsMade, "max_attempts", job.MaxAttempts, "error", err)
	} else {
		w.logger.Error("job failed permanently",
			"queue", reg.queue, "job", job.ID,
			"attempts", job.AttemptsMade, "error", err)
	}
}

// runSafely converts a handler panic into an error so one bad job
// cannot take a worker down.
func runSafely(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
