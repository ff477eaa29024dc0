// Package queue is a small named-queue layer on Redis: a ready list, a
// delayed zset and a job record per queue. It gives the workers
// at-least-once delivery, scheduled jobs that can still be cancelled
// while delayed, and per-job retry with exponential backoff.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitacare/concierge/internal/store"
)

// Queue names. Concurrency for each is set where the workers start.
const (
	QueueIntake       = "message-intake"
	QueuePipeline     = "ai-pipeline"
	QueueSend         = "message-send"
	QueueFollowUp     = "follow-up"
	QueueAnalytics    = "analytics"
	QueueCleanup      = "booking-cleanup"
	QueueReminder     = "appointment-reminder"
	QueueSync         = "clinic-sync"
	QueueConfirmation = "appointment-confirmation"
	QueueNPS          = "nps-collection"
)

// Job is the persisted unit of work.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	MaxAttempts  int             `json:"max_attempts"`
	AttemptsMade int             `json:"attempts_made"`
	BackoffBase  time.Duration   `json:"backoff_base"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Queue, err)
	}
	return nil
}

// Opts tunes a single enqueue.
type Opts struct {
	Delay       time.Duration
	MaxAttempts int           // default 1 (no retry)
	BackoffBase time.Duration // exponential base, default 5s when retrying
}

// Client enqueues, cancels and promotes jobs.
type Client struct {
	rdb *redis.Client
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func readyKey(queue string) string   { return "queue:" + queue + ":ready" }
func delayedKey(queue string) string { return "queue:" + queue + ":delayed" }
func jobKey(queue, id string) string { return "queue:" + queue + ":job:" + id }

// Enqueue adds a job, immediately runnable or delayed per opts, and
// returns its id.
func (c *Client) Enqueue(ctx context.Context, queueName string, payload interface{}, opts Opts) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:          store.GenNewID().String(),
		Queue:       queueName,
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		EnqueuedAt:  time.Now(),
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	if job.BackoffBase <= 0 {
		job.BackoffBase = 5 * time.Second
	}

	if err := c.putJob(ctx, job); err != nil {
		return "", err
	}
	if opts.Delay > 0 {
		score := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := c.rdb.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
			return "", fmt.Errorf("schedule delayed job: %w", err)
		}
		return job.ID, nil
	}
	if err := c.rdb.RPush(ctx, readyKey(queueName), job.ID).Err(); err != nil {
		return "", fmt.Errorf("push ready job: %w", err)
	}
	return job.ID, nil
}

// Remove cancels a job that is still in the delayed set. Jobs already
// promoted to ready (or running) are not touched; the caller learns
// that from the false return.
func (c *Client) Remove(ctx context.Context, queueName, jobID string) (bool, error) {
	n, err := c.rdb.ZRem(ctx, delayedKey(queueName), jobID).Result()
	if err != nil {
		return false, fmt.Errorf("remove delayed job: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := c.rdb.Del(ctx, jobKey(queueName, jobID)).Err(); err != nil {
		return false, fmt.Errorf("delete job record: %w", err)
	}
	return true, nil
}

// Promote moves due delayed jobs onto the ready list. Workers call this
// on a short tick.
func (c *Client) Promote(ctx context.Context, queueName string, now time.Time) (int, error) {
	due, err := c.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed jobs: %w", err)
	}

	promoted := 0
	for _, id := range due {
		// ZREM decides the winner when several promoters race.
		n, err := c.rdb.ZRem(ctx, delayedKey(queueName), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed job: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := c.rdb.RPush(ctx, readyKey(queueName), id).Err(); err != nil {
			return promoted, fmt.Errorf("push promoted job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Pop takes the next ready job, blocking up to timeout. Returns nil when
// the queue stays empty.
func (c *Client) Pop(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	res, err := c.rdb.BLPop(ctx, timeout, readyKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop ready job: %w", err)
	}
	id := res[1]

	raw, err := c.rdb.Get(ctx, jobKey(queueName, id)).Result()
	if err == redis.Nil {
		// Record vanished (cancelled after promotion). Skip.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job record: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &job, nil
}

// Retry reschedules a failed job with exponential backoff, or drops it
// when attempts are exhausted. Returns true when a retry was scheduled.
func (c *Client) Retry(ctx context.Context, job *Job) (bool, error) {
	job.AttemptsMade++
	if job.AttemptsMade >= job.MaxAttempts {
		if err := c.rdb.Del(ctx, jobKey(job.Queue, job.ID)).Err(); err != nil {
			return false, fmt.Errorf("drop exhausted job: %w", err)
		}
		return false, nil
	}

	delay := job.BackoffBase << (job.AttemptsMade - 1)
	if err := c.putJob(ctx, job); err != nil {
		return false, err
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := c.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	return true, nil
}

// Ack removes the job record after successful handling.
func (c *Client) Ack(ctx context.Context, job *Job) error {
	if err := c.rdb.Del(ctx, jobKey(job.Queue, job.ID)).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

func (c *Client) putJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := c.rdb.Set(ctx, jobKey(job.Queue, job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store job record: %w", err)
	}
	return nil
}
