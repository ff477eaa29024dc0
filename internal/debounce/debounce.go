// Package debounce batches rapid-fire messages from one sender into a
// single agent turn. Each accepted message lands in a per-sender Redis
// buffer; the pending pipeline job is pushed out while the sender keeps
// typing, and the turn drains the whole buffer at once.
package debounce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vitacare/concierge/internal/queue"
)

// Sentinel marks a pipeline job whose real text lives in the buffer.
const Sentinel = "__DEBOUNCED__"

const (
	bufferPrefix = "debounce:"
	jobRefPrefix = "debounce_job:"
	// Safety TTL so abandoned buffers cannot outlive their window by
	// much even if the scheduled job is lost.
	keyTTL = 30 * time.Second
)

// Coordinator owns the buffer keys and the reschedule dance.
type Coordinator struct {
	rdb    *redis.Client
	jobs   *queue.Client
	window time.Duration
}

func New(rdb *redis.Client, jobs *queue.Client, window time.Duration) *Coordinator {
	return &Coordinator{rdb: rdb, jobs: jobs, window: window}
}

// Schedule buffers one message and (re)arms the quiet-window timer for
// the sender. If a previous pipeline job is still delayed it is
// cancelled first; a job that already started processing is left alone,
// its turn will drain whatever is buffered by then.
func (c *Coordinator) Schedule(ctx context.Context, conversationID uuid.UUID, phone, text string) error {
	bufferKey := bufferPrefix + phone
	jobRefKey := jobRefPrefix + phone

	if err := c.rdb.RPush(ctx, bufferKey, text).Err(); err != nil {
		return fmt.Errorf("buffer message: %w", err)
	}
	if err := c.rdb.Expire(ctx, bufferKey, keyTTL).Err(); err != nil {
		return fmt.Errorf("buffer expire: %w", err)
	}

	prevID, err := c.rdb.Get(ctx, jobRefKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read job ref: %w", err)
	}
	if prevID != "" {
		// Best effort: false just means the job already ran or is
		// running, in which case the new job below handles the rest of
		// the buffer.
		if _, err := c.jobs.Remove(ctx, queue.QueuePipeline, prevID); err != nil {
			return fmt.Errorf("cancel pending turn: %w", err)
		}
	}

	jobID, err := c.jobs.Enqueue(ctx, queue.QueuePipeline, queue.PipelinePayload{
		ConversationID: conversationID,
		Phone:          phone,
		Text:           Sentinel,
	}, queue.Opts{Delay: c.window})
	if err != nil {
		return fmt.Errorf("schedule turn: %w", err)
	}

	if err := c.rdb.Set(ctx, jobRefKey, jobID, keyTTL).Err(); err != nil {
		return fmt.Errorf("store job ref: %w", err)
	}
	return nil
}

// Drain empties the sender's buffer and returns the batched text,
// messages joined by newlines. An empty result means another turn
// already consumed the buffer and this one should end silently.
func (c *Coordinator) Drain(ctx context.Context, phone string) (string, error) {
	bufferKey := bufferPrefix + phone
	jobRefKey := jobRefPrefix + phone

	texts, err := c.rdb.LRange(ctx, bufferKey, 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("read buffer: %w", err)
	}
	if err := c.rdb.Del(ctx, bufferKey, jobRefKey).Err(); err != nil {
		return "", fmt.Errorf("clear buffer: %w", err)
	}
	return strings.Join(texts, "\n"), nil
}
