package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channels fanned out over Redis pub/sub. Dashboards and the ops panel
// subscribe; nothing in this process does.
const (
	ChannelConversations = "channel:conversations"
	ChannelEscalations   = "channel:escalations"
)

// Event is the envelope published on every channel.
type Event struct {
	Type string                 `json:"type"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Publisher fans events out to Redis pub/sub. Publishing is best
// effort: failures are logged, never returned, so a dead subscriber
// side can not stall message handling.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewPublisher(rdb *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, channel, eventType string, data map[string]interface{}) {
	if p == nil || p.rdb == nil {
		return
	}
	raw, err := json.Marshal(Event{Type: eventType, At: time.Now().UTC(), Data: data})
	if err != nil {
		p.logger.Error("event encode failed", "type", eventType, "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		p.logger.Warn("event publish failed", "channel", channel, "type", eventType, "error", err)
	}
}
