package delivery

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vitacare/concierge/internal/events"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/store"
	"github.com/vitacare/concierge/internal/transport"
)

const (
	typingPerRune  = 40 * time.Millisecond
	minTypingDelay = 1500 * time.Millisecond
	maxTypingDelay = 8 * time.Second
	maxBubbles     = 3
)

// TypingDelay simulates a human typing the text: 40ms per rune,
// clamped to [1.5s, 8s].
func TypingDelay(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * typingPerRune
	if d < minTypingDelay {
		return minTypingDelay
	}
	if d > maxTypingDelay {
		return maxTypingDelay
	}
	return d
}

// SplitBubbles breaks a reply on blank lines into separate chat
// bubbles, at most three; the remainder folds into the last bubble.
func SplitBubbles(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	if len(out) > maxBubbles {
		out[maxBubbles-1] = strings.Join(out[maxBubbles-1:], "\n\n")
		out = out[:maxBubbles]
	}
	return out
}

// Deliverer sends agent replies with human-like pacing and backfills
// delivery ids onto the conversation log.
type Deliverer struct {
	sender        transport.Sender
	conversations store.ConversationStore
	publisher     *events.Publisher
	logger        *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDeliverer(sender transport.Sender, conversations store.ConversationStore, publisher *events.Publisher, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		sender:        sender,
		conversations: conversations,
		publisher:     publisher,
		logger:        logger,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle processes one outbound send job.
func (d *Deliverer) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.SendPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	// When the reply text is exactly what the interactive payload
	// already carries, the plain bubbles would duplicate it.
	sendBubbles := p.Interactive == nil ||
		strings.TrimSpace(p.Text) != strings.TrimSpace(p.Interactive.Text)

	var lastID string
	if sendBubbles {
		for _, bubble := range SplitBubbles(p.Text) {
			if err := d.sender.Presence(ctx, p.Phone, true); err != nil {
				d.logger.Debug("presence failed", "phone", p.Phone, "error", err)
			}
			if err := d.sleep(ctx, TypingDelay(bubble)); err != nil {
				return err
			}
			id, err := d.sender.SendText(ctx, p.Phone, bubble)
			if err != nil {
				return err
			}
			lastID = id
		}
	}

	if p.Interactive != nil {
		if err := d.sender.Presence(ctx, p.Phone, true); err != nil {
			d.logger.Debug("presence failed", "phone", p.Phone, "error", err)
		}
		if err := d.sleep(ctx, TypingDelay(p.Interactive.Text)); err != nil {
			return err
		}
		id, err := d.sendInteractive(ctx, p.Phone, p.Interactive)
		if err != nil {
			return err
		}
		if id != "" {
			lastID = id
		}
	}

	if lastID != "" {
		d.backfillDelivery(ctx, &p, lastID)
	}
	d.publisher.Publish(ctx, events.ChannelConversations, "message.sent", map[string]interface{}{
		"conversation_id": p.ConversationID,
		"phone":           p.Phone,
	})
	return nil
}

// sendInteractive tries the rich payload and degrades to plain text
// when the gateway rejects it.
func (d *Deliverer) sendInteractive(ctx context.Context, phone string, payload *model.Interactive) (string, error) {
	var (
		id  string
		err error
	)
	switch payload.Kind {
	case model.InteractiveButtons:
		id, err = d.sender.SendButtons(ctx, phone, payload)
	case model.InteractiveList:
		id, err = d.sender.SendList(ctx, phone, payload)
	default:
		return d.sender.SendText(ctx, phone, payload.Text)
	}
	if err == nil {
		return id, nil
	}

	d.logger.Warn("interactive send failed, falling back to text", "phone", phone, "error", err)
	return d.sender.SendText(ctx, phone, flatten(payload))
}

// flatten renders an interactive payload as numbered plain text.
func flatten(payload *model.Interactive) string {
	var b strings.Builder
	b.WriteString(payload.Text)
	n := 1
	switch payload.Kind {
	case model.InteractiveButtons:
		for _, btn := range payload.Buttons {
			b.WriteString("\n")
			b.WriteString(numbered(n, btn.Label))
			n++
		}
	case model.InteractiveList:
		for _, s := range payload.Sections {
			if s.Title != "" {
				b.WriteString("\n\n*")
				b.WriteString(s.Title)
				b.WriteString("*")
			}
			for _, r := range s.Rows {
				b.WriteString("\n")
				b.WriteString(numbered(n, r.Title))
				n++
			}
		}
	}
	return b.String()
}

func numbered(n int, label string) string {
	return strconv.Itoa(n) + ". " + label
}

// backfillDelivery stamps the gateway message id onto the newest agent
// message still missing one. Best effort.
func (d *Deliverer) backfillDelivery(ctx context.Context, p *queue.SendPayload, externalID string) {
	conv, err := d.conversations.GetByID(ctx, p.ConversationID)
	if err != nil {
		d.logger.Debug("delivery backfill skipped", "conversation", p.ConversationID, "error", err)
		return
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := &conv.Messages[i]
		if m.Sender == model.SenderAgent && m.ExternalID == "" {
			m.ExternalID = externalID
			m.DeliveryStatus = model.DeliverySent
			break
		}
	}
	if err := d.conversations.Save(ctx, conv); err != nil {
		d.logger.Debug("delivery backfill save failed", "conversation", p.ConversationID, "error", err)
	}
}
