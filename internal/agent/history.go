package agent

import (
	"strings"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/providers"
)

// historyLimit caps how much of the dialogue rides along on every model
// call. Twenty messages covers any realistic scheduling exchange.
const historyLimit = 20

// buildHistory converts the conversation tail into provider messages.
// The slice always starts with a patient turn (the model expects user
// before assistant), and consecutive same-sender messages collapse into
// one, which is how bursts drained from the debounce buffer read best.
func buildHistory(conv *model.Conversation) []providers.Message {
	msgs := conv.Messages
	if len(msgs) > historyLimit {
		msgs = msgs[len(msgs)-historyLimit:]
	}

	for len(msgs) > 0 && msgs[0].Sender != model.SenderPatient {
		msgs = msgs[1:]
	}
	if len(msgs) == 0 {
		return nil
	}

	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Sender == model.SenderAgent {
			role = "assistant"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = out[n-1].Content + "\n" + m.Text
			continue
		}
		out = append(out, providers.Message{Role: role, Content: m.Text})
	}
	return out
}

// trailingUnknowns counts how many of the most recent classified
// intents were unknown, for the escalation policy.
func trailingUnknowns(intents []string) int {
	n := 0
	for i := len(intents) - 1; i >= 0; i-- {
		if intents[i] != "unknown" {
			break
		}
		n++
	}
	return n
}

// joinNonEmpty is strings.Join that skips blanks.
func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
