package httpapi

import (
	"net/http"
	"strings"

	"github.com/vitacare/concierge/internal/queue"
)

// webhookEvent is the gateway's messages.upsert envelope. Only the
// fields the intake cares about are mapped.
type webhookEvent struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			ID        string `json:"id"`
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
		} `json:"key"`
		PushName    string `json:"pushName"`
		MessageType string `json:"messageType"`
		Message     struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
			AudioMessage struct {
				URL string `json:"url"`
			} `json:"audioMessage"`
			ButtonsResponseMessage struct {
				SelectedButtonID string `json:"selectedButtonId"`
			} `json:"buttonsResponseMessage"`
			ListResponseMessage struct {
				SingleSelectReply struct {
					SelectedRowID string `json:"selectedRowId"`
				} `json:"singleSelectReply"`
			} `json:"listResponseMessage"`
		} `json:"message"`
	} `json:"data"`
}

// handleWebhook turns one gateway event into an intake job. Everything
// that is not a patient message is acknowledged and dropped; the
// gateway retries on non-2xx, so unknown shapes must not error.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev webhookEvent
	if err := decodeBody(r, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if ev.Event != "messages.upsert" || ev.Data.Key.FromMe {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	phone := phoneFromJid(ev.Data.Key.RemoteJid)
	if phone == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	payload := queue.IntakePayload{
		MessageID:    ev.Data.Key.ID,
		Phone:        phone,
		PushName:     ev.Data.PushName,
		InstanceName: ev.Instance,
	}
	switch {
	case ev.Data.Message.ButtonsResponseMessage.SelectedButtonID != "":
		payload.Type = "button"
		payload.ButtonID = ev.Data.Message.ButtonsResponseMessage.SelectedButtonID
	case ev.Data.Message.ListResponseMessage.SingleSelectReply.SelectedRowID != "":
		payload.Type = "button"
		payload.ButtonID = ev.Data.Message.ListResponseMessage.SingleSelectReply.SelectedRowID
	case ev.Data.MessageType == "audioMessage":
		payload.Type = "audio"
		payload.AudioURL = ev.Data.Message.AudioMessage.URL
	case ev.Data.Message.Conversation != "":
		payload.Type = "text"
		payload.Text = ev.Data.Message.Conversation
	case ev.Data.Message.ExtendedTextMessage.Text != "":
		payload.Type = "text"
		payload.Text = ev.Data.Message.ExtendedTextMessage.Text
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if _, err := s.jobs.Enqueue(r.Context(), queue.QueueIntake, payload, queue.Opts{}); err != nil {
		s.logger.Error("intake enqueue failed", "phone", phone, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// phoneFromJid extracts the number from "5511999999999@s.whatsapp.net".
// Group jids are not patient conversations.
func phoneFromJid(jid string) string {
	if strings.HasSuffix(jid, "@g.us") {
		return ""
	}
	phone, _, found := strings.Cut(jid, "@")
	if !found {
		return ""
	}
	return phone
}
