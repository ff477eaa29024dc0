package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/vitacare/concierge/internal/model"
)

// Sender is the outbound WhatsApp surface the delivery layer needs.
type Sender interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	SendButtons(ctx context.Context, phone string, payload *model.Interactive) (string, error)
	SendList(ctx context.Context, phone string, payload *model.Interactive) (string, error)
	Presence(ctx context.Context, phone string, typing bool) error
}

// Gateway talks to the WhatsApp gateway HTTP API. A single shared rate
// limiter paces sends across every worker goroutine in the process.
type Gateway struct {
	http     *resty.Client
	instance string
	limiter  *rate.Limiter
}

func NewGateway(baseURL, token, instance string, sendsPerSecond float64) *Gateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Gateway{
		http:     client,
		instance: instance,
		limiter:  rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
	}
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (g *Gateway) post(ctx context.Context, path string, body interface{}) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var out sendResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("gateway %s: %w", path, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return out.Key.ID, nil
}

func (g *Gateway) SendText(ctx context.Context, phone, text string) (string, error) {
	return g.post(ctx, "/message/sendText/"+g.instance, map[string]interface{}{
		"number": phone,
		"text":   text,
	})
}

func (g *Gateway) SendButtons(ctx context.Context, phone string, payload *model.Interactive) (string, error) {
	buttons := make([]map[string]interface{}, 0, len(payload.Buttons))
	for _, b := range payload.Buttons {
		buttons = append(buttons, map[string]interface{}{
			"type":        "reply",
			"id":          b.ID,
			"displayText": b.Label,
		})
	}
	return g.post(ctx, "/message/sendButtons/"+g.instance, map[string]interface{}{
		"number":  phone,
		"text":    payload.Text,
		"buttons": buttons,
	})
}

func (g *Gateway) SendList(ctx context.Context, phone string, payload *model.Interactive) (string, error) {
	sections := make([]map[string]interface{}, 0, len(payload.Sections))
	for _, s := range payload.Sections {
		rows := make([]map[string]interface{}, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, map[string]interface{}{
				"rowId":       r.ID,
				"title":       r.Title,
				"description": r.Description,
			})
		}
		sections = append(sections, map[string]interface{}{
			"title": s.Title,
			"rows":  rows,
		})
	}
	return g.post(ctx, "/message/sendList/"+g.instance, map[string]interface{}{
		"number":     phone,
		"title":      payload.Text,
		"buttonText": payload.ListButtonText,
		"sections":   sections,
	})
}

// Presence flags the chat as composing/paused. Failures are harmless,
// callers may ignore the error.
func (g *Gateway) Presence(ctx context.Context, phone string, typing bool) error {
	state := "paused"
	if typing {
		state = "composing"
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"number": phone, "presence": state}).
		Post("/chat/sendPresence/" + g.instance)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("gateway presence: status %d", resp.StatusCode())
	}
	return nil
}
