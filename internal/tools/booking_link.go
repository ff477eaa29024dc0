package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/slots"
	"github.com/vitacare/concierge/internal/store"
)

// BookingLinkTool issues a single-use self-service booking link for
// patients who prefer to pick a slot on the web page.
type BookingLinkTool struct {
	links    store.BookingLinkStore
	services store.ServiceStore
	baseURL  string
	ttl      time.Duration
	now      func() time.Time
}

func NewBookingLinkTool(links store.BookingLinkStore, services store.ServiceStore, baseURL string, ttl time.Duration) *BookingLinkTool {
	return &BookingLinkTool{links: links, services: services, baseURL: baseURL, ttl: ttl, now: time.Now}
}

func (t *BookingLinkTool) Name() string { return "generate_booking_link" }

func (t *BookingLinkTool) Description() string {
	return "Create a personal booking link so the patient can pick a slot themselves. Valid for 48 hours, single use."
}

func (t *BookingLinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"specialty": map[string]interface{}{
				"type":        "string",
				"description": "Specialty to pre-select, optional.",
			},
			"doctor_id": map[string]interface{}{
				"type":        "string",
				"description": "Doctor to pre-select, optional.",
			},
			"service_name": map[string]interface{}{
				"type":        "string",
				"description": "Service to pre-select, optional.",
			},
			"period": map[string]interface{}{
				"type":        "string",
				"enum":        []string{slots.PeriodMorning, slots.PeriodAfternoon},
				"description": "Day part the patient prefers, optional.",
			},
		},
	}
}

func (t *BookingLinkTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	specialty, _ := args["specialty"].(string)

	var doctorID uuid.UUID
	if s, _ := args["doctor_id"].(string); s != "" {
		parsed, err := uuid.Parse(s)
		if err != nil {
			return ErrorResult("doctor_id is not a valid id")
		}
		doctorID = parsed
	}

	var serviceID uuid.UUID
	if name, _ := args["service_name"].(string); name != "" {
		if svc, err := t.services.FindByName(ctx, name); err == nil {
			serviceID = svc.ID
		}
	}

	period, _ := args["period"].(string)
	if period != "" && period != slots.PeriodMorning && period != slots.PeriodAfternoon {
		return ErrorResult("period must be 'morning' or 'afternoon'")
	}

	link := &model.BookingLink{
		Token:          newToken(),
		PatientPhone:   turn.Conversation.PatientPhone,
		PatientName:    turn.Conversation.PatientName,
		ConversationID: turn.Conversation.ID,
		Specialty:      specialty,
		DoctorID:       doctorID,
		ServiceID:      serviceID,
		Period:         period,
		Status:         model.LinkPending,
		ExpiresAt:      t.now().Add(t.ttl),
	}
	if err := t.links.Create(ctx, link); err != nil {
		return ErrorResult("could not create the booking link").WithError(err)
	}

	return jsonResult(map[string]interface{}{
		"url":        t.baseURL + "/" + link.Token,
		"expires_at": link.ExpiresAt.Format(time.RFC3339),
	})
}
