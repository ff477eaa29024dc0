package clinic

import (
	"context"
	"fmt"
	"time"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/slots"
)

type wireSlot struct {
	Date string `json:"data"` // YYYY-MM-DD
	Time string `json:"hora"` // HH:MM
	Free bool   `json:"livre"`
}

func (c *Client) fetchSlots(ctx context.Context, path string, req slots.Request) ([]model.Slot, error) {
	r, err := c.req(ctx)
	if err != nil {
		return nil, err
	}
	days := req.Days
	if days <= 0 {
		days = 7
	}
	now := time.Now()
	r = r.SetQueryParams(map[string]string{
		"inicio": now.Format("2006-01-02"),
		"fim":    now.AddDate(0, 0, days).Format("2006-01-02"),
	})
	if req.Specialty != "" {
		r = r.SetQueryParam("especialidade", req.Specialty)
	}
	if req.DoctorExternalID != 0 {
		r = r.SetQueryParam("profissional", fmt.Sprint(req.DoctorExternalID))
	}

	var out []wireSlot
	resp, err := r.SetResult(&out).Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch slots: %w", err)
	}
	if err := checkStatus(resp, "fetch slots"); err != nil {
		return nil, err
	}

	result := make([]model.Slot, 0, len(out))
	for _, s := range out {
		if !s.Free {
			continue
		}
		at, err := time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.Time, now.Location())
		if err != nil || !at.After(now) {
			continue
		}
		result = append(result, model.Slot{
			Date:     s.Date,
			Time:     s.Time,
			DateTime: at,
			Source:   model.SlotSourceClinic,
		})
	}
	return result, nil
}

// slotSource adapts one endpoint to slots.Source.
type slotSource struct {
	c    *Client
	path string
}

func (s slotSource) Fetch(ctx context.Context, req slots.Request) ([]model.Slot, error) {
	return s.c.fetchSlots(ctx, s.path, req)
}

// RealtimeSlots is the primary availability tier.
func (c *Client) RealtimeSlots() slots.Source {
	return slotSource{c: c, path: "/api/agenda/horarios"}
}

// BatchSlots is the legacy availability tier, slower and staler.
func (c *Client) BatchSlots() slots.Source {
	return slotSource{c: c, path: "/api/agenda/horarios/lote"}
}

// BookingRequest creates one appointment in the clinic system.
type BookingRequest struct {
	PatientExternalID int    `json:"id_pessoa"`
	DoctorExternalID  int    `json:"profissional"`
	Date              string `json:"data"` // YYYY-MM-DD
	Time              string `json:"hora"` // HH:MM
}

type bookingResponse struct {
	ID      int    `json:"id"`
	Voucher string `json:"voucher"`
}

// CreateBooking books the slot and returns the external reference.
func (c *Client) CreateBooking(ctx context.Context, in BookingRequest) (string, error) {
	r, err := c.req(ctx)
	if err != nil {
		return "", err
	}
	var out bookingResponse
	resp, err := r.SetBody(in).SetResult(&out).Post("/api/agenda/horario")
	if err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	if err := checkStatus(resp, "create booking"); err != nil {
		return "", err
	}
	if out.Voucher != "" {
		return out.Voucher, nil
	}
	if out.ID != 0 {
		return fmt.Sprint(out.ID), nil
	}
	return "", fmt.Errorf("create booking: empty response")
}

// CancelBooking voids the external booking.
func (c *Client) CancelBooking(ctx context.Context, externalID string) error {
	r, err := c.req(ctx)
	if err != nil {
		return err
	}
	resp, err := r.SetQueryParam("id", externalID).Delete("/api/voucher")
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	return checkStatus(resp, "cancel booking")
}
