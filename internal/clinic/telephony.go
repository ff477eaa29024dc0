package clinic

import (
	"context"
	"fmt"
)

// Appointment confirmation statuses used by the telephony endpoints.
const (
	StatusConfirmed = "C"
	StatusRefused   = "R"
)

// TelephonyAppointment is one row of the daily confirmation list.
type TelephonyAppointment struct {
	ID      int    `json:"id"`
	Phone   string `json:"telefone"`
	Patient string `json:"paciente"`
	Doctor  string `json:"medico"`
	Date    string `json:"data"`
	Time    string `json:"hora"`
}

// ListForConfirmation returns the appointments of one day that still
// need a confirmation call.
func (c *Client) ListForConfirmation(ctx context.Context, date string) ([]TelephonyAppointment, error) {
	r, err := c.req(ctx)
	if err != nil {
		return nil, err
	}
	var out []TelephonyAppointment
	resp, err := r.SetResult(&out).Get("/api/telefonia/lista/" + date)
	if err != nil {
		return nil, fmt.Errorf("list for confirmation: %w", err)
	}
	if err := checkStatus(resp, "list for confirmation"); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmAppointment records the patient's answer: StatusConfirmed or
// StatusRefused.
func (c *Client) ConfirmAppointment(ctx context.Context, id int, status string) error {
	r, err := c.req(ctx)
	if err != nil {
		return err
	}
	resp, err := r.
		SetBody(map[string]interface{}{"id": id, "status": status}).
		Post("/api/telefonia/confirmar")
	if err != nil {
		return fmt.Errorf("confirm appointment: %w", err)
	}
	return checkStatus(resp, "confirm appointment")
}

// RegisterNPS stores a 0-10 satisfaction score for a finished visit.
func (c *Client) RegisterNPS(ctx context.Context, id int, score int) error {
	r, err := c.req(ctx)
	if err != nil {
		return err
	}
	resp, err := r.
		SetBody(map[string]interface{}{"id": id, "nota": score}).
		Post("/api/telefonia/nps")
	if err != nil {
		return fmt.Errorf("register nps: %w", err)
	}
	return checkStatus(resp, "register nps")
}

// CheckIn marks the patient as arrived.
func (c *Client) CheckIn(ctx context.Context, id int) error {
	r, err := c.req(ctx)
	if err != nil {
		return err
	}
	resp, err := r.SetBody(map[string]interface{}{"id": id}).Post("/api/checkin")
	if err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	return checkStatus(resp, "checkin")
}

// ExamResult is one available exam report.
type ExamResult struct {
	ID     int    `json:"id"`
	Name   string `json:"exame"`
	Date   string `json:"data"`
	Status string `json:"status"`
}

// ExamResults lists the reports available for a patient.
func (c *Client) ExamResults(ctx context.Context, patientExternalID int) ([]ExamResult, error) {
	r, err := c.req(ctx)
	if err != nil {
		return nil, err
	}
	var out []ExamResult
	resp, err := r.
		SetQueryParam("paciente", fmt.Sprint(patientExternalID)).
		SetResult(&out).
		Get("/api/resultados")
	if err != nil {
		return nil, fmt.Errorf("exam results: %w", err)
	}
	if err := checkStatus(resp, "exam results"); err != nil {
		return nil, err
	}
	return out, nil
}
