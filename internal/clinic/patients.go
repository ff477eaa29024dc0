package clinic

import (
	"context"
	"fmt"
)

// PatientRef is the scheduling system's handle for a person.
type PatientRef struct {
	ID   int    `json:"id"`
	Name string `json:"nome"`
}

type identifyResponse struct {
	Found   bool       `json:"encontrado"`
	Patient PatientRef `json:"paciente"`
}

// IdentifyByPhone looks a patient up by phone only. A miss is (nil,
// nil); intake treats identification as best-effort.
func (c *Client) IdentifyByPhone(ctx context.Context, phone string) (*PatientRef, error) {
	r, err := c.req(ctx)
	if err != nil {
		return nil, err
	}
	var out identifyResponse
	resp, err := r.
		SetBody(map[string]interface{}{"telefone": phone, "apenas_telefone": true}).
		SetResult(&out).
		Post("/api/paciente/identificar")
	if err != nil {
		return nil, fmt.Errorf("identify by phone: %w", err)
	}
	if err := checkStatus(resp, "identify"); err != nil {
		return nil, err
	}
	if !out.Found || out.Patient.ID == 0 {
		return nil, nil
	}
	return &out.Patient, nil
}

// IdentifyByCPF looks a patient up by document. A miss is (nil, nil).
func (c *Client) IdentifyByCPF(ctx context.Context, cpf string) (*PatientRef, error) {
	r, err := c.req(ctx)
	if err != nil {
		return nil, err
	}
	var out identifyResponse
	resp, err := r.
		SetQueryParam("cpf", cpf).
		SetResult(&out).
		Get("/api/paciente/cpf")
	if err != nil {
		return nil, fmt.Errorf("identify by cpf: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if err := checkStatus(resp, "identify by cpf"); err != nil {
		return nil, err
	}
	if !out.Found || out.Patient.ID == 0 {
		return nil, nil
	}
	return &out.Patient, nil
}

// CreatePatientRequest carries the minimum the clinic system accepts.
type CreatePatientRequest struct {
	Name      string `json:"nome"`
	CPF       string `json:"cpf,omitempty"`
	BirthDate string `json:"nascimento,omitempty"` // YYYY-MM-DD
	Phone     string `json:"telefone,omitempty"`
}

// CreatePatient registers the person and returns their external id.
func (c *Client) CreatePatient(ctx context.Context, in CreatePatientRequest) (int, error) {
	r, err := c.req(ctx)
	if err != nil {
		return 0, err
	}
	var out PatientRef
	resp, err := r.SetBody(in).SetResult(&out).Post("/api/paciente")
	if err != nil {
		return 0, fmt.Errorf("create patient: %w", err)
	}
	if err := checkStatus(resp, "create patient"); err != nil {
		return 0, err
	}
	if out.ID == 0 {
		return 0, fmt.Errorf("create patient: no id returned")
	}
	return out.ID, nil
}
