package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vitacare/concierge/internal/booking"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

const maxBodyBytes = 64 << 10

type bookingPageResponse struct {
	Status      string       `json:"status"`
	PatientName string       `json:"patient_name,omitempty"`
	Specialty   string       `json:"specialty,omitempty"`
	Doctor      string       `json:"doctor,omitempty"`
	Service     string       `json:"service,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Slots       []model.Slot `json:"slots"`
}

// handleBookingPage serves the data behind a self-service booking link.
func (s *Server) handleBookingPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.booking.Load(r.Context(), r.PathValue("token"))
	if err != nil {
		if errors.Is(err, booking.ErrLinkNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
			return
		}
		s.logger.Error("booking page load failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	resp := bookingPageResponse{
		Status:      string(page.Link.Status),
		PatientName: page.Link.PatientName,
		Specialty:   page.Link.Specialty,
		ExpiresAt:   page.Link.ExpiresAt,
		Slots:       page.Slots,
	}
	if page.Doctor != nil {
		resp.Doctor = page.Doctor.Name
	}
	if page.Service != nil {
		resp.Service = page.Service.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

type bookingConfirmRequest struct {
	Name       string `json:"name"`
	CPF        string `json:"cpf"`
	BirthDate  string `json:"birth_date"`
	SlotAt     string `json:"slot_at"` // RFC 3339
	SlotSource string `json:"slot_source"`
}

// handleBookingConfirm books the chosen slot. Outcomes map onto HTTP
// statuses so the page can show the right message on a second click or
// a stale tab.
func (s *Server) handleBookingConfirm(w http.ResponseWriter, r *http.Request) {
	var req bookingConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	slotAt, err := time.Parse(time.RFC3339, req.SlotAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid slot_at"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	result, err := s.booking.Confirm(r.Context(), booking.ConfirmInput{
		Token:      r.PathValue("token"),
		Name:       req.Name,
		CPF:        req.CPF,
		BirthDate:  req.BirthDate,
		SlotAt:     slotAt,
		SlotSource: model.SlotSource(req.SlotSource),
	})
	if err != nil {
		s.logger.Error("booking confirm failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	switch result.Outcome {
	case store.ConfirmOK:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "booked",
			"appointment_id": result.Appointment.ID.String(),
		})
	case store.ConfirmNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "link not found"})
	case store.ConfirmUsed:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "link already used"})
	case store.ConfirmConflict:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "slot no longer available"})
	case store.ConfirmExpired:
		writeJSON(w, http.StatusGone, map[string]string{"error": "link expired"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
