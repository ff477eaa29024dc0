package tools

import (
	"context"
	"time"

	"github.com/vitacare/concierge/internal/slots"
	"github.com/vitacare/concierge/internal/store"
)

// CheckAvailabilityTool surfaces open appointment slots, spread across
// day parts so the model can offer variety.
type CheckAvailabilityTool struct {
	aggregator *slots.Aggregator
	doctors    store.DoctorStore
}

func NewCheckAvailabilityTool(aggregator *slots.Aggregator, doctors store.DoctorStore) *CheckAvailabilityTool {
	return &CheckAvailabilityTool{aggregator: aggregator, doctors: doctors}
}

func (t *CheckAvailabilityTool) Name() string { return "check_availability" }

func (t *CheckAvailabilityTool) Description() string {
	return "Check open appointment slots for a specialty or doctor. Returns up to 9 options spread across mornings and afternoons of the coming days."
}

func (t *CheckAvailabilityTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"specialty": map[string]interface{}{
				"type":        "string",
				"description": "Medical specialty, e.g. 'cardiologia'.",
			},
			"doctor_name": map[string]interface{}{
				"type":        "string",
				"description": "Preferred doctor, optional.",
			},
			"date": map[string]interface{}{
				"type":        "string",
				"description": "Only this day, format 'YYYY-MM-DD', optional.",
			},
			"period": map[string]interface{}{
				"type":        "string",
				"enum":        []string{slots.PeriodMorning, slots.PeriodAfternoon},
				"description": "Only mornings (before 12h) or afternoons, optional.",
			},
		},
	}
}

func (t *CheckAvailabilityTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	specialty, _ := args["specialty"].(string)
	doctorName, _ := args["doctor_name"].(string)

	req := slots.Request{Specialty: specialty}
	if date, _ := args["date"].(string); date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return ErrorResult("date must be 'YYYY-MM-DD'")
		}
		req.Date = date
	}
	if period, _ := args["period"].(string); period != "" {
		if period != slots.PeriodMorning && period != slots.PeriodAfternoon {
			return ErrorResult("period must be 'morning' or 'afternoon'")
		}
		req.Period = period
	}
	if doctorName != "" && specialty != "" {
		if doctors, err := t.doctors.ListBySpecialty(ctx, specialty); err == nil {
			for _, d := range doctors {
				if d.Name == doctorName && d.ExternalID != 0 {
					req.DoctorExternalID = d.ExternalID
					break
				}
			}
		}
	}

	found := t.aggregator.Aggregate(ctx, req)
	spread := slots.Distribute(found, slots.DefaultMax)
	if len(spread) == 0 {
		return NewResult(`{"slots":[],"note":"no availability found"}`)
	}
	return jsonResult(map[string]interface{}{
		"slots":  spread,
		"source": spread[0].Source,
	})
}
