package tools

import (
	"context"

	"github.com/vitacare/concierge/internal/clinic"
)

// ExamResultLookup is the slice of the clinic client this tool needs.
type ExamResultLookup interface {
	ExamResults(ctx context.Context, patientExternalID int) ([]clinic.ExamResult, error)
}

// ExamResultsTool tells the patient whether reports are ready.
type ExamResultsTool struct {
	lookup ExamResultLookup
}

func NewExamResultsTool(lookup ExamResultLookup) *ExamResultsTool {
	return &ExamResultsTool{lookup: lookup}
}

func (t *ExamResultsTool) Name() string { return "check_exam_results" }

func (t *ExamResultsTool) Description() string {
	return "Check whether the patient's exam results are available for pickup."
}

func (t *ExamResultsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *ExamResultsTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	if t.lookup == nil {
		return NewResult(`{"available":false,"note":"results lookup not configured, suggest calling the clinic"}`)
	}
	if turn.Patient == nil || turn.Patient.ExternalID == 0 {
		return NewResult(`{"available":false,"note":"patient not identified in the clinic system"}`)
	}

	results, err := t.lookup.ExamResults(ctx, turn.Patient.ExternalID)
	if err != nil {
		return ErrorResult("results service unavailable").WithError(err)
	}
	if len(results) == 0 {
		return NewResult(`{"available":false}`)
	}
	return jsonResult(map[string]interface{}{"available": true, "results": results})
}
