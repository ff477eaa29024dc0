package escalation

import "testing"

func TestCheck(t *testing.T) {
	tests := []struct {
		name         string
		in           Input
		wantEscalate bool
		wantReason   string
		wantPriority int
	}{
		{
			name:         "medical urgency is priority 1",
			in:           Input{Intent: "medical_urgency", Confidence: 0.9},
			wantEscalate: true,
			wantReason:   ReasonMedicalUrgency,
			wantPriority: 1,
		},
		{
			name:         "human request",
			in:           Input{Intent: "human_request", Confidence: 0.9},
			wantEscalate: true,
			wantReason:   ReasonHumanRequest,
			wantPriority: 2,
		},
		{
			name:         "complaint",
			in:           Input{Intent: "complaint", Confidence: 0.9},
			wantEscalate: true,
			wantReason:   ReasonComplaint,
			wantPriority: 2,
		},
		{
			name:         "strongly negative sentiment",
			in:           Input{Intent: "price_inquiry", Confidence: 0.9, SentimentScore: -0.8},
			wantEscalate: true,
			wantReason:   ReasonNegativeSentiment,
			wantPriority: 3,
		},
		{
			name:         "low model confidence",
			in:           Input{Intent: "unknown", Confidence: 0.2},
			wantEscalate: true,
			wantReason:   ReasonLowConfidence,
			wantPriority: 4,
		},
		{
			name:         "repeated unknowns",
			in:           Input{Intent: "unknown", Confidence: 0.9, ConsecutiveUnknowns: 3},
			wantEscalate: true,
			wantReason:   ReasonRepeatedUnknown,
			wantPriority: 4,
		},
		{
			name: "ordinary turn does not escalate",
			in:   Input{Intent: "appointment_booking", Confidence: 0.85},
		},
		{
			name: "zero confidence means unreported, not low",
			in:   Input{Intent: "greeting"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.in)
			if got.Escalate != tt.wantEscalate {
				t.Fatalf("Escalate = %v, want %v", got.Escalate, tt.wantEscalate)
			}
			if got.Reason != tt.wantReason || got.Priority != tt.wantPriority {
				t.Errorf("got (%q, %d), want (%q, %d)", got.Reason, got.Priority, tt.wantReason, tt.wantPriority)
			}
		})
	}
}
