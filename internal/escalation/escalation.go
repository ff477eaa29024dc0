// Package escalation decides when a conversation leaves automated
// handling. The policy is deliberately conservative: medical urgency
// and explicit human requests always win, softer signals need to
// accumulate.
package escalation

// Input is everything the policy looks at for one turn.
type Input struct {
	Intent              string
	Confidence          float64 // model self-reported, 0..1
	ConsecutiveUnknowns int
	SentimentScore      float64 // -1..1
}

// Decision carries the verdict. Priority runs 1 (highest) to 5.
type Decision struct {
	Escalate bool
	Reason   string
	Priority int
}

const (
	confidenceFloor = 0.4
	unknownCeiling  = 3
	sentimentFloor  = -0.5
)

// Reason codes, stable for reporting.
const (
	ReasonMedicalUrgency    = "medical_urgency"
	ReasonHumanRequest      = "human_request"
	ReasonComplaint         = "complaint"
	ReasonNegativeSentiment = "negative_sentiment"
	ReasonLowConfidence     = "low_confidence"
	ReasonRepeatedUnknown   = "repeated_unknown"
)

// Check applies the policy in severity order.
func Check(in Input) Decision {
	switch in.Intent {
	case "medical_urgency":
		return Decision{Escalate: true, Reason: ReasonMedicalUrgency, Priority: 1}
	case "human_request":
		return Decision{Escalate: true, Reason: ReasonHumanRequest, Priority: 2}
	case "complaint":
		return Decision{Escalate: true, Reason: ReasonComplaint, Priority: 2}
	}

	if in.SentimentScore <= sentimentFloor {
		return Decision{Escalate: true, Reason: ReasonNegativeSentiment, Priority: 3}
	}
	if in.Confidence > 0 && in.Confidence < confidenceFloor {
		return Decision{Escalate: true, Reason: ReasonLowConfidence, Priority: 4}
	}
	if in.ConsecutiveUnknowns >= unknownCeiling {
		return Decision{Escalate: true, Reason: ReasonRepeatedUnknown, Priority: 4}
	}

	return Decision{}
}
