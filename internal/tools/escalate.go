package tools

import "context"

// EscalateTool hands the conversation to a person. The pipeline reads
// the flag off the turn and does the actual persistence and flag flip.
type EscalateTool struct{}

func NewEscalateTool() *EscalateTool { return &EscalateTool{} }

func (t *EscalateTool) Name() string { return "escalate_to_human" }

func (t *EscalateTool) Description() string {
	return "Hand this conversation to a human attendant. Use for medical urgency, explicit requests, or anything outside your scope."
}

func (t *EscalateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Short reason for the handoff.",
			},
		},
		"required": []string{"reason"},
	}
}

func (t *EscalateTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "requested by agent"
	}
	turn.Escalated = true
	turn.EscalationReason = reason
	return NewResult(`{"escalated":true,"note":"a human attendant will take over; say goodbye briefly"}`)
}
