// Package fsm computes conversation-state transitions from the signals
// of one processed turn.
package fsm

import "github.com/vitacare/concierge/internal/model"

// Signals are the facts a turn produced, in priority order of effect.
type Signals struct {
	Escalated      bool
	Closing        bool
	HasAppointment bool
	Disengaged     bool
}

// Result reports where the machine ended up. Changed is false both when
// no rule matched and when the matched target was not allowed from the
// current state.
type Result struct {
	NewState model.ConversationState
	Changed  bool
}

// transitions is the allow-list per state. CLOSED is terminal.
var transitions = map[model.ConversationState][]model.ConversationState{
	model.StateGreeting: {
		model.StateExploring, model.StateScheduling, model.StatePriceDiscussion,
		model.StateServiceInquiry, model.StateEscalated, model.StateClosed,
	},
	model.StateExploring: {
		model.StateScheduling, model.StatePriceDiscussion, model.StateServiceInquiry,
		model.StateEscalated, model.StateFollowUp, model.StateClosed,
	},
	model.StateScheduling: {
		model.StateExploring, model.StatePriceDiscussion, model.StateServiceInquiry,
		model.StateEscalated, model.StatePostBooking, model.StateFollowUp, model.StateClosed,
	},
	model.StatePriceDiscussion: {
		model.StateExploring, model.StateScheduling, model.StateServiceInquiry,
		model.StateEscalated, model.StateFollowUp, model.StateClosed,
	},
	model.StateServiceInquiry: {
		model.StateExploring, model.StateScheduling, model.StatePriceDiscussion,
		model.StateEscalated, model.StateFollowUp, model.StateClosed,
	},
	model.StateEscalated: {
		model.StatePostBooking, model.StateClosed,
	},
	model.StatePostBooking: {
		model.StateScheduling, model.StateEscalated, model.StateFollowUp, model.StateClosed,
	},
	model.StateFollowUp: {
		model.StateExploring, model.StateScheduling, model.StateEscalated, model.StateClosed,
	},
	model.StateClosed: nil,
}

// intentTargets maps an intent label to the state it pulls toward.
var intentTargets = map[string]model.ConversationState{
	"greeting":             model.StateGreeting,
	"appointment_booking":  model.StateScheduling,
	"availability_inquiry": model.StateScheduling,
	"cancellation":         model.StateScheduling,
	"reschedule":           model.StateScheduling,
	"price_inquiry":        model.StatePriceDiscussion,
	"service_info":         model.StateServiceInquiry,
	"complaint":            model.StateEscalated,
	"medical_urgency":      model.StateEscalated,
	"human_request":        model.StateEscalated,
}

// Transition applies the first matching rule: escalation, closing,
// appointment created, disengagement, then the intent table, then the
// greeting default.
func Transition(current model.ConversationState, intent string, sig Signals) Result {
	switch {
	case sig.Escalated:
		return TryTransition(current, model.StateEscalated)
	case sig.Closing || intent == "farewell":
		return TryTransition(current, model.StateClosed)
	case sig.HasAppointment:
		return TryTransition(current, model.StatePostBooking)
	case sig.Disengaged:
		return TryTransition(current, model.StateFollowUp)
	}

	if target, ok := intentTargets[intent]; ok && target != current {
		return TryTransition(current, target)
	}

	if current == model.StateGreeting && intent != "greeting" {
		return TryTransition(current, model.StateExploring)
	}

	return Result{NewState: current, Changed: false}
}

// TryTransition moves to target only if the current state's allow-list
// permits it.
func TryTransition(current, target model.ConversationState) Result {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return Result{NewState: target, Changed: true}
		}
	}
	return Result{NewState: current, Changed: false}
}
