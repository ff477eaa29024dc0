package fsm

import (
	"testing"

	"github.com/vitacare/concierge/internal/model"
)

func TestTransition_PriorityOrder(t *testing.T) {
	tests := []struct {
		name        string
		current     model.ConversationState
		intent      string
		sig         Signals
		wantState   model.ConversationState
		wantChanged bool
	}{
		{
			name:        "escalation beats everything",
			current:     model.StateScheduling,
			intent:      "farewell",
			sig:         Signals{Escalated: true, Closing: true, HasAppointment: true},
			wantState:   model.StateEscalated,
			wantChanged: true,
		},
		{
			name:        "closing flag",
			current:     model.StateExploring,
			intent:      "price_inquiry",
			sig:         Signals{Closing: true},
			wantState:   model.StateClosed,
			wantChanged: true,
		},
		{
			name:        "farewell intent closes",
			current:     model.StatePostBooking,
			intent:      "farewell",
			wantState:   model.StateClosed,
			wantChanged: true,
		},
		{
			name:        "appointment created",
			current:     model.StateScheduling,
			intent:      "appointment_booking",
			sig:         Signals{HasAppointment: true},
			wantState:   model.StatePostBooking,
			wantChanged: true,
		},
		{
			name:        "disengagement",
			current:     model.StateExploring,
			intent:      "unknown",
			sig:         Signals{Disengaged: true},
			wantState:   model.StateFollowUp,
			wantChanged: true,
		},
		{
			name:        "intent table booking",
			current:     model.StateExploring,
			intent:      "appointment_booking",
			wantState:   model.StateScheduling,
			wantChanged: true,
		},
		{
			name:        "intent table price",
			current:     model.StateGreeting,
			intent:      "price_inquiry",
			wantState:   model.StatePriceDiscussion,
			wantChanged: true,
		},
		{
			name:        "human request escalates",
			current:     model.StateServiceInquiry,
			intent:      "human_request",
			wantState:   model.StateEscalated,
			wantChanged: true,
		},
		{
			name:        "greeting default progression",
			current:     model.StateGreeting,
			intent:      "unknown",
			wantState:   model.StateExploring,
			wantChanged: true,
		},
		{
			name:        "greeting intent in greeting stays put",
			current:     model.StateGreeting,
			intent:      "greeting",
			wantState:   model.StateGreeting,
			wantChanged: false,
		},
		{
			name:        "no rule matches",
			current:     model.StateScheduling,
			intent:      "availability_inquiry",
			wantState:   model.StateScheduling,
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(tt.current, tt.intent, tt.sig)
			if got.NewState != tt.wantState || got.Changed != tt.wantChanged {
				t.Errorf("Transition(%s, %s) = (%s, %v), want (%s, %v)",
					tt.current, tt.intent, got.NewState, got.Changed, tt.wantState, tt.wantChanged)
			}
		})
	}
}

func TestTryTransition_AllowList(t *testing.T) {
	// Escalated conversations cannot wander back to scheduling on their
	// own.
	got := TryTransition(model.StateEscalated, model.StateScheduling)
	if got.Changed {
		t.Errorf("escalated -> scheduling should be disallowed, got %v", got)
	}
	if got.NewState != model.StateEscalated {
		t.Errorf("disallowed transition must keep current state, got %s", got.NewState)
	}

	got = TryTransition(model.StateEscalated, model.StateClosed)
	if !got.Changed || got.NewState != model.StateClosed {
		t.Errorf("escalated -> closed should be allowed, got %v", got)
	}
}

func TestTryTransition_ClosedIsTerminal(t *testing.T) {
	for _, target := range []model.ConversationState{
		model.StateGreeting, model.StateExploring, model.StateScheduling,
		model.StateEscalated, model.StateFollowUp,
	} {
		got := TryTransition(model.StateClosed, target)
		if got.Changed {
			t.Errorf("closed -> %s should be disallowed", target)
		}
	}
}

func TestTransition_EscalationAlwaysAttempted(t *testing.T) {
	// Every non-terminal state can escalate.
	for state := range map[model.ConversationState]bool{
		model.StateGreeting: true, model.StateExploring: true,
		model.StateScheduling: true, model.StatePriceDiscussion: true,
		model.StateServiceInquiry: true, model.StatePostBooking: true,
		model.StateFollowUp: true,
	} {
		got := Transition(state, "greeting", Signals{Escalated: true})
		if got.NewState != model.StateEscalated {
			t.Errorf("%s with escalation signal -> %s, want escalated", state, got.NewState)
		}
	}
}
