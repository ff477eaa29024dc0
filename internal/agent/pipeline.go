package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitacare/concierge/internal/debounce"
	"github.com/vitacare/concierge/internal/escalation"
	"github.com/vitacare/concierge/internal/events"
	"github.com/vitacare/concierge/internal/fsm"
	"github.com/vitacare/concierge/internal/intent"
	"github.com/vitacare/concierge/internal/knowledge"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/providers"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/store"
	"github.com/vitacare/concierge/internal/tools"
	"github.com/vitacare/concierge/internal/tracing"
)

// Pipeline runs one agent turn per job: drain, classify, retrieve,
// converse with tools, decide escalation, move the state machine,
// persist and fan out the reply.
type Pipeline struct {
	provider  providers.Provider
	registry  *tools.Registry
	stores    *store.Stores
	debouncer *debounce.Coordinator
	jobs      *queue.Client
	knowledge knowledge.Searcher
	publisher *events.Publisher
	logger    *slog.Logger

	prompt        PromptConfig
	maxIterations int
	followUpDelay time.Duration
	now           func() time.Time
}

func NewPipeline(
	provider providers.Provider,
	registry *tools.Registry,
	stores *store.Stores,
	debouncer *debounce.Coordinator,
	jobs *queue.Client,
	kb knowledge.Searcher,
	publisher *events.Publisher,
	logger *slog.Logger,
	prompt PromptConfig,
	maxIterations int,
	followUpDelay time.Duration,
) *Pipeline {
	return &Pipeline{
		provider:      provider,
		registry:      registry,
		stores:        stores,
		debouncer:     debouncer,
		jobs:          jobs,
		knowledge:     kb,
		publisher:     publisher,
		logger:        logger,
		prompt:        prompt,
		maxIterations: maxIterations,
		followUpDelay: followUpDelay,
		now:           time.Now,
	}
}

// Handle processes one turn job.
func (p *Pipeline) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.PipelinePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	text := payload.Text
	if text == debounce.Sentinel {
		drained, err := p.debouncer.Drain(ctx, payload.Phone)
		if err != nil {
			return err
		}
		if drained == "" {
			// Another turn already consumed the batch.
			return nil
		}
		text = drained
	}

	conv, err := p.stores.Conversations.GetByID(ctx, payload.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("turn for missing conversation", "conversation", payload.ConversationID)
			return nil
		}
		return err
	}
	if !conv.IsAIHandling {
		return nil
	}

	var patient *model.Patient
	if conv.PatientID != uuid.Nil {
		patient, err = p.stores.Patients.GetByID(ctx, conv.PatientID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	started := p.now()
	cls := intent.Classify(text)
	disengaged, _ := intent.DetectDisengagement(text)
	sentiment := intent.Sentiment(text)

	chunks, err := p.knowledge.Search(ctx, text, 5)
	if err != nil {
		p.logger.Warn("knowledge search failed", "conversation", conv.ID, "error", err)
		chunks = nil
	}

	turn := &tools.Turn{Conversation: conv, Patient: patient}
	reply, usage := p.converse(ctx, turn, conv, patient, chunks)

	unknowns := trailingUnknowns(conv.Intents)
	if cls.Primary == intent.Unknown {
		unknowns++
	}
	decision := escalation.Check(escalation.Input{
		Intent:              cls.Primary,
		ConsecutiveUnknowns: unknowns,
		SentimentScore:      sentiment,
	})

	escalated := turn.Escalated || decision.Escalate
	if escalated {
		reason := turn.EscalationReason
		priority := 2
		if !turn.Escalated {
			reason = decision.Reason
			priority = decision.Priority
			reply = joinNonEmpty("\n\n", reply, handoffReply)
		}
		if err := p.escalate(ctx, conv, patient, reason, priority); err != nil {
			return err
		}
		conv.IsAIHandling = false
	}

	res := fsm.Transition(conv.State, cls.Primary, fsm.Signals{
		Escalated:      escalated,
		HasAppointment: turn.Booked != nil,
		Disengaged:     disengaged,
	})
	var change *model.StateChange
	if res.Changed {
		change = &model.StateChange{From: conv.State, To: res.NewState}
		conv.PriorStates = append(conv.PriorStates, model.PriorState{State: conv.State, At: p.now()})
		conv.State = res.NewState
	}

	conv.Intents = append(conv.Intents, cls.Primary)
	conv.Disengaged = disengaged
	conv.SentimentScore = sentiment

	meta := &model.AIMetadata{
		Model:           p.provider.DefaultModel(),
		Intent:          cls.Primary,
		StateTransition: change,
		ToolsUsed:       turn.ToolsUsed,
		LatencyMS:       p.now().Sub(started).Milliseconds(),
	}
	if usage != nil {
		meta.PromptTokens = usage.PromptTokens
		meta.CompletionTokens = usage.CompletionTokens
	}
	conv.Messages = append(conv.Messages, model.Message{
		Sender:         model.SenderAgent,
		Text:           reply,
		Type:           model.MessageText,
		DeliveryStatus: model.DeliveryPending,
		AI:             meta,
		Timestamp:      p.now(),
	})
	conv.Metrics.TotalMessages++
	conv.Metrics.AgentMessages++
	conv.LastMessageAt = p.now()

	if err := p.stores.Conversations.Save(ctx, conv); err != nil {
		return err
	}

	if turn.Booked != nil && turn.Booked.SyncStatus == model.SyncPending {
		if _, err := p.jobs.Enqueue(ctx, queue.QueueSync, queue.SyncPayload{AppointmentID: turn.Booked.ID}, queue.Opts{
			MaxAttempts: 3,
			BackoffBase: 5 * time.Second,
		}); err != nil {
			p.logger.Error("sync enqueue failed", "appointment", turn.Booked.ID, "error", err)
		}
	}
	if disengaged && !escalated {
		if _, err := p.jobs.Enqueue(ctx, queue.QueueFollowUp, queue.FollowUpPayload{
			ConversationID: conv.ID,
			Phone:          conv.PatientPhone,
		}, queue.Opts{Delay: p.followUpDelay}); err != nil {
			p.logger.Error("follow-up enqueue failed", "conversation", conv.ID, "error", err)
		}
	}

	if _, err := p.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		ConversationID: conv.ID,
		Phone:          conv.PatientPhone,
		Text:           reply,
		Interactive:    turn.Interactive,
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second}); err != nil {
		return err
	}

	if _, err := p.jobs.Enqueue(ctx, queue.QueueAnalytics, queue.AnalyticsPayload{
		ConversationID:   conv.ID,
		Intent:           cls.Primary,
		State:            conv.State,
		Escalated:        escalated,
		PromptTokens:     meta.PromptTokens,
		CompletionTokens: meta.CompletionTokens,
		LatencyMS:        meta.LatencyMS,
	}, queue.Opts{}); err != nil {
		p.logger.Error("analytics enqueue failed", "conversation", conv.ID, "error", err)
	}

	p.publisher.Publish(ctx, events.ChannelConversations, "turn.completed", map[string]interface{}{
		"conversation_id": conv.ID,
		"state":           conv.State,
		"intent":          cls.Primary,
	})
	return nil
}

// converse runs the tool-calling loop. Model failures and exhausted
// iterations both degrade to a rephrase request rather than an error;
// the patient always gets an answer.
func (p *Pipeline) converse(ctx context.Context, turn *tools.Turn, conv *model.Conversation, patient *model.Patient, chunks []knowledge.Chunk) (string, *providers.Usage) {
	msgs := make([]providers.Message, 0, historyLimit+2)
	msgs = append(msgs, providers.Message{
		Role:    "system",
		Content: buildSystemPrompt(p.prompt, conv, patient, chunks, p.now()),
	})
	msgs = append(msgs, buildHistory(conv)...)

	var total providers.Usage
	for i := 0; i < p.maxIterations; i++ {
		chatCtx, span := tracing.StartSpan(ctx, "llm.chat", trace.WithAttributes(
			attribute.String("llm.model", p.provider.DefaultModel()),
			attribute.Int("llm.iteration", i),
		))
		resp, err := p.provider.Chat(chatCtx, providers.ChatRequest{
			Messages: msgs,
			Tools:    p.registry.Definitions(),
		})
		if err != nil {
			tracing.RecordError(chatCtx, err)
			span.End()
			p.logger.Error("model call failed", "conversation", conv.ID, "error", err)
			return rephraseReply, &total
		}
		if resp.Usage != nil {
			span.SetAttributes(
				attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
				attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
			)
			total.PromptTokens += resp.Usage.PromptTokens
			total.CompletionTokens += resp.Usage.CompletionTokens
		}
		span.End()

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				return rephraseReply, &total
			}
			return resp.Content, &total
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := p.registry.Execute(ctx, turn, call)
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}
	}

	p.logger.Warn("tool loop exhausted", "conversation", conv.ID, "iterations", p.maxIterations)
	return rephraseReply, &total
}

func (p *Pipeline) escalate(ctx context.Context, conv *model.Conversation, patient *model.Patient, reason string, priority int) error {
	esc := &model.Escalation{
		ConversationID: conv.ID,
		Reason:         reason,
		Priority:       priority,
	}
	if patient != nil {
		esc.PatientID = patient.ID
	}
	if err := p.stores.Escalations.Create(ctx, esc); err != nil {
		return err
	}
	p.publisher.Publish(ctx, events.ChannelEscalations, "escalation.created", map[string]interface{}{
		"conversation_id": conv.ID,
		"reason":          reason,
		"priority":        priority,
	})
	return nil
}
