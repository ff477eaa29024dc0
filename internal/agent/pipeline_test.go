package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vitacare/concierge/internal/debounce"
	"github.com/vitacare/concierge/internal/knowledge"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/providers"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/store"
	"github.com/vitacare/concierge/internal/tools"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.calls >= len(s.responses) {
		last := s.responses[len(s.responses)-1]
		s.calls++
		return last, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *scriptedProvider) DefaultModel() string { return "test-model" }
func (s *scriptedProvider) Name() string         { return "scripted" }

type memConversations struct {
	store.ConversationStore

	byID  map[uuid.UUID]*model.Conversation
	saves int
}

func (m *memConversations) GetByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *memConversations) Save(ctx context.Context, c *model.Conversation) error {
	m.saves++
	m.byID[c.ID] = c
	return nil
}

type memPatients struct {
	store.PatientStore

	byID map[uuid.UUID]*model.Patient
}

func (m *memPatients) GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

type memEscalations struct {
	store.EscalationStore

	created []*model.Escalation
}

func (m *memEscalations) Create(ctx context.Context, e *model.Escalation) error {
	m.created = append(m.created, e)
	return nil
}

type emptyKnowledge struct{}

func (emptyKnowledge) Search(ctx context.Context, q string, limit int) ([]knowledge.Chunk, error) {
	return nil, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	convs    *memConversations
	escs     *memEscalations
	jobs     *queue.Client
	conv     *model.Conversation
}

func newFixture(t *testing.T, provider providers.Provider, reg *tools.Registry, patientText string) *pipelineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	jobs := queue.NewClient(rdb)
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	if reg == nil {
		reg = tools.NewRegistry(logger)
	}

	patient := &model.Patient{ID: store.GenNewID(), Phone: "5511988880000", Name: "João"}
	conv := &model.Conversation{
		ID:           store.GenNewID(),
		PatientPhone: patient.Phone,
		PatientName:  patient.Name,
		PatientID:    patient.ID,
		State:        model.StateGreeting,
		IsAIHandling: true,
		Messages: []model.Message{
			{Sender: model.SenderPatient, Text: patientText, Type: model.MessageText, Timestamp: time.Now()},
		},
		Metrics: model.Metrics{TotalMessages: 1, PatientMessages: 1},
	}

	convs := &memConversations{byID: map[uuid.UUID]*model.Conversation{conv.ID: conv}}
	escs := &memEscalations{}
	stores := &store.Stores{
		Conversations: convs,
		Patients:      &memPatients{byID: map[uuid.UUID]*model.Patient{patient.ID: patient}},
		Escalations:   escs,
	}

	p := NewPipeline(
		provider, reg, stores,
		debounce.New(rdb, jobs, 4*time.Second),
		jobs, emptyKnowledge{}, nil, logger,
		PromptConfig{ClinicName: "VitaCare", AgentName: "Vita"},
		8, 24*time.Hour,
	)
	return &pipelineFixture{pipeline: p, convs: convs, escs: escs, jobs: jobs, conv: conv}
}

func turnJob(t *testing.T, conv *model.Conversation, text string) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(queue.PipelinePayload{ConversationID: conv.ID, Phone: conv.PatientPhone, Text: text})
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: "t1", Queue: queue.QueuePipeline, Payload: raw}
}

func popPayload(t *testing.T, jobs *queue.Client, queueName string, v interface{}) bool {
	t.Helper()
	job, err := jobs.Pop(context.Background(), queueName, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		return false
	}
	if err := job.Decode(v); err != nil {
		t.Fatal(err)
	}
	return true
}

func TestPipelineRepliesAndPersists(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "Claro! Qual especialidade você procura?", FinishReason: "stop", Usage: &providers.Usage{PromptTokens: 120, CompletionTokens: 18}},
	}}
	f := newFixture(t, provider, nil, "quero marcar uma consulta")

	if err := f.pipeline.Handle(context.Background(), turnJob(t, f.conv, "quero marcar uma consulta")); err != nil {
		t.Fatal(err)
	}

	conv := f.convs.byID[f.conv.ID]
	last := conv.Messages[len(conv.Messages)-1]
	if last.Sender != model.SenderAgent || last.Text != "Claro! Qual especialidade você procura?" {
		t.Fatalf("agent message = %+v", last)
	}
	if last.AI == nil || last.AI.Intent != "appointment_booking" || last.AI.PromptTokens != 120 {
		t.Errorf("metadata = %+v", last.AI)
	}
	if conv.State != model.StateScheduling {
		t.Errorf("state = %s, want scheduling", conv.State)
	}
	if last.AI.StateTransition == nil || last.AI.StateTransition.To != model.StateScheduling {
		t.Errorf("transition = %+v", last.AI.StateTransition)
	}
	if conv.Metrics.AgentMessages != 1 {
		t.Errorf("agent messages = %d", conv.Metrics.AgentMessages)
	}

	var send queue.SendPayload
	if !popPayload(t, f.jobs, queue.QueueSend, &send) {
		t.Fatal("no send job enqueued")
	}
	if send.Text != last.Text || send.Phone != conv.PatientPhone {
		t.Errorf("send = %+v", send)
	}

	var analytics queue.AnalyticsPayload
	if !popPayload(t, f.jobs, queue.QueueAnalytics, &analytics) {
		t.Fatal("no analytics job enqueued")
	}
	if analytics.Intent != "appointment_booking" || analytics.Escalated {
		t.Errorf("analytics = %+v", analytics)
	}
}

type stagingTool struct{}

func (stagingTool) Name() string                       { return "stage_buttons" }
func (stagingTool) Description() string                { return "stage" }
func (stagingTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (stagingTool) Execute(ctx context.Context, turn *tools.Turn, args map[string]interface{}) *tools.Result {
	turn.Interactive = &model.Interactive{
		Kind:    model.InteractiveButtons,
		Text:    "Confirma?",
		Buttons: []model.Button{{ID: "yes", Label: "Sim"}},
	}
	return tools.SilentResult(`{"staged":true}`)
}

func TestPipelineToolLoopCarriesInteractive(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "stage_buttons"}}, FinishReason: "tool_calls"},
		{Content: "Te mandei as opções abaixo.", FinishReason: "stop"},
	}}
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	reg := tools.NewRegistry(logger)
	reg.Register(stagingTool{})

	f := newFixture(t, provider, reg, "pode confirmar minha consulta?")
	if err := f.pipeline.Handle(context.Background(), turnJob(t, f.conv, "pode confirmar minha consulta?")); err != nil {
		t.Fatal(err)
	}

	if provider.calls != 2 {
		t.Errorf("provider calls = %d", provider.calls)
	}
	var send queue.SendPayload
	if !popPayload(t, f.jobs, queue.QueueSend, &send) {
		t.Fatal("no send job enqueued")
	}
	if send.Interactive == nil || send.Interactive.Kind != model.InteractiveButtons {
		t.Errorf("interactive = %+v", send.Interactive)
	}

	conv := f.convs.byID[f.conv.ID]
	last := conv.Messages[len(conv.Messages)-1]
	if len(last.AI.ToolsUsed) != 1 || last.AI.ToolsUsed[0] != "stage_buttons" {
		t.Errorf("tools used = %v", last.AI.ToolsUsed)
	}
}

func TestPipelineSkipsHumanHandledConversation(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "nunca"}}}
	f := newFixture(t, provider, nil, "oi")
	f.conv.IsAIHandling = false

	if err := f.pipeline.Handle(context.Background(), turnJob(t, f.conv, "oi")); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 0 {
		t.Error("model must not be called when a human owns the conversation")
	}
	var send queue.SendPayload
	if popPayload(t, f.jobs, queue.QueueSend, &send) {
		t.Error("no reply should be sent")
	}
}

func TestPipelineEscalatesOnUrgency(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "Sinto muito! Vou pedir ajuda.", FinishReason: "stop"},
	}}
	text := "socorro, estou com muita dor"
	f := newFixture(t, provider, nil, text)

	if err := f.pipeline.Handle(context.Background(), turnJob(t, f.conv, text)); err != nil {
		t.Fatal(err)
	}

	if len(f.escs.created) != 1 {
		t.Fatalf("escalations = %d", len(f.escs.created))
	}
	esc := f.escs.created[0]
	if esc.Reason != "medical_urgency" || esc.Priority != 1 {
		t.Errorf("escalation = %+v", esc)
	}

	conv := f.convs.byID[f.conv.ID]
	if conv.IsAIHandling {
		t.Error("automated handling must stop after escalation")
	}
	if conv.State != model.StateEscalated {
		t.Errorf("state = %s", conv.State)
	}

	var send queue.SendPayload
	if !popPayload(t, f.jobs, queue.QueueSend, &send) {
		t.Fatal("handoff reply missing")
	}
	if !strings.Contains(send.Text, "atendente") {
		t.Errorf("reply = %q", send.Text)
	}
}

func TestPipelineSentinelWithEmptyBufferEndsSilently(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "nunca"}}}
	f := newFixture(t, provider, nil, "oi")

	if err := f.pipeline.Handle(context.Background(), turnJob(t, f.conv, debounce.Sentinel)); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 0 {
		t.Error("empty batch must not reach the model")
	}
	if f.convs.saves != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestPipelineExhaustedLoopAsksToRephrase(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "stage_buttons"}}, FinishReason: "tool_calls"},
	}}
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	reg := tools.NewRegistry(logger)
	reg.Register(stagingTool{})

	f := newFixture(t, provider, reg, "hmm")
	f.pipeline.maxIterations = 2

	if err := f.pipeline.Handle(context.Background(), turnJob(t, f.conv, "hmm")); err != nil {
		t.Fatal(err)
	}
	var send queue.SendPayload
	if !popPayload(t, f.jobs, queue.QueueSend, &send) {
		t.Fatal("no reply enqueued")
	}
	if send.Text != rephraseReply {
		t.Errorf("reply = %q", send.Text)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d", provider.calls)
	}
}

func TestBuildHistoryMergesAndStartsWithPatient(t *testing.T) {
	conv := &model.Conversation{Messages: []model.Message{
		{Sender: model.SenderAgent, Text: "mensagem antiga do agente"},
		{Sender: model.SenderPatient, Text: "oi"},
		{Sender: model.SenderPatient, Text: "quero marcar"},
		{Sender: model.SenderAgent, Text: "claro!"},
		{Sender: model.SenderPatient, Text: "amanhã"},
	}}
	got := buildHistory(conv)
	if len(got) != 3 {
		t.Fatalf("history = %+v", got)
	}
	if got[0].Role != "user" || got[0].Content != "oi\nquero marcar" {
		t.Errorf("merged first turn = %+v", got[0])
	}
	if got[1].Role != "assistant" || got[2].Content != "amanhã" {
		t.Errorf("history = %+v", got)
	}
}

func TestBuildHistoryCapsLength(t *testing.T) {
	conv := &model.Conversation{}
	for i := 0; i < 30; i++ {
		sender := model.SenderPatient
		if i%2 == 1 {
			sender = model.SenderAgent
		}
		conv.Messages = append(conv.Messages, model.Message{Sender: sender, Text: "m"})
	}
	got := buildHistory(conv)
	if len(got) > historyLimit {
		t.Errorf("history longer than cap: %d", len(got))
	}
	if got[0].Role != "user" {
		t.Errorf("first role = %s", got[0].Role)
	}
}
