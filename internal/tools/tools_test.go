package tools

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/providers"
	"github.com/vitacare/concierge/internal/slots"
	"github.com/vitacare/concierge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func testTurn() *Turn {
	return &Turn{
		Conversation: &model.Conversation{
			ID:           store.GenNewID(),
			PatientPhone: "5511999990000",
			PatientName:  "Maria",
		},
		Patient: &model.Patient{ID: store.GenNewID(), Phone: "5511999990000"},
	}
}

type stubTool struct {
	name string
	fn   func(turn *Turn, args map[string]interface{}) *Result
}

func (s *stubTool) Name() string                          { return s.name }
func (s *stubTool) Description() string                   { return s.name }
func (s *stubTool) Parameters() map[string]interface{}    { return map[string]interface{}{"type": "object"} }
func (s *stubTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	return s.fn(turn, args)
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "alpha", fn: func(turn *Turn, args map[string]interface{}) *Result {
		return NewResult(`{"ok":true}`)
	}})
	reg.Register(&stubTool{name: "beta", fn: func(turn *Turn, args map[string]interface{}) *Result {
		return SilentResult(`{}`)
	}})

	turn := testTurn()
	res := reg.Execute(context.Background(), turn, providers.ToolCall{Name: "alpha"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.ForLLM)
	}
	if res.ForLLM != `{"ok":true}` {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}

	reg.Execute(context.Background(), turn, providers.ToolCall{Name: "beta"})
	if len(turn.ToolsUsed) != 2 || turn.ToolsUsed[0] != "alpha" || turn.ToolsUsed[1] != "beta" {
		t.Errorf("ToolsUsed = %v", turn.ToolsUsed)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(testLogger())
	res := reg.Execute(context.Background(), testTurn(), providers.ToolCall{Name: "nope"})
	if !res.IsError {
		t.Fatal("expected an error result for an unknown tool")
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "boom", fn: func(turn *Turn, args map[string]interface{}) *Result {
		panic("nope")
	}})

	res := reg.Execute(context.Background(), testTurn(), providers.ToolCall{Name: "boom"})
	if !res.IsError {
		t.Fatal("panic should surface as an error result")
	}
}

func TestRegistryExecuteRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "alpha", fn: func(*Turn, map[string]interface{}) *Result {
		return NewResult(`{"ok":true}`)
	}})
	reg.Register(&stubTool{name: "bad", fn: func(*Turn, map[string]interface{}) *Result {
		return ErrorResult("boom")
	}})

	turn := testTurn()
	reg.Execute(context.Background(), turn, providers.ToolCall{Name: "alpha"})
	reg.Execute(context.Background(), turn, providers.ToolCall{Name: "bad"})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Name() != "tool.alpha" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("error result must mark the span: %v", spans[1].Status())
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "b", fn: func(*Turn, map[string]interface{}) *Result { return NewResult("") }})
	reg.Register(&stubTool{name: "a", fn: func(*Turn, map[string]interface{}) *Result { return NewResult("") }})

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "b" || defs[1].Function.Name != "a" {
		t.Errorf("definitions out of registration order: %+v", defs)
	}
}

func TestInteractiveButtonsValidation(t *testing.T) {
	tool := NewInteractiveMessageTool()

	cases := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{
			name: "two valid buttons",
			args: map[string]interface{}{
				"kind": "buttons",
				"text": "Confirma?",
				"buttons": []interface{}{
					map[string]interface{}{"id": "yes", "label": "Sim"},
					map[string]interface{}{"id": "no", "label": "Não"},
				},
			},
		},
		{
			name: "four buttons rejected",
			args: map[string]interface{}{
				"kind": "buttons",
				"text": "Escolha",
				"buttons": []interface{}{
					map[string]interface{}{"id": "1", "label": "Um"},
					map[string]interface{}{"id": "2", "label": "Dois"},
					map[string]interface{}{"id": "3", "label": "Três"},
					map[string]interface{}{"id": "4", "label": "Quatro"},
				},
			},
			wantErr: true,
		},
		{
			name: "label over twenty runes rejected",
			args: map[string]interface{}{
				"kind": "buttons",
				"text": "Escolha",
				"buttons": []interface{}{
					map[string]interface{}{"id": "1", "label": strings.Repeat("á", 21)},
				},
			},
			wantErr: true,
		},
		{
			name: "list without list_button_text rejected",
			args: map[string]interface{}{
				"kind": "list",
				"text": "Horários",
				"sections": []interface{}{
					map[string]interface{}{
						"title": "Manhã",
						"rows": []interface{}{
							map[string]interface{}{"id": "s1", "title": "09:00"},
						},
					},
				},
			},
			wantErr: true,
		},
		{
			name:    "unknown kind rejected",
			args:    map[string]interface{}{"kind": "carousel", "text": "x"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			turn := testTurn()
			res := tool.Execute(context.Background(), turn, tc.args)
			if tc.wantErr {
				if !res.IsError {
					t.Fatalf("expected error, got %q", res.ForLLM)
				}
				if turn.Interactive != nil {
					t.Error("invalid payload must not be staged")
				}
				return
			}
			if res.IsError {
				t.Fatalf("unexpected error: %s", res.ForLLM)
			}
			if !res.Silent {
				t.Error("staging should be silent")
			}
			if turn.Interactive == nil {
				t.Fatal("payload not staged on the turn")
			}
		})
	}
}

func TestInteractiveListStaged(t *testing.T) {
	tool := NewInteractiveMessageTool()
	turn := testTurn()
	res := tool.Execute(context.Background(), turn, map[string]interface{}{
		"kind":             "list",
		"text":             "Horários disponíveis",
		"list_button_text": "Ver horários",
		"sections": []interface{}{
			map[string]interface{}{
				"title": "Terça",
				"rows": []interface{}{
					map[string]interface{}{"id": "s1", "title": "09:00", "description": "Dra. Ana"},
					map[string]interface{}{"id": "s2", "title": "14:00"},
				},
			},
		},
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if turn.Interactive == nil || turn.Interactive.Kind != model.InteractiveList {
		t.Fatalf("staged = %+v", turn.Interactive)
	}
	if len(turn.Interactive.Sections) != 1 || len(turn.Interactive.Sections[0].Rows) != 2 {
		t.Errorf("sections = %+v", turn.Interactive.Sections)
	}
}

type fakeAppointments struct {
	store.AppointmentStore

	conflict  bool
	created   []*model.Appointment
	upcoming  []model.Appointment
	cancelled []uuid.UUID
}

func (f *fakeAppointments) HasConflict(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (bool, error) {
	return f.conflict, nil
}

func (f *fakeAppointments) Create(ctx context.Context, a *model.Appointment) error {
	a.ID = store.GenNewID()
	f.created = append(f.created, a)
	return nil
}

func (f *fakeAppointments) ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, after time.Time) ([]model.Appointment, error) {
	return f.upcoming, nil
}

func (f *fakeAppointments) Cancel(ctx context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeServices struct {
	store.ServiceStore

	svc *model.Service
}

func (f *fakeServices) FindByName(ctx context.Context, name string) (*model.Service, error) {
	if f.svc != nil && f.svc.Name == name {
		return f.svc, nil
	}
	return nil, store.ErrNotFound
}

type fakePatients struct {
	store.PatientStore

	updated []*model.Patient
}

func (f *fakePatients) Update(ctx context.Context, p *model.Patient) error {
	f.updated = append(f.updated, p)
	return nil
}

func TestBookAppointmentRejectsPast(t *testing.T) {
	appts := &fakeAppointments{}
	tool := NewBookAppointmentTool(appts, &fakePatients{}, nil, &fakeServices{}, false)
	tool.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"datetime":     "2026-08-28 09:00",
		"patient_name": "Maria Souza",
	})
	if !res.IsError {
		t.Fatalf("past slot must be rejected, got %q", res.ForLLM)
	}
	if len(appts.created) != 0 {
		t.Error("nothing should be created")
	}
}

func TestBookAppointmentConflict(t *testing.T) {
	appts := &fakeAppointments{conflict: true}
	tool := NewBookAppointmentTool(appts, &fakePatients{}, nil, &fakeServices{}, false)
	tool.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"datetime":     "2026-09-01 14:00",
		"patient_name": "Maria Souza",
		"doctor_id":    store.GenNewID().String(),
	})
	if res.IsError {
		t.Fatalf("conflict should not be an error result: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"booked":false`) {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}
	if len(appts.created) != 0 {
		t.Error("conflicting slot must not be saved")
	}
}

func TestBookAppointmentCreates(t *testing.T) {
	appts := &fakeAppointments{}
	tool := NewBookAppointmentTool(appts, &fakePatients{}, nil, &fakeServices{}, true)
	tool.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	turn := testTurn()
	res := tool.Execute(context.Background(), turn, map[string]interface{}{
		"datetime":     "2026-09-01 14:00",
		"patient_name": "Maria Souza",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if len(appts.created) != 1 {
		t.Fatalf("created = %d", len(appts.created))
	}
	got := appts.created[0]
	if got.Status != model.AppointmentScheduled {
		t.Errorf("status = %s", got.Status)
	}
	if got.SyncStatus != model.SyncPending {
		t.Errorf("sync status = %s, want pending when the clinic integration is on", got.SyncStatus)
	}
	if got.CreatedBy != "agent" {
		t.Errorf("created_by = %s", got.CreatedBy)
	}
	if turn.Booked == nil || turn.Booked.ID != got.ID {
		t.Error("booked appointment not recorded on the turn")
	}
}

func TestBookAppointmentBackfillsPatientName(t *testing.T) {
	appts := &fakeAppointments{}
	patients := &fakePatients{}
	tool := NewBookAppointmentTool(appts, patients, nil, &fakeServices{}, false)
	tool.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	turn := testTurn()
	res := tool.Execute(context.Background(), turn, map[string]interface{}{
		"datetime":     "2026-09-01 14:00",
		"patient_name": "  Maria Souza ",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if len(patients.updated) != 1 || patients.updated[0].Name != "Maria Souza" {
		t.Fatalf("patient name not saved before booking: %+v", patients.updated)
	}
	if turn.Patient.Name != "Maria Souza" {
		t.Errorf("turn patient name = %q", turn.Patient.Name)
	}
}

func TestBookAppointmentRequiresPatientName(t *testing.T) {
	appts := &fakeAppointments{}
	patients := &fakePatients{}
	tool := NewBookAppointmentTool(appts, patients, nil, &fakeServices{}, false)
	tool.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"datetime":     "2026-09-01 14:00",
		"patient_name": "  ",
	})
	if !res.IsError {
		t.Fatalf("blank name must be rejected, got %q", res.ForLLM)
	}
	if len(appts.created) != 0 || len(patients.updated) != 0 {
		t.Error("nothing should be written without a name")
	}
}

func TestBookAppointmentKeepsExistingName(t *testing.T) {
	appts := &fakeAppointments{}
	patients := &fakePatients{}
	tool := NewBookAppointmentTool(appts, patients, nil, &fakeServices{}, false)
	tool.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }

	turn := testTurn()
	turn.Patient.Name = "Maria Souza"
	res := tool.Execute(context.Background(), turn, map[string]interface{}{
		"datetime":     "2026-09-01 14:00",
		"patient_name": "Maria Souza",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if len(patients.updated) != 0 {
		t.Error("unchanged name must not trigger an update")
	}
}

func TestCancelAppointmentNoUpcoming(t *testing.T) {
	tool := NewCancelAppointmentTool(&fakeAppointments{})
	res := tool.Execute(context.Background(), testTurn(), nil)
	if res.IsError {
		t.Fatalf("no upcoming appointment is not an error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"cancelled":false`) {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}
}

func TestCancelAppointmentNearest(t *testing.T) {
	first := model.Appointment{ID: store.GenNewID(), ScheduledAt: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)}
	second := model.Appointment{ID: store.GenNewID(), ScheduledAt: time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC)}
	appts := &fakeAppointments{upcoming: []model.Appointment{first, second}}

	tool := NewCancelAppointmentTool(appts)
	res := tool.Execute(context.Background(), testTurn(), nil)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if len(appts.cancelled) != 1 || appts.cancelled[0] != first.ID {
		t.Errorf("cancelled = %v, want only the nearest %s", appts.cancelled, first.ID)
	}
}

type fakeSlotSource struct {
	slots []model.Slot
}

func (f *fakeSlotSource) Fetch(ctx context.Context, req slots.Request) ([]model.Slot, error) {
	return f.slots, nil
}

func testSlot(at time.Time) model.Slot {
	return model.Slot{
		Date:     at.Format("2006-01-02"),
		Time:     at.Format("15:04"),
		DateTime: at,
		Source:   model.SlotSourceClinic,
	}
}

func TestCheckAvailabilityDateAndPeriod(t *testing.T) {
	src := &fakeSlotSource{slots: []model.Slot{
		testSlot(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)),
		testSlot(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)),
		testSlot(time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)),
	}}
	agg := slots.NewAggregator(src, nil, testLogger())
	tool := NewCheckAvailabilityTool(agg, nil)

	res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"date":   "2026-09-01",
		"period": "afternoon",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "14:00") {
		t.Errorf("afternoon slot missing: %s", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "09:00") || strings.Contains(res.ForLLM, "2026-09-02") {
		t.Errorf("restriction leaked: %s", res.ForLLM)
	}
}

func TestCheckAvailabilityRejectsBadRestrictions(t *testing.T) {
	agg := slots.NewAggregator(&fakeSlotSource{}, nil, testLogger())
	tool := NewCheckAvailabilityTool(agg, nil)

	if res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"date": "amanhã",
	}); !res.IsError {
		t.Errorf("bad date accepted: %s", res.ForLLM)
	}
	if res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"period": "madrugada",
	}); !res.IsError {
		t.Errorf("bad period accepted: %s", res.ForLLM)
	}
}

type fakeLinkStore struct {
	store.BookingLinkStore

	created *model.BookingLink
}

func (f *fakeLinkStore) Create(ctx context.Context, l *model.BookingLink) error {
	f.created = l
	return nil
}

func TestBookingLinkCarriesServiceAndPeriod(t *testing.T) {
	svc := &model.Service{ID: store.GenNewID(), Name: "Consulta Cardiologia"}
	links := &fakeLinkStore{}
	tool := NewBookingLinkTool(links, &fakeServices{svc: svc}, "https://agenda.test/b", 48*time.Hour)

	res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"specialty":    "cardiologia",
		"service_name": "Consulta Cardiologia",
		"period":       "afternoon",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if links.created == nil {
		t.Fatal("no link created")
	}
	if links.created.ServiceID != svc.ID {
		t.Errorf("service id = %s", links.created.ServiceID)
	}
	if links.created.Period != "afternoon" {
		t.Errorf("period = %q", links.created.Period)
	}
}

func TestBookingLinkRejectsBadPeriod(t *testing.T) {
	links := &fakeLinkStore{}
	tool := NewBookingLinkTool(links, &fakeServices{}, "https://agenda.test/b", 48*time.Hour)

	res := tool.Execute(context.Background(), testTurn(), map[string]interface{}{
		"period": "noite",
	})
	if !res.IsError {
		t.Fatalf("bad period accepted: %s", res.ForLLM)
	}
	if links.created != nil {
		t.Error("nothing should be created")
	}
}

func TestNewTokenShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := newToken()
		if len(tok) != tokenLength {
			t.Fatalf("len = %d", len(tok))
		}
		for _, c := range tok {
			if !strings.ContainsRune(tokenAlphabet, c) {
				t.Fatalf("unexpected character %q in %q", c, tok)
			}
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestEscalateToolFlagsTurn(t *testing.T) {
	tool := NewEscalateTool()
	turn := testTurn()
	res := tool.Execute(context.Background(), turn, map[string]interface{}{"reason": "pediu atendente"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !turn.Escalated || turn.EscalationReason != "pediu atendente" {
		t.Errorf("turn = %+v", turn)
	}
}
