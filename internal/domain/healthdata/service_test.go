package healthdata

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

type mockRepo struct {
	data map[uuid.UUID]*HealthData
}

func newMockRepo() *mockRepo { return &mockRepo{data: make(map[uuid.UUID]*HealthData)} }

func (m *mockRepo) Create(_ context.Context, d *HealthData) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.data[d.ID] = d
	return nil
}
func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*HealthData, error) {
	if d, ok := m.data[id]; ok {
		return d, nil
	}
	return nil, apperr.NotFound("health data", id)
}
func (m *mockRepo) Update(_ context.Context, d *HealthData) error {
	if _, ok := m.data[d.ID]; !ok {
		return apperr.NotFound("health data", d.ID)
	}
	m.data[d.ID] = d
	return nil
}
func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.data[id]; !ok {
		return apperr.NotFound("health data", id)
	}
	delete(m.data, id)
	return nil
}
func (m *mockRepo) List(_ context.Context, userID string, f Filter) ([]*HealthData, int, error) {
	var out []*HealthData
	for _, d := range m.data {
		if d.UserID != userID || (f.MetricType != "" && d.MetricType != f.MetricType) {
			continue
		}
		if (!f.From.IsZero() && d.RecordedAt.Before(f.From)) || (!f.To.IsZero() && !d.RecordedAt.Before(f.To)) {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}
func (m *mockRepo) Series(ctx context.Context, userID, metric string, from, to time.Time) ([]*HealthData, error) {
	out, _, err := m.List(ctx, userID, Filter{MetricType: metric, From: from, To: to})
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, err
}

type mockSymptoms struct {
	data map[uuid.UUID]*SymptomLog
}

func newMockSymptoms() *mockSymptoms { return &mockSymptoms{data: make(map[uuid.UUID]*SymptomLog)} }

func (m *mockSymptoms) Create(_ context.Context, s *SymptomLog) error {
	s.ID = uuid.New()
	m.data[s.ID] = s
	return nil
}
func (m *mockSymptoms) GetByID(_ context.Context, id uuid.UUID) (*SymptomLog, error) {
	if s, ok := m.data[id]; ok {
		return s, nil
	}
	return nil, apperr.NotFound("symptom", id)
}
func (m *mockSymptoms) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.data[id]; !ok {
		return apperr.NotFound("symptom", id)
	}
	delete(m.data, id)
	return nil
}
func (m *mockSymptoms) List(_ context.Context, userID string, from, to time.Time, limit, offset int) ([]*SymptomLog, int, error) {
	var out []*SymptomLog
	for _, s := range m.data {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

type recordingAlerter struct {
	calls []string
	err   error
}

func (a *recordingAlerter) HealthAlert(_ context.Context, userID, metric string, value float64) error {
	a.calls = append(a.calls, fmt.Sprintf("%s:%s=%g", userID, metric, value))
	return a.err
}
func (a *recordingAlerter) SymptomAlert(_ context.Context, userID, symptom string, severity int) error {
	a.calls = append(a.calls, fmt.Sprintf("%s:%s@%d", userID, symptom, severity))
	return a.err
}

type recordingPublisher struct {
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.events = append(p.events, ev)
	return nil
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService() *Service {
	svc := NewService(newMockRepo(), newMockSymptoms(), zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func ptr[T any](v T) *T { return &v }

func TestService_CreateDefaultsAndAlerts(t *testing.T) {
	svc := newTestService()
	alerts := &recordingAlerter{}
	pub := &recordingPublisher{}
	svc.SetAlerter(alerts)
	svc.SetPublisher(pub)

	d := &HealthData{UserID: "alice", MetricType: MetricHeartRate, Value: 72}
	if err := svc.Create(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Unit != "bpm" || d.Source != "manual" || !d.RecordedAt.Equal(fixedNow) {
		t.Errorf("unexpected defaults %+v", d)
	}
	if len(alerts.calls) != 1 || alerts.calls[0] != "alice:heart_rate=72" {
		t.Errorf("unexpected alert calls %v", alerts.calls)
	}
	if len(pub.events) != 1 || pub.events[0].Type != "health_data.created" || pub.events[0].Topic != "user:alice" {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestService_AlertFailureDoesNotFailWrite(t *testing.T) {
	svc := newTestService()
	svc.SetAlerter(&recordingAlerter{err: apperr.Notification("sms", "down", nil)})
	if err := svc.Create(context.Background(), &HealthData{UserID: "alice", MetricType: MetricSteps, Value: 9000}); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
}

func TestService_Validation(t *testing.T) {
	tests := []struct {
		name string
		d    HealthData
	}{
		{"unknown metric", HealthData{MetricType: "mood", Value: 3}},
		{"wrong unit", HealthData{MetricType: MetricWeight, Value: 80, Unit: "lb"}},
		{"implausible value", HealthData{MetricType: MetricOxygenSaturation, Value: 120}},
		{"future reading", HealthData{MetricType: MetricSteps, Value: 10, RecordedAt: fixedNow.Add(time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService()
			d := tt.d
			d.UserID = "alice"
			if err := svc.Create(context.Background(), &d); !apperr.Is(err, apperr.CodeValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_UnitIsCaseInsensitive(t *testing.T) {
	svc := newTestService()
	d := &HealthData{UserID: "alice", MetricType: MetricBloodGlucose, Value: 110, Unit: "MG/DL"}
	if err := svc.Create(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Unit != "mg/dL" {
		t.Errorf("expected canonical unit, got %q", d.Unit)
	}
}

func TestService_LogSymptom(t *testing.T) {
	svc := newTestService()
	alerts := &recordingAlerter{}
	svc.SetAlerter(alerts)

	mild := &SymptomLog{UserID: "alice", Symptom: " headache ", Severity: 3}
	if err := svc.LogSymptom(context.Background(), mild); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mild.Symptom != "headache" || mild.Triggers == nil || !mild.LoggedAt.Equal(fixedNow) {
		t.Errorf("unexpected symptom %+v", mild)
	}
	if len(alerts.calls) != 0 {
		t.Errorf("mild symptom should not alert, got %v", alerts.calls)
	}

	severe := &SymptomLog{UserID: "alice", Symptom: "chest pain", Severity: 9, DurationMinutes: ptr(15)}
	if err := svc.LogSymptom(context.Background(), severe); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts.calls) != 1 || alerts.calls[0] != "alice:chest pain@9" {
		t.Errorf("unexpected alert calls %v", alerts.calls)
	}

	for _, bad := range []*SymptomLog{
		{UserID: "alice", Symptom: "", Severity: 3},
		{UserID: "alice", Symptom: "nausea", Severity: 11},
		{UserID: "alice", Symptom: "nausea", Severity: 2, DurationMinutes: ptr(-5)},
	} {
		if err := svc.LogSymptom(context.Background(), bad); !apperr.Is(err, apperr.CodeValidation) {
			t.Errorf("expected validation error for %+v, got %v", bad, err)
		}
	}
}

func TestService_ListRejectsInvertedRange(t *testing.T) {
	svc := newTestService()
	_, _, err := svc.List(context.Background(), "alice", Filter{From: fixedNow, To: fixedNow.Add(-time.Hour)})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
