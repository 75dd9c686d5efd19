package healthdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

// SymptomAlertSeverity is the severity from which a logged symptom raises
// an alert.
const SymptomAlertSeverity = 7

// maxClockSkew is how far in the future a reading may be timestamped.
const maxClockSkew = 5 * time.Minute

// Alerter receives new readings and symptoms for threshold checks.
type Alerter interface {
	HealthAlert(ctx context.Context, userID, metric string, value float64) error
	SymptomAlert(ctx context.Context, userID, symptom string, severity int) error
}

type Service struct {
	repo     Repository
	symptoms SymptomRepository
	alerts   Alerter
	events   websocket.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, symptoms SymptomRepository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, symptoms: symptoms, logger: logger, now: time.Now}
}

// SetAlerter attaches the threshold checker run after each write.
func (s *Service) SetAlerter(a Alerter) { s.alerts = a }

// SetPublisher attaches a real-time event publisher.
func (s *Service) SetPublisher(p websocket.Publisher) { s.events = p }

func (s *Service) validate(d *HealthData) error {
	spec, ok := metrics[d.MetricType]
	if !ok {
		return apperr.ValidationField("metric_type", fmt.Sprintf("unsupported metric type: %s", d.MetricType))
	}
	if d.Unit == "" {
		d.Unit = spec.Unit
	}
	if !strings.EqualFold(d.Unit, spec.Unit) {
		return apperr.ValidationField("unit", fmt.Sprintf("unit for %s must be %s", d.MetricType, spec.Unit))
	}
	d.Unit = spec.Unit
	if d.Value < spec.Min || d.Value > spec.Max {
		return apperr.ValidationField("value", fmt.Sprintf("%s must be between %g and %g", d.MetricType, spec.Min, spec.Max))
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = s.now().UTC()
	}
	if d.RecordedAt.After(s.now().Add(maxClockSkew)) {
		return apperr.ValidationField("recorded_at", "recorded_at is in the future")
	}
	if d.Source == "" {
		d.Source = "manual"
	}
	return nil
}

// Create stores a reading and then runs the alert check. Alert failures are
// logged and do not fail the write.
func (s *Service) Create(ctx context.Context, d *HealthData) error {
	if err := s.validate(d); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}
	if s.alerts != nil {
		if err := s.alerts.HealthAlert(ctx, d.UserID, d.MetricType, d.Value); err != nil {
			s.logger.Warn().Err(err).Str("user_id", d.UserID).Str("metric", d.MetricType).Msg("health alert check failed")
		}
	}
	s.publish(ctx, "health_data.created", d.UserID, "health_data", d.ID.String(), d)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType, userID, resourceType, resourceID string, data interface{}) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(eventType, websocket.UserTopic(userID), resourceType, resourceID, data)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*HealthData, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, d *HealthData) error {
	if err := s.validate(d); err != nil {
		return err
	}
	return s.repo.Update(ctx, d)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, userID string, f Filter) ([]*HealthData, int, error) {
	if f.MetricType != "" {
		if _, ok := metrics[f.MetricType]; !ok {
			return nil, 0, apperr.ValidationField("metric_type", fmt.Sprintf("unsupported metric type: %s", f.MetricType))
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, 0, apperr.ValidationField("from", "from must be before to")
	}
	return s.repo.List(ctx, userID, f)
}

func (s *Service) Series(ctx context.Context, userID, metric string, from, to time.Time) ([]*HealthData, error) {
	if _, ok := metrics[metric]; !ok {
		return nil, apperr.ValidationField("metric_type", fmt.Sprintf("unsupported metric type: %s", metric))
	}
	return s.repo.Series(ctx, userID, metric, from, to)
}

func (s *Service) LogSymptom(ctx context.Context, l *SymptomLog) error {
	l.Symptom = strings.TrimSpace(l.Symptom)
	if l.Symptom == "" {
		return apperr.ValidationField("symptom", "symptom is required")
	}
	if l.Severity < 1 || l.Severity > 10 {
		return apperr.ValidationField("severity", "severity must be between 1 and 10")
	}
	if l.DurationMinutes != nil && *l.DurationMinutes < 0 {
		return apperr.ValidationField("duration_minutes", "duration_minutes must not be negative")
	}
	if l.Triggers == nil {
		l.Triggers = []string{}
	}
	if l.LoggedAt.IsZero() {
		l.LoggedAt = s.now().UTC()
	}
	if l.LoggedAt.After(s.now().Add(maxClockSkew)) {
		return apperr.ValidationField("logged_at", "logged_at is in the future")
	}
	if err := s.symptoms.Create(ctx, l); err != nil {
		return err
	}
	if s.alerts != nil && l.Severity >= SymptomAlertSeverity {
		if err := s.alerts.SymptomAlert(ctx, l.UserID, l.Symptom, l.Severity); err != nil {
			s.logger.Warn().Err(err).Str("user_id", l.UserID).Msg("symptom alert failed")
		}
	}
	s.publish(ctx, "symptom.logged", l.UserID, "symptom", l.ID.String(), l)
	return nil
}

func (s *Service) GetSymptom(ctx context.Context, id uuid.UUID) (*SymptomLog, error) {
	return s.symptoms.GetByID(ctx, id)
}

func (s *Service) DeleteSymptom(ctx context.Context, id uuid.UUID) error {
	return s.symptoms.Delete(ctx, id)
}

func (s *Service) ListSymptoms(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]*SymptomLog, int, error) {
	return s.symptoms.List(ctx, userID, from, to, limit, offset)
}
