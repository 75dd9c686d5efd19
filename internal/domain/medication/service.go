package medication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/domain/profile"
	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// ProfileLookup resolves the profile a medication belongs to.
type ProfileLookup interface {
	GetByUserID(ctx context.Context, userID string) (*profile.UserHealthProfile, error)
}

// MissedDoseNotifier is told when a dose is recorded as missed.
type MissedDoseNotifier interface {
	MedicationMissed(ctx context.Context, userID, medicationName string, missedCount int) error
}

// missedWindow is how far back missed doses are counted for escalation.
const missedWindow = 7 * 24 * time.Hour

type Service struct {
	meds     MedicationRepository
	doses    DoseLogRepository
	profiles ProfileLookup
	notifier MissedDoseNotifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(meds MedicationRepository, doses DoseLogRepository, profiles ProfileLookup, logger zerolog.Logger) *Service {
	return &Service{meds: meds, doses: doses, profiles: profiles, logger: logger, now: time.Now}
}

// SetNotifier attaches an optional missed-dose notifier.
func (s *Service) SetNotifier(n MissedDoseNotifier) { s.notifier = n }

func validateSchedule(times []string) error {
	for _, v := range times {
		if _, err := time.Parse("15:04", v); err != nil {
			return apperr.ValidationField("schedule_times", fmt.Sprintf("invalid schedule time %q, want HH:MM", v))
		}
	}
	return nil
}

func (s *Service) validate(m *EnhancedMedication) error {
	if strings.TrimSpace(m.Name) == "" {
		return apperr.ValidationField("name", "name is required")
	}
	if m.Dosage <= 0 {
		return apperr.ValidationField("dosage", "dosage must be positive")
	}
	if m.Unit == "" {
		return apperr.ValidationField("unit", "unit is required")
	}
	if m.Frequency == "" {
		return apperr.ValidationField("frequency", "frequency is required")
	}
	if m.TimesPerDay < 1 || m.TimesPerDay > 24 {
		return apperr.ValidationField("times_per_day", "times_per_day must be between 1 and 24")
	}
	if err := validateSchedule(m.ScheduleTimes); err != nil {
		return err
	}
	if len(m.ScheduleTimes) > 0 && len(m.ScheduleTimes) != m.TimesPerDay {
		return apperr.ValidationField("schedule_times", "schedule_times must have times_per_day entries")
	}
	if m.StartDate.IsZero() {
		return apperr.ValidationField("start_date", "start_date is required")
	}
	if m.EndDate != nil && m.EndDate.Before(m.StartDate) {
		return apperr.ValidationField("end_date", "end_date must not be before start_date")
	}
	if !validStatuses[m.Status] {
		return apperr.ValidationField("status", fmt.Sprintf("invalid status: %s", m.Status))
	}
	return nil
}

// Create attaches the medication to the owner's profile, which must exist.
func (s *Service) Create(ctx context.Context, m *EnhancedMedication) error {
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.TimesPerDay == 0 {
		m.TimesPerDay = max(1, len(m.ScheduleTimes))
	}
	if m.ScheduleTimes == nil {
		m.ScheduleTimes = []string{}
	}
	if err := s.validate(m); err != nil {
		return err
	}
	p, err := s.profiles.GetByUserID(ctx, m.UserID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return apperr.ValidationField("profile", "create a health profile before adding medications")
		}
		return err
	}
	m.ProfileID = p.ID
	return s.meds.Create(ctx, m)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*EnhancedMedication, error) {
	return s.meds.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, m *EnhancedMedication) error {
	if err := s.validate(m); err != nil {
		return err
	}
	return s.meds.Update(ctx, m)
}

// Discontinue is the soft delete for medications.
func (s *Service) Discontinue(ctx context.Context, id uuid.UUID) (*EnhancedMedication, error) {
	m, err := s.meds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusDiscontinued {
		return m, nil
	}
	m.Status = StatusDiscontinued
	if m.EndDate == nil {
		today := dateOf(s.now())
		if today.Before(m.StartDate) {
			today = m.StartDate
		}
		m.EndDate = &today
	}
	if err := s.meds.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*EnhancedMedication, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, apperr.ValidationField("status", fmt.Sprintf("invalid status: %s", status))
	}
	return s.meds.ListByUser(ctx, userID, status, limit, offset)
}

func (s *Service) ListActive(ctx context.Context) ([]*EnhancedMedication, error) {
	return s.meds.ListActive(ctx)
}

// LogDose records a dose against medication m. A taken dose more than
// LateAfter past its schedule is stored as late.
func (s *Service) LogDose(ctx context.Context, m *EnhancedMedication, l *DoseLog) error {
	if l.ScheduledAt.IsZero() {
		return apperr.ValidationField("scheduled_at", "scheduled_at is required")
	}
	if !validDoseStatuses[l.Status] {
		return apperr.ValidationField("status", fmt.Sprintf("invalid dose status: %s", l.Status))
	}
	if m.Status == StatusDiscontinued {
		return apperr.ValidationField("medication_id", "medication is discontinued")
	}
	l.MedicationID = m.ID
	l.UserID = m.UserID

	switch l.Status {
	case DoseTaken, DoseLate:
		if l.TakenAt == nil {
			now := s.now().UTC()
			l.TakenAt = &now
		}
		if l.TakenAt.Sub(l.ScheduledAt) > LateAfter {
			l.Status = DoseLate
		}
	case DoseMissed, DoseSkipped:
		l.TakenAt = nil
	}

	if err := s.doses.Create(ctx, l); err != nil {
		return err
	}
	if l.Status == DoseMissed {
		s.notifyMissed(ctx, m)
	}
	return nil
}

// RecordMissed stores a missed dose found by the compliance checker. An
// existing log for the same slot is left as is.
func (s *Service) RecordMissed(ctx context.Context, m *EnhancedMedication, scheduledAt time.Time) (bool, error) {
	l := &DoseLog{MedicationID: m.ID, UserID: m.UserID, ScheduledAt: scheduledAt, Status: DoseMissed}
	if err := s.doses.Create(ctx, l); err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			return false, nil
		}
		return false, err
	}
	s.notifyMissed(ctx, m)
	return true, nil
}

func (s *Service) notifyMissed(ctx context.Context, m *EnhancedMedication) {
	if s.notifier == nil {
		return
	}
	now := s.now()
	logs, err := s.doses.ListByMedication(ctx, m.ID, now.Add(-missedWindow), now.Add(time.Minute))
	if err != nil {
		s.logger.Warn().Err(err).Str("medication_id", m.ID.String()).Msg("count missed doses")
	}
	missed := 0
	for _, l := range logs {
		if l.Status == DoseMissed {
			missed++
		}
	}
	if missed == 0 {
		missed = 1
	}
	if err := s.notifier.MedicationMissed(ctx, m.UserID, m.Name, missed); err != nil {
		s.logger.Warn().Err(err).Str("medication_id", m.ID.String()).Msg("missed dose notification failed")
	}
}

func (s *Service) GetDose(ctx context.Context, id uuid.UUID) (*DoseLog, error) {
	return s.doses.GetByID(ctx, id)
}

func (s *Service) ListDoses(ctx context.Context, medicationID uuid.UUID, from, to time.Time) ([]*DoseLog, error) {
	return s.doses.ListByMedication(ctx, medicationID, from, to)
}

func (s *Service) ListDosesByUser(ctx context.Context, userID string, limit, offset int) ([]*DoseLog, int, error) {
	return s.doses.ListByUser(ctx, userID, limit, offset)
}

// Adherence summarises the last days of dose logs for a medication.
func (s *Service) Adherence(ctx context.Context, medicationID uuid.UUID, days int) (Adherence, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now()
	logs, err := s.doses.ListByMedication(ctx, medicationID, now.AddDate(0, 0, -days), now.Add(time.Minute))
	if err != nil {
		return Adherence{}, err
	}
	return ComputeAdherence(medicationID, logs), nil
}
