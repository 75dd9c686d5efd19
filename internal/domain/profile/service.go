package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ParseClock parses an "HH:MM" time of day into minutes after midnight.
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (s *Service) validate(p *UserHealthProfile) error {
	if p.UserID == "" {
		return apperr.ValidationField("user_id", "user_id is required")
	}
	if p.HeightCM != nil && (*p.HeightCM < 30 || *p.HeightCM > 280) {
		return apperr.ValidationField("height_cm", "height_cm must be between 30 and 280")
	}
	if p.WeightKG != nil && (*p.WeightKG < 1 || *p.WeightKG > 500) {
		return apperr.ValidationField("weight_kg", "weight_kg must be between 1 and 500")
	}
	if p.BloodType != nil && !validBloodTypes[*p.BloodType] {
		return apperr.ValidationField("blood_type", fmt.Sprintf("invalid blood_type: %s", *p.BloodType))
	}
	if p.Sex != nil && !validSexes[*p.Sex] {
		return apperr.ValidationField("sex", fmt.Sprintf("invalid sex: %s", *p.Sex))
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(s.now()) {
		return apperr.ValidationField("date_of_birth", "date_of_birth cannot be in the future")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return apperr.ValidationField("timezone", fmt.Sprintf("unknown timezone: %s", p.Timezone))
	}
	if (p.QuietHoursStart == nil) != (p.QuietHoursEnd == nil) {
		return apperr.ValidationField("quiet_hours", "quiet_hours_start and quiet_hours_end must be set together")
	}
	for _, v := range []*string{p.QuietHoursStart, p.QuietHoursEnd} {
		if v == nil {
			continue
		}
		if _, err := ParseClock(*v); err != nil {
			return apperr.ValidationField("quiet_hours", err.Error())
		}
	}
	for _, c := range p.EnabledChannels {
		if !validChannels[c] {
			return apperr.ValidationField("enabled_channels", fmt.Sprintf("invalid channel: %s", c))
		}
	}
	return nil
}

func applyDefaults(p *UserHealthProfile) {
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if p.EnabledChannels == nil {
		p.EnabledChannels = []string{ChannelEmail, ChannelPush}
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
}

func (s *Service) Create(ctx context.Context, p *UserHealthProfile) error {
	applyDefaults(p)
	if err := s.validate(p); err != nil {
		return err
	}
	if existing, err := s.repo.GetByUserID(ctx, p.UserID); err == nil && existing != nil {
		return apperr.Conflict("profile already exists for user")
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*UserHealthProfile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUser(ctx context.Context, userID string) (*UserHealthProfile, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *Service) Update(ctx context.Context, p *UserHealthProfile) error {
	applyDefaults(p)
	if err := s.validate(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*UserHealthProfile, int, error) {
	return s.repo.List(ctx, limit, offset)
}
