// Package compliance reports medication adherence and detects scheduled
// doses that were never logged.
package compliance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/domain/medication"
	"github.com/healthmate/healthmate/internal/domain/profile"
	"github.com/healthmate/healthmate/internal/platform/apperr"
)

const (
	RiskGood     = "good"
	RiskModerate = "moderate"
	RiskPoor     = "poor"
	RiskNoData   = "no_data"
)

const (
	DefaultDays          = 30
	MaxDays              = 365
	DefaultGracePeriod   = 2 * time.Hour
	DefaultLookbackDays  = 2
	DefaultCheckInterval = 15 * time.Minute
	maxMedications       = 100
)

// RiskLevel buckets an adherence rate.
func RiskLevel(rate float64) string {
	switch {
	case rate >= 0.9:
		return RiskGood
	case rate >= 0.7:
		return RiskModerate
	default:
		return RiskPoor
	}
}

// MedicationSource is the subset of the medication service used here.
type MedicationSource interface {
	Get(ctx context.Context, id uuid.UUID) (*medication.EnhancedMedication, error)
	ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*medication.EnhancedMedication, int, error)
	ListActive(ctx context.Context) ([]*medication.EnhancedMedication, error)
	ListDoses(ctx context.Context, medicationID uuid.UUID, from, to time.Time) ([]*medication.DoseLog, error)
	RecordMissed(ctx context.Context, m *medication.EnhancedMedication, scheduledAt time.Time) (bool, error)
}

// ProfileLookup resolves the user's timezone for schedule expansion.
type ProfileLookup interface {
	GetByUserID(ctx context.Context, userID string) (*profile.UserHealthProfile, error)
}

// MedicationCompliance is adherence for one medication over a window.
// Unlogged counts scheduled doses past the grace period with no log; they
// count against the rate.
type MedicationCompliance struct {
	MedicationID uuid.UUID            `json:"medication_id"`
	Name         string               `json:"name"`
	Status       string               `json:"status"`
	Scheduled    int                  `json:"scheduled"`
	Unlogged     int                  `json:"unlogged"`
	Adherence    medication.Adherence `json:"adherence"`
	Rate         float64              `json:"rate"`
	RiskLevel    string               `json:"risk_level"`
}

type Report struct {
	UserID      string                 `json:"user_id"`
	Days        int                    `json:"days"`
	From        time.Time              `json:"from"`
	To          time.Time              `json:"to"`
	Medications []MedicationCompliance `json:"medications"`
	OverallRate *float64               `json:"overall_rate"`
	RiskLevel   string                 `json:"risk_level"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// CheckResult summarises one missed-dose sweep.
type CheckResult struct {
	Medications int `json:"medications"`
	Recorded    int `json:"recorded"`
	Failed      int `json:"failed"`
}

type Service struct {
	meds     MedicationSource
	profiles ProfileLookup
	grace    time.Duration
	lookback int
	logger   zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewService(meds MedicationSource, profiles ProfileLookup, logger zerolog.Logger) *Service {
	return &Service{
		meds:     meds,
		profiles: profiles,
		grace:    DefaultGracePeriod,
		lookback: DefaultLookbackDays,
		logger:   logger,
		now:      time.Now,
	}
}

// SetGracePeriod changes how long after its slot a dose may still be logged
// before it is considered missed.
func (s *Service) SetGracePeriod(d time.Duration) {
	if d > 0 {
		s.grace = d
	}
}

func (s *Service) location(ctx context.Context, userID string) *time.Location {
	if s.profiles == nil {
		return time.UTC
	}
	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		s.logger.Warn().Str("user_id", userID).Str("timezone", p.Timezone).Msg("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

// dueSlots lists scheduled dose instants in [from, cutoff].
func dueSlots(m *medication.EnhancedMedication, loc *time.Location, from, cutoff time.Time) []time.Time {
	var out []time.Time
	for day := from.In(loc); !day.After(cutoff.In(loc).AddDate(0, 0, 1)); day = day.AddDate(0, 0, 1) {
		for _, slot := range m.DosesOn(day, loc) {
			if !slot.Before(from) && !slot.After(cutoff) {
				out = append(out, slot)
			}
		}
	}
	return out
}

func slotKey(t time.Time) int64 { return t.UTC().Unix() }

func (s *Service) evaluate(ctx context.Context, m *medication.EnhancedMedication, loc *time.Location, from, now time.Time) (MedicationCompliance, error) {
	logs, err := s.meds.ListDoses(ctx, m.ID, from, now)
	if err != nil {
		return MedicationCompliance{}, err
	}
	logged := make(map[int64]bool, len(logs))
	for _, l := range logs {
		logged[slotKey(l.ScheduledAt)] = true
	}
	slots := dueSlots(m, loc, from, now)
	mc := MedicationCompliance{
		MedicationID: m.ID,
		Name:         m.Name,
		Status:       m.Status,
		Scheduled:    len(slots),
		Adherence:    medication.ComputeAdherence(m.ID, logs),
	}
	cutoff := now.Add(-s.grace)
	for _, slot := range slots {
		if !slot.After(cutoff) && !logged[slotKey(slot)] {
			mc.Unlogged++
		}
	}
	denom := mc.Adherence.Total + mc.Unlogged
	if denom == 0 {
		mc.RiskLevel = RiskNoData
		return mc, nil
	}
	mc.Rate = float64(mc.Adherence.Taken+mc.Adherence.Late) / float64(denom)
	mc.RiskLevel = RiskLevel(mc.Rate)
	return mc, nil
}

func checkDays(days int) (int, error) {
	if days == 0 {
		return DefaultDays, nil
	}
	if days < 1 || days > MaxDays {
		return 0, apperr.ValidationField("days", fmt.Sprintf("must be between 1 and %d", MaxDays))
	}
	return days, nil
}

// Report covers every medication the user has, including discontinued ones
// whose doses fall in the window.
func (s *Service) Report(ctx context.Context, userID string, days int) (*Report, error) {
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	now := s.now()
	from := now.AddDate(0, 0, -days)
	meds, _, err := s.meds.ListByUser(ctx, userID, "", maxMedications, 0)
	if err != nil {
		return nil, err
	}
	loc := s.location(ctx, userID)

	rep := &Report{UserID: userID, Days: days, From: from, To: now, GeneratedAt: now.UTC(), Medications: []MedicationCompliance{}}
	var adherent, total int
	for _, m := range meds {
		mc, err := s.evaluate(ctx, m, loc, from, now)
		if err != nil {
			return nil, err
		}
		if mc.RiskLevel == RiskNoData && m.Status != medication.StatusActive {
			continue
		}
		rep.Medications = append(rep.Medications, mc)
		adherent += mc.Adherence.Taken + mc.Adherence.Late
		total += mc.Adherence.Total + mc.Unlogged
	}
	sort.Slice(rep.Medications, func(i, j int) bool { return rep.Medications[i].Name < rep.Medications[j].Name })
	rep.RiskLevel = RiskNoData
	if total > 0 {
		rate := float64(adherent) / float64(total)
		rep.OverallRate = &rate
		rep.RiskLevel = RiskLevel(rate)
	}
	return rep, nil
}

// ForMedication evaluates one medication already loaded by the caller.
func (s *Service) ForMedication(ctx context.Context, m *medication.EnhancedMedication, days int) (*MedicationCompliance, error) {
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	now := s.now()
	mc, err := s.evaluate(ctx, m, s.location(ctx, m.UserID), now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, err
	}
	return &mc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*medication.EnhancedMedication, error) {
	return s.meds.Get(ctx, id)
}

// CheckMissed records a missed dose for every slot of an active medication
// within the lookback that is older than the grace period and has no log.
// An empty userID sweeps all users. Sweeps do not overlap.
func (s *Service) CheckMissed(ctx context.Context, userID string) (CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		meds []*medication.EnhancedMedication
		err  error
	)
	if userID == "" {
		meds, err = s.meds.ListActive(ctx)
	} else {
		meds, _, err = s.meds.ListByUser(ctx, userID, medication.StatusActive, maxMedications, 0)
	}
	if err != nil {
		return CheckResult{}, err
	}

	now := s.now()
	cutoff := now.Add(-s.grace)
	from := now.AddDate(0, 0, -s.lookback)
	locs := map[string]*time.Location{}
	res := CheckResult{Medications: len(meds)}

	for _, m := range meds {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		loc, ok := locs[m.UserID]
		if !ok {
			loc = s.location(ctx, m.UserID)
			locs[m.UserID] = loc
		}
		logs, err := s.meds.ListDoses(ctx, m.ID, from, now)
		if err != nil {
			s.logger.Error().Err(err).Str("medication_id", m.ID.String()).Msg("listing doses for missed check")
			res.Failed++
			continue
		}
		logged := make(map[int64]bool, len(logs))
		for _, l := range logs {
			logged[slotKey(l.ScheduledAt)] = true
		}
		for _, slot := range dueSlots(m, loc, from, cutoff) {
			if logged[slotKey(slot)] {
				continue
			}
			created, err := s.meds.RecordMissed(ctx, m, slot)
			if err != nil {
				s.logger.Error().Err(err).Str("medication_id", m.ID.String()).Time("scheduled_at", slot).Msg("recording missed dose")
				res.Failed++
				continue
			}
			if created {
				res.Recorded++
			}
		}
	}
	if res.Recorded > 0 || res.Failed > 0 {
		s.logger.Info().Int("medications", res.Medications).Int("recorded", res.Recorded).Int("failed", res.Failed).Msg("missed dose check finished")
	}
	return res, nil
}

// RunChecker sweeps for missed doses every interval until ctx is done.
func (s *Service) RunChecker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.CheckMissed(ctx, ""); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("missed dose check failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
