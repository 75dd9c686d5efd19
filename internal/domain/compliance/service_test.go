package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/domain/medication"
	"github.com/healthmate/healthmate/internal/domain/profile"
	"github.com/healthmate/healthmate/internal/platform/apperr"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeMeds struct {
	mu    sync.Mutex
	meds  []*medication.EnhancedMedication
	doses []*medication.DoseLog
}

func (f *fakeMeds) Get(_ context.Context, id uuid.UUID) (*medication.EnhancedMedication, error) {
	for _, m := range f.meds {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, apperr.NotFound("medication", id)
}

func (f *fakeMeds) ListByUser(_ context.Context, userID, status string, _, _ int) ([]*medication.EnhancedMedication, int, error) {
	var out []*medication.EnhancedMedication
	for _, m := range f.meds {
		if m.UserID == userID && (status == "" || m.Status == status) {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (f *fakeMeds) ListActive(context.Context) ([]*medication.EnhancedMedication, error) {
	var out []*medication.EnhancedMedication
	for _, m := range f.meds {
		if m.Status == medication.StatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMeds) ListDoses(_ context.Context, id uuid.UUID, from, to time.Time) ([]*medication.DoseLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*medication.DoseLog
	for _, d := range f.doses {
		if d.MedicationID == id && !d.ScheduledAt.Before(from) && !d.ScheduledAt.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeMeds) RecordMissed(_ context.Context, m *medication.EnhancedMedication, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.doses {
		if d.MedicationID == m.ID && d.ScheduledAt.Equal(at) {
			return false, nil
		}
	}
	f.doses = append(f.doses, &medication.DoseLog{ID: uuid.New(), MedicationID: m.ID, UserID: m.UserID, ScheduledAt: at, Status: medication.DoseMissed})
	return true, nil
}

func (f *fakeMeds) log(m *medication.EnhancedMedication, at time.Time, status string) {
	f.doses = append(f.doses, &medication.DoseLog{ID: uuid.New(), MedicationID: m.ID, UserID: m.UserID, ScheduledAt: at, Status: status})
}

func (f *fakeMeds) missed(id uuid.UUID) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, d := range f.doses {
		if d.MedicationID == id && d.Status == medication.DoseMissed {
			out = append(out, d.ScheduledAt.UTC())
		}
	}
	return out
}

type fakeProfiles map[string]string

func (f fakeProfiles) GetByUserID(_ context.Context, userID string) (*profile.UserHealthProfile, error) {
	tz, ok := f[userID]
	if !ok {
		return nil, apperr.NotFound("profile", userID)
	}
	return &profile.UserHealthProfile{UserID: userID, Timezone: tz}, nil
}

func newMed(user, name, status string) *medication.EnhancedMedication {
	return &medication.EnhancedMedication{
		ID: uuid.New(), UserID: user, Name: name, Status: status,
		ScheduleTimes: []string{"08:00", "20:00"},
		StartDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestService(meds *fakeMeds, profiles fakeProfiles) *Service {
	s := NewService(meds, profiles, zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s
}

func at(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

func TestRiskLevel(t *testing.T) {
	tests := map[float64]string{1: RiskGood, 0.9: RiskGood, 0.89: RiskModerate, 0.7: RiskModerate, 0.69: RiskPoor, 0: RiskPoor}
	for rate, want := range tests {
		if got := RiskLevel(rate); got != want {
			t.Errorf("RiskLevel(%v) = %s, want %s", rate, got, want)
		}
	}
}

func TestCheckMissed_RecordsUnloggedSlotsPastGrace(t *testing.T) {
	med := newMed("alice", "Metformin", medication.StatusActive)
	meds := &fakeMeds{meds: []*medication.EnhancedMedication{med}}
	meds.log(med, at(9, 8), medication.DoseTaken)
	svc := newTestService(meds, fakeProfiles{"alice": "UTC"})

	res, err := svc.CheckMissed(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Medications != 1 || res.Recorded != 3 {
		t.Fatalf("expected 3 missed doses recorded, got %+v", res)
	}
	want := []time.Time{at(8, 20), at(9, 20), at(10, 8)}
	got := meds.missed(med.ID)
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("missed slot %d: got %v want %v", i, got[i], want[i])
		}
	}

	res, _ = svc.CheckMissed(context.Background(), "")
	if res.Recorded != 0 {
		t.Errorf("second sweep should record nothing, got %+v", res)
	}
}

func TestCheckMissed_UsesProfileTimezone(t *testing.T) {
	med := newMed("kenji", "Lisinopril", medication.StatusActive)
	meds := &fakeMeds{meds: []*medication.EnhancedMedication{med}}
	svc := newTestService(meds, fakeProfiles{"kenji": "Asia/Tokyo"})

	res, err := svc.CheckMissed(context.Background(), "kenji")
	if err != nil || res.Recorded != 3 {
		t.Fatalf("expected 3 recorded, got %+v err=%v", res, err)
	}
	if first := meds.missed(med.ID)[0]; !first.Equal(at(8, 23)) {
		t.Errorf("08:00 JST should be 23:00 UTC the day before, got %v", first)
	}
}

func TestCheckMissed_SkipsInactiveAndOtherUsers(t *testing.T) {
	paused := newMed("alice", "Paused", medication.StatusPaused)
	other := newMed("bob", "Other", medication.StatusActive)
	meds := &fakeMeds{meds: []*medication.EnhancedMedication{paused, other}}
	svc := newTestService(meds, fakeProfiles{})

	res, err := svc.CheckMissed(context.Background(), "alice")
	if err != nil || res.Recorded != 0 || res.Medications != 0 {
		t.Errorf("expected nothing swept, got %+v err=%v", res, err)
	}
	if len(meds.missed(other.ID)) != 0 {
		t.Error("another user's medication must not be touched")
	}
}

func reportFixture() (*fakeMeds, *medication.EnhancedMedication) {
	med := newMed("alice", "Metformin", medication.StatusActive)
	stopped := newMed("alice", "Old", medication.StatusDiscontinued)
	meds := &fakeMeds{meds: []*medication.EnhancedMedication{med, stopped}}
	for d := 4; d <= 9; d++ {
		meds.log(med, at(d, 8), medication.DoseTaken)
		meds.log(med, at(d, 20), medication.DoseTaken)
	}
	meds.log(med, at(3, 20), medication.DoseMissed)
	return meds, med
}

func TestReport(t *testing.T) {
	meds, med := reportFixture()
	svc := newTestService(meds, fakeProfiles{"alice": "UTC"})

	rep, err := svc.Report(context.Background(), "alice", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Medications) != 1 {
		t.Fatalf("discontinued medication without doses should be omitted, got %+v", rep.Medications)
	}
	mc := rep.Medications[0]
	if mc.MedicationID != med.ID || mc.Scheduled != 14 || mc.Unlogged != 1 || mc.Adherence.Total != 13 {
		t.Errorf("unexpected compliance %+v", mc)
	}
	if mc.RiskLevel != RiskModerate || rep.RiskLevel != RiskModerate {
		t.Errorf("expected moderate risk, got %s / %s", mc.RiskLevel, rep.RiskLevel)
	}
	if rep.OverallRate == nil || *rep.OverallRate != 12.0/14.0 {
		t.Errorf("unexpected overall rate %v", rep.OverallRate)
	}

	if _, err := svc.Report(context.Background(), "alice", -1); !apperr.Is(err, apperr.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	empty, err := svc.Report(context.Background(), "nobody", 7)
	if err != nil || empty.RiskLevel != RiskNoData || empty.OverallRate != nil {
		t.Errorf("expected no data report, got %+v err=%v", empty, err)
	}
}

func TestRunCheckerStopsOnCancel(t *testing.T) {
	med := newMed("alice", "Metformin", medication.StatusActive)
	meds := &fakeMeds{meds: []*medication.EnhancedMedication{med}}
	svc := newTestService(meds, fakeProfiles{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunChecker(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
	if len(meds.missed(med.ID)) != 4 {
		t.Errorf("expected 4 missed doses, got %d", len(meds.missed(med.ID)))
	}
}
