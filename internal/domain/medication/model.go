package medication

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive       = "active"
	StatusPaused       = "paused"
	StatusCompleted    = "completed"
	StatusDiscontinued = "discontinued"
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusPaused: true, StatusCompleted: true, StatusDiscontinued: true,
}

const (
	DoseTaken   = "taken"
	DoseMissed  = "missed"
	DoseSkipped = "skipped"
	DoseLate    = "late"
)

var validDoseStatuses = map[string]bool{
	DoseTaken: true, DoseMissed: true, DoseSkipped: true, DoseLate: true,
}

// LateAfter is how long after the scheduled time a taken dose counts as late.
const LateAfter = time.Hour

// EnhancedMedication is a medication on a user's regimen.
type EnhancedMedication struct {
	ID            uuid.UUID  `json:"id"`
	ProfileID     uuid.UUID  `json:"profile_id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	Dosage        float64    `json:"dosage"`
	Unit          string     `json:"unit"`
	Frequency     string     `json:"frequency"`
	TimesPerDay   int        `json:"times_per_day"`
	ScheduleTimes []string   `json:"schedule_times"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Prescriber    *string    `json:"prescriber,omitempty"`
	Instructions  *string    `json:"instructions,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ActiveOn reports whether doses are due on the calendar day of t.
func (m *EnhancedMedication) ActiveOn(t time.Time) bool {
	if m.Status != StatusActive {
		return false
	}
	day := dateOf(t)
	if day.Before(dateOf(m.StartDate)) {
		return false
	}
	return m.EndDate == nil || !day.After(dateOf(*m.EndDate))
}

// DosesOn returns the scheduled dose instants on day in loc, sorted.
// Malformed schedule entries are skipped.
func (m *EnhancedMedication) DosesOn(day time.Time, loc *time.Location) []time.Time {
	day = day.In(loc)
	if !m.ActiveOn(day) {
		return nil
	}
	var out []time.Time
	for _, s := range m.ScheduleTimes {
		t, err := time.Parse("15:04", s)
		if err != nil {
			continue
		}
		out = append(out, time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DoseLog records what happened to one scheduled dose.
type DoseLog struct {
	ID           uuid.UUID  `json:"id"`
	MedicationID uuid.UUID  `json:"medication_id"`
	UserID       string     `json:"user_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	Status       string     `json:"status"`
	Notes        *string    `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Adherence summarises dose logs for one medication.
type Adherence struct {
	MedicationID  uuid.UUID `json:"medication_id"`
	Total         int       `json:"total"`
	Taken         int       `json:"taken"`
	Late          int       `json:"late"`
	Missed        int       `json:"missed"`
	Skipped       int       `json:"skipped"`
	AdherenceRate float64   `json:"adherence_rate"`
	CurrentStreak int       `json:"current_streak"`
}

// ComputeAdherence counts taken and late doses as adherent. The streak is
// the number of consecutive taken doses ending at the most recent one.
func ComputeAdherence(medicationID uuid.UUID, logs []*DoseLog) Adherence {
	a := Adherence{MedicationID: medicationID, Total: len(logs)}
	sorted := make([]*DoseLog, len(logs))
	copy(sorted, logs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ScheduledAt.Before(sorted[j].ScheduledAt) })

	for _, l := range sorted {
		switch l.Status {
		case DoseTaken:
			a.Taken++
		case DoseLate:
			a.Late++
		case DoseMissed:
			a.Missed++
		case DoseSkipped:
			a.Skipped++
		}
	}
	if a.Total > 0 {
		a.AdherenceRate = float64(a.Taken+a.Late) / float64(a.Total)
	}
	for i := len(sorted) - 1; i >= 0 && sorted[i].Status == DoseTaken; i-- {
		a.CurrentStreak++
	}
	return a
}
