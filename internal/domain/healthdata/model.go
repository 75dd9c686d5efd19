package healthdata

import (
	"time"

	"github.com/google/uuid"
)

const (
	MetricHeartRate        = "heart_rate"
	MetricSystolic         = "blood_pressure_systolic"
	MetricDiastolic        = "blood_pressure_diastolic"
	MetricBloodGlucose     = "blood_glucose"
	MetricTemperature      = "temperature"
	MetricWeight           = "weight"
	MetricOxygenSaturation = "oxygen_saturation"
	MetricRespiratoryRate  = "respiratory_rate"
	MetricSleepHours       = "sleep_hours"
	MetricSteps            = "steps"
)

// metricSpec is the canonical unit and plausible range of a metric. Values
// outside the range are rejected as input errors, not health alerts.
type metricSpec struct {
	Unit     string
	Min, Max float64
}

var metrics = map[string]metricSpec{
	MetricHeartRate:        {"bpm", 20, 300},
	MetricSystolic:         {"mmHg", 40, 300},
	MetricDiastolic:        {"mmHg", 20, 200},
	MetricBloodGlucose:     {"mg/dL", 10, 1000},
	MetricTemperature:      {"C", 25, 45},
	MetricWeight:           {"kg", 1, 500},
	MetricOxygenSaturation: {"%", 50, 100},
	MetricRespiratoryRate:  {"breaths/min", 4, 80},
	MetricSleepHours:       {"h", 0, 24},
	MetricSteps:            {"steps", 0, 200000},
}

// MetricTypes lists the supported metric types.
func MetricTypes() []string {
	return []string{
		MetricHeartRate, MetricSystolic, MetricDiastolic, MetricBloodGlucose, MetricTemperature,
		MetricWeight, MetricOxygenSaturation, MetricRespiratoryRate, MetricSleepHours, MetricSteps,
	}
}

// CanonicalUnit returns the unit stored for metric, or "" if unknown.
func CanonicalUnit(metric string) string { return metrics[metric].Unit }

// HealthData is a single measurement in a user's time series.
type HealthData struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
	Source     string    `json:"source"`
	Notes      *string   `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type SymptomLog struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"user_id"`
	Symptom         string    `json:"symptom"`
	Severity        int       `json:"severity"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	Triggers        []string  `json:"triggers"`
	Notes           *string   `json:"notes,omitempty"`
	LoggedAt        time.Time `json:"logged_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Filter narrows a health data listing. Zero values mean unbounded.
type Filter struct {
	MetricType string
	From, To   time.Time
	Limit      int
	Offset     int
}
