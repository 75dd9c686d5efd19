package notification

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Urgency is the delivery tier of a notification.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyCritical  Urgency = "critical"
	UrgencyEmergency Urgency = "emergency"
)

// BypassesQuietHours reports whether u is delivered during quiet hours.
func (u Urgency) BypassesQuietHours() bool {
	return u == UrgencyCritical || u == UrgencyEmergency
}

// UrgencyContext carries the flags ClassifyUrgency looks at. Fields not
// relevant to a notification type are ignored.
type UrgencyContext struct {
	// Severity is "critical", "high", "medium" or "low" for health alerts.
	Severity string `json:"severity,omitempty"`
	// SeverityScore is the 1-10 symptom severity.
	SeverityScore int      `json:"severity_score,omitempty"`
	IsMissedDose  bool     `json:"is_missed_dose,omitempty"`
	MissedCount   int      `json:"missed_count,omitempty"`
	HoursUntil    *float64 `json:"hours_until,omitempty"`
}

// ClassifyUrgency maps a notification type and its context to a tier.
// Unknown types are low.
func ClassifyUrgency(notificationType string, c UrgencyContext) Urgency {
	switch notificationType {
	case TypeEmergency:
		return UrgencyEmergency
	case TypeHealthAlert:
		switch strings.ToLower(c.Severity) {
		case "critical":
			return UrgencyEmergency
		case "high":
			return UrgencyCritical
		default:
			return UrgencyHigh
		}
	case TypeMedicationReminder:
		if !c.IsMissedDose {
			return UrgencyMedium
		}
		if c.MissedCount >= 3 {
			return UrgencyCritical
		}
		return UrgencyHigh
	case TypeSymptomAlert:
		switch {
		case c.SeverityScore >= 8:
			return UrgencyCritical
		case c.SeverityScore >= 5:
			return UrgencyHigh
		default:
			return UrgencyMedium
		}
	case TypeAppointmentReminder:
		if c.HoursUntil != nil && *c.HoursUntil <= 1 {
			return UrgencyHigh
		}
		return UrgencyMedium
	case TypeDataQuality:
		return UrgencyMedium
	case TypeSystem, TypeGeneral:
		return UrgencyLow
	}
	return UrgencyLow
}

// Metric check outcomes.
const (
	MetricNormal   = "normal"
	MetricWarning  = "warning"
	MetricCritical = "critical"
)

type metricBounds struct {
	label                     string
	unit                      string
	normalLow, normalHigh     float64
	criticalLow, criticalHigh float64
}

var noLimit = math.Inf(1)

var healthBounds = map[string]metricBounds{
	"heart_rate":               {"heart rate", "bpm", 60, 100, 40, 150},
	"blood_pressure_systolic":  {"systolic blood pressure", "mmHg", 90, 140, 70, 180},
	"blood_pressure_diastolic": {"diastolic blood pressure", "mmHg", 60, 90, 40, 120},
	"blood_glucose":            {"blood glucose", "mg/dL", 70, 140, 54, 300},
	"oxygen_saturation":        {"oxygen saturation", "%", 95, 100, 88, noLimit},
	"temperature":              {"body temperature", "C", 36.1, 37.8, 35, 40},
	"respiratory_rate":         {"respiratory rate", "breaths/min", 12, 20, 8, 30},
	"sleep_hours":              {"sleep", "h", 6, 10, -noLimit, noLimit},
}

// MetricCheck is the result of comparing a reading with its bounds.
type MetricCheck struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	NormalMin float64 `json:"normal_min,omitempty"`
	NormalMax float64 `json:"normal_max,omitempty"`
}

// CheckHealthMetric classifies value against the fixed bounds for metric.
// Metrics without bounds are always normal.
func CheckHealthMetric(metric string, value float64) MetricCheck {
	out := MetricCheck{Metric: metric, Value: value, Status: MetricNormal}
	b, ok := healthBounds[metric]
	if !ok {
		out.Message = fmt.Sprintf("%s recorded", metric)
		return out
	}
	out.NormalMin, out.NormalMax = b.normalLow, b.normalHigh

	reading := fmt.Sprintf("%g %s", value, b.unit)
	switch {
	case value < b.criticalLow:
		out.Status = MetricCritical
		out.Message = fmt.Sprintf("Critically low %s: %s", b.label, reading)
	case value > b.criticalHigh:
		out.Status = MetricCritical
		out.Message = fmt.Sprintf("Critically high %s: %s", b.label, reading)
	case value < b.normalLow:
		out.Status = MetricWarning
		out.Message = fmt.Sprintf("Low %s: %s (normal %g-%g)", b.label, reading, b.normalLow, b.normalHigh)
	case value > b.normalHigh:
		out.Status = MetricWarning
		out.Message = fmt.Sprintf("High %s: %s (normal %g-%g)", b.label, reading, b.normalLow, b.normalHigh)
	default:
		out.Message = fmt.Sprintf("%s is within the normal range", b.label)
	}
	return out
}

// channelTiers lists channels per urgency in preference order.
var channelTiers = map[Urgency][]string{
	UrgencyEmergency: {ChannelSMS, ChannelPush, ChannelEmail},
	UrgencyCritical:  {ChannelSMS, ChannelPush, ChannelEmail},
	UrgencyHigh:      {ChannelPush, ChannelSMS},
	UrgencyMedium:    {ChannelPush, ChannelEmail},
	UrgencyLow:       {ChannelEmail},
}

// Preferences are the delivery settings of one user.
type Preferences struct {
	EnabledChannels []string
	// Contacts maps a channel to its address: email, phone or push token.
	Contacts        map[string]string
	QuietHoursStart string
	QuietHoursEnd   string
	Location        *time.Location
}

func (p Preferences) enabled(channel string) bool {
	for _, c := range p.EnabledChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// SelectChannels returns the channels to use for urgency. Channels without
// contact info are never chosen. Critical and emergency notifications
// ignore opt-outs.
func SelectChannels(u Urgency, p Preferences) []string {
	tier, ok := channelTiers[u]
	if !ok {
		tier = channelTiers[UrgencyLow]
	}
	out := []string{}
	for _, ch := range tier {
		if p.Contacts[ch] == "" {
			continue
		}
		if u.BypassesQuietHours() || p.enabled(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InQuietHours reports whether now falls within [start, end) in loc. The
// range may cross midnight. Equal or unparseable bounds disable quiet hours.
func InQuietHours(now time.Time, start, end string, loc *time.Location) bool {
	s, err1 := parseClock(start)
	e, err2 := parseClock(end)
	if err1 != nil || err2 != nil || s == e {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	if s < e {
		return m >= s && m < e
	}
	return m >= s || m < e
}

// QuietHoursEnd returns the first instant at or after now when the quiet
// period ending at end is over.
func QuietHoursEnd(now time.Time, end string, loc *time.Location) time.Time {
	e, err := parseClock(end)
	if err != nil {
		return now
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), e/60, e%60, 0, 0, loc)
	if t.Before(local) {
		t = time.Date(local.Year(), local.Month(), local.Day()+1, e/60, e%60, 0, 0, loc)
	}
	return t.UTC()
}
