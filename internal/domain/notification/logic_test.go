package notification

import (
	"reflect"
	"testing"
	"time"
)

func TestClassifyUrgency(t *testing.T) {
	hours := func(h float64) *float64 { return &h }
	tests := []struct {
		name string
		typ  string
		ctx  UrgencyContext
		want Urgency
	}{
		{"critical health alert", TypeHealthAlert, UrgencyContext{Severity: "critical"}, UrgencyEmergency},
		{"high health alert", TypeHealthAlert, UrgencyContext{Severity: "HIGH"}, UrgencyCritical},
		{"other health alert", TypeHealthAlert, UrgencyContext{Severity: "medium"}, UrgencyHigh},
		{"routine reminder", TypeMedicationReminder, UrgencyContext{}, UrgencyMedium},
		{"missed dose", TypeMedicationReminder, UrgencyContext{IsMissedDose: true, MissedCount: 1}, UrgencyHigh},
		{"repeatedly missed", TypeMedicationReminder, UrgencyContext{IsMissedDose: true, MissedCount: 3}, UrgencyCritical},
		{"severe symptom", TypeSymptomAlert, UrgencyContext{SeverityScore: 8}, UrgencyCritical},
		{"moderate symptom", TypeSymptomAlert, UrgencyContext{SeverityScore: 5}, UrgencyHigh},
		{"mild symptom", TypeSymptomAlert, UrgencyContext{SeverityScore: 4}, UrgencyMedium},
		{"imminent appointment", TypeAppointmentReminder, UrgencyContext{HoursUntil: hours(0.5)}, UrgencyHigh},
		{"later appointment", TypeAppointmentReminder, UrgencyContext{HoursUntil: hours(24)}, UrgencyMedium},
		{"appointment without time", TypeAppointmentReminder, UrgencyContext{}, UrgencyMedium},
		{"data quality", TypeDataQuality, UrgencyContext{}, UrgencyMedium},
		{"system", TypeSystem, UrgencyContext{}, UrgencyLow},
		{"general", TypeGeneral, UrgencyContext{}, UrgencyLow},
		{"emergency", TypeEmergency, UrgencyContext{}, UrgencyEmergency},
		{"unknown", "newsletter", UrgencyContext{Severity: "critical"}, UrgencyLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyUrgency(tt.typ, tt.ctx); got != tt.want {
				t.Errorf("ClassifyUrgency(%s) = %s, want %s", tt.typ, got, tt.want)
			}
		})
	}
}

func TestCheckHealthMetric(t *testing.T) {
	tests := []struct {
		metric string
		value  float64
		want   string
	}{
		{"heart_rate", 72, MetricNormal},
		{"heart_rate", 110, MetricWarning},
		{"heart_rate", 35, MetricCritical},
		{"heart_rate", 160, MetricCritical},
		{"blood_pressure_systolic", 185, MetricCritical},
		{"blood_pressure_systolic", 150, MetricWarning},
		{"blood_glucose", 50, MetricCritical},
		{"blood_glucose", 100, MetricNormal},
		{"oxygen_saturation", 100, MetricNormal},
		{"oxygen_saturation", 92, MetricWarning},
		{"oxygen_saturation", 85, MetricCritical},
		{"temperature", 40.5, MetricCritical},
		{"temperature", 36.6, MetricNormal},
		{"sleep_hours", 3, MetricWarning},
		{"steps", 0, MetricNormal},
	}
	for _, tt := range tests {
		got := CheckHealthMetric(tt.metric, tt.value)
		if got.Status != tt.want {
			t.Errorf("CheckHealthMetric(%s, %v) = %s (%s), want %s", tt.metric, tt.value, got.Status, got.Message, tt.want)
		}
		if got.Message == "" {
			t.Errorf("CheckHealthMetric(%s, %v): empty message", tt.metric, tt.value)
		}
	}
}

func TestSelectChannels(t *testing.T) {
	all := map[string]string{ChannelEmail: "a@example.com", ChannelSMS: "+15550001", ChannelPush: "tok"}
	tests := []struct {
		name    string
		urgency Urgency
		prefs   Preferences
		want    []string
	}{
		{"emergency ignores opt-outs", UrgencyEmergency, Preferences{EnabledChannels: []string{ChannelEmail}, Contacts: all},
			[]string{ChannelSMS, ChannelPush, ChannelEmail}},
		{"critical needs contact info", UrgencyCritical, Preferences{Contacts: map[string]string{ChannelEmail: "a@example.com"}},
			[]string{ChannelEmail}},
		{"high honours opt-in", UrgencyHigh, Preferences{EnabledChannels: []string{ChannelSMS}, Contacts: all},
			[]string{ChannelSMS}},
		{"medium order", UrgencyMedium, Preferences{EnabledChannels: []string{ChannelEmail, ChannelPush}, Contacts: all},
			[]string{ChannelPush, ChannelEmail}},
		{"low is email only", UrgencyLow, Preferences{EnabledChannels: []string{ChannelPush, ChannelSMS}, Contacts: all},
			[]string{}},
		{"no contacts", UrgencyEmergency, Preferences{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectChannels(tt.urgency, tt.prefs); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"overnight late", at(23, 30), "22:00", "07:00", true},
		{"overnight early", at(6, 59), "22:00", "07:00", true},
		{"overnight end exclusive", at(7, 0), "22:00", "07:00", false},
		{"overnight daytime", at(12, 0), "22:00", "07:00", false},
		{"same day inside", at(13, 30), "13:00", "14:00", true},
		{"same day outside", at(14, 0), "13:00", "14:00", false},
		{"equal bounds disabled", at(10, 0), "10:00", "10:00", false},
		{"unparseable disabled", at(23, 0), "late", "07:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InQuietHours(tt.now, tt.start, tt.end, time.UTC); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInQuietHours_UsesUserTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 14:00 UTC is 23:00 in Tokyo.
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	if !InQuietHours(now, "22:00", "07:00", tokyo) {
		t.Error("expected quiet hours in Tokyo")
	}
	end := QuietHoursEnd(now, "07:00", tokyo)
	want := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Errorf("QuietHoursEnd = %v, want %v", end, want)
	}
}

func TestQuietHoursEnd_SameDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 2, 15, 0, 0, time.UTC)
	end := QuietHoursEnd(now, "07:00", time.UTC)
	if want := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("got %v, want %v", end, want)
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	typ, title, msg, err := e.Render("medication-missed", map[string]string{"medication": "Aspirin", "missed_count": "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != TypeMedicationReminder || title != "Missed dose: Aspirin" {
		t.Errorf("unexpected render %q %q", typ, title)
	}
	if msg != "You have missed 2 dose(s) of Aspirin in the last 7 days." {
		t.Errorf("unexpected message %q", msg)
	}
	if _, _, _, err := e.Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}

	e.RegisterTemplate(Template{ID: "custom", Type: TypeGeneral, Title: "Hi {{name}}", Message: "{{unknown}}"})
	_, title, msg, _ = e.Render("custom", map[string]string{"name": "Sam"})
	if title != "Hi Sam" || msg != "{{unknown}}" {
		t.Errorf("unexpected custom render %q %q", title, msg)
	}
}
