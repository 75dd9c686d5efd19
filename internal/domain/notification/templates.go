package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a reusable title and message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// TemplateEngine renders notification templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      "health-alert",
			Type:    TypeHealthAlert,
			Title:   "Health alert: {{metric}}",
			Message: "{{detail}}. Please review your reading and contact your care team if you feel unwell.",
		},
		{
			ID:      "medication-reminder",
			Type:    TypeMedicationReminder,
			Title:   "Time for {{medication}}",
			Message: "It's time to take {{dosage}} of {{medication}}.",
		},
		{
			ID:      "medication-missed",
			Type:    TypeMedicationReminder,
			Title:   "Missed dose: {{medication}}",
			Message: "You have missed {{missed_count}} dose(s) of {{medication}} in the last 7 days.",
		},
		{
			ID:      "symptom-alert",
			Type:    TypeSymptomAlert,
			Title:   "Severe symptom reported",
			Message: "You reported {{symptom}} with severity {{severity}}/10. Consider contacting your care team.",
		},
		{
			ID:      "appointment-reminder",
			Type:    TypeAppointmentReminder,
			Title:   "Upcoming appointment",
			Message: "Reminder: you have an appointment with {{provider}} on {{date}} at {{time}}.",
		},
		{
			ID:      "data-quality",
			Type:    TypeDataQuality,
			Title:   "Check your health data",
			Message: "Some of your recent readings look incomplete (quality score {{score}}).",
		},
	} {
		t := t
		e.templates[t.ID] = &t
	}
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills a template. Placeholders missing from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (typ, title, message string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}

	title, message = t.Title, t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		message = strings.ReplaceAll(message, placeholder, v)
	}
	return t.Type, title, message, nil
}
