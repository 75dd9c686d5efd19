package notification

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Notification types understood by ClassifyUrgency.
const (
	TypeHealthAlert         = "health_alert"
	TypeMedicationReminder  = "medication_reminder"
	TypeSymptomAlert        = "symptom_alert"
	TypeAppointmentReminder = "appointment_reminder"
	TypeDataQuality         = "data_quality"
	TypeSystem              = "system"
	TypeGeneral             = "general"
	TypeEmergency           = "emergency"
)

// cancelledError marks a pending notification cancelled by the user.
const cancelledError = "cancelled"

// Notification is one message on one channel.
type Notification struct {
	ID           uuid.UUID              `json:"id"`
	UserID       string                 `json:"user_id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Channel      string                 `json:"channel"`
	Urgency      Urgency                `json:"urgency"`
	Status       string                 `json:"status"`
	ScheduledFor *time.Time             `json:"scheduled_for,omitempty"`
	SentAt       *time.Time             `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time             `json:"delivered_at,omitempty"`
	Error        *string                `json:"error,omitempty"`
	RetryCount   int                    `json:"retry_count"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Deferred reports whether the notification waits for a later dispatch.
func (n *Notification) Deferred(now time.Time) bool {
	return n.Status == StatusPending && n.ScheduledFor != nil && n.ScheduledFor.After(now)
}
