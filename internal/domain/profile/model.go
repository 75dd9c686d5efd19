package profile

import (
	"time"

	"github.com/google/uuid"
)

// Notification channels a user can enable.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

var validChannels = map[string]bool{ChannelEmail: true, ChannelSMS: true, ChannelPush: true}

var validBloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

var validSexes = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}

// UserHealthProfile holds per-user health facts and notification
// preferences. One profile per user.
type UserHealthProfile struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                string     `json:"user_id"`
	DateOfBirth           *time.Time `json:"date_of_birth,omitempty"`
	Sex                   *string    `json:"sex,omitempty"`
	HeightCM              *float64   `json:"height_cm,omitempty"`
	WeightKG              *float64   `json:"weight_kg,omitempty"`
	BloodType             *string    `json:"blood_type,omitempty"`
	Conditions            []string   `json:"conditions"`
	Allergies             []string   `json:"allergies"`
	EmergencyContactName  *string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone,omitempty"`
	Timezone              string     `json:"timezone"`
	QuietHoursStart       *string    `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd         *string    `json:"quiet_hours_end,omitempty"`
	EnabledChannels       []string   `json:"enabled_channels"`
	Email                 *string    `json:"email,omitempty"`
	Phone                 *string    `json:"phone,omitempty"`
	PushToken             *string    `json:"push_token,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// BMI returns weight / height² or 0 when either is unknown.
func (p *UserHealthProfile) BMI() float64 {
	if p.HeightCM == nil || p.WeightKG == nil || *p.HeightCM <= 0 {
		return 0
	}
	m := *p.HeightCM / 100
	return *p.WeightKG / (m * m)
}

// Age returns completed years at now, or -1 when date of birth is unknown.
func (p *UserHealthProfile) Age(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

// Location resolves the profile timezone, falling back to UTC.
func (p *UserHealthProfile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChannelEnabled reports whether the user opted into channel.
func (p *UserHealthProfile) ChannelEnabled(channel string) bool {
	for _, c := range p.EnabledChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// Contact returns the address for channel, or "" when none is on file.
func (p *UserHealthProfile) Contact(channel string) string {
	var v *string
	switch channel {
	case ChannelEmail:
		v = p.Email
	case ChannelSMS:
		v = p.Phone
	case ChannelPush:
		v = p.PushToken
	}
	if v == nil {
		return ""
	}
	return *v
}
