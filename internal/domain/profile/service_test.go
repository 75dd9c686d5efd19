package profile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

type mockRepo struct {
	data map[uuid.UUID]*UserHealthProfile
}

func newMockRepo() *mockRepo {
	return &mockRepo{data: make(map[uuid.UUID]*UserHealthProfile)}
}

func (m *mockRepo) Create(_ context.Context, p *UserHealthProfile) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.data[p.ID] = p
	return nil
}
func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*UserHealthProfile, error) {
	if p, ok := m.data[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("profile", id)
}
func (m *mockRepo) GetByUserID(_ context.Context, userID string) (*UserHealthProfile, error) {
	for _, p := range m.data {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperr.NotFound("profile", userID)
}
func (m *mockRepo) Update(_ context.Context, p *UserHealthProfile) error {
	if _, ok := m.data[p.ID]; !ok {
		return apperr.NotFound("profile", p.ID)
	}
	m.data[p.ID] = p
	return nil
}
func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.data[id]; !ok {
		return apperr.NotFound("profile", id)
	}
	delete(m.data, id)
	return nil
}
func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*UserHealthProfile, int, error) {
	var out []*UserHealthProfile
	for _, p := range m.data {
		out = append(out, p)
	}
	return out, len(out), nil
}

func ptr[T any](v T) *T { return &v }

func TestService_CreateDefaults(t *testing.T) {
	svc := NewService(newMockRepo())
	p := &UserHealthProfile{UserID: "alice"}
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Timezone != "UTC" {
		t.Errorf("expected UTC default, got %q", p.Timezone)
	}
	if len(p.EnabledChannels) != 2 || !p.ChannelEnabled(ChannelEmail) || !p.ChannelEnabled(ChannelPush) {
		t.Errorf("unexpected default channels %v", p.EnabledChannels)
	}
	if p.Conditions == nil || p.Allergies == nil {
		t.Error("lists should default to empty, not nil")
	}
}

func TestService_CreateDuplicate(t *testing.T) {
	svc := NewService(newMockRepo())
	svc.Create(context.Background(), &UserHealthProfile{UserID: "alice"})
	err := svc.Create(context.Background(), &UserHealthProfile{UserID: "alice"})
	if !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

func TestService_Validation(t *testing.T) {
	future := time.Now().Add(48 * time.Hour)
	tests := []struct {
		name string
		p    UserHealthProfile
	}{
		{"missing user", UserHealthProfile{}},
		{"too short", UserHealthProfile{UserID: "u", HeightCM: ptr(29.0)}},
		{"too tall", UserHealthProfile{UserID: "u", HeightCM: ptr(281.0)}},
		{"too light", UserHealthProfile{UserID: "u", WeightKG: ptr(0.5)}},
		{"too heavy", UserHealthProfile{UserID: "u", WeightKG: ptr(501.0)}},
		{"blood type", UserHealthProfile{UserID: "u", BloodType: ptr("C+")}},
		{"sex", UserHealthProfile{UserID: "u", Sex: ptr("robot")}},
		{"future dob", UserHealthProfile{UserID: "u", DateOfBirth: &future}},
		{"timezone", UserHealthProfile{UserID: "u", Timezone: "Mars/Olympus"}},
		{"half quiet hours", UserHealthProfile{UserID: "u", QuietHoursStart: ptr("22:00")}},
		{"bad quiet hours", UserHealthProfile{UserID: "u", QuietHoursStart: ptr("25:00"), QuietHoursEnd: ptr("07:00")}},
		{"channel", UserHealthProfile{UserID: "u", EnabledChannels: []string{"pigeon"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMockRepo())
			p := tt.p
			if err := svc.Create(context.Background(), &p); !apperr.Is(err, apperr.CodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestService_ValidBoundaries(t *testing.T) {
	svc := NewService(newMockRepo())
	p := &UserHealthProfile{
		UserID:          "bob",
		HeightCM:        ptr(280.0),
		WeightKG:        ptr(1.0),
		BloodType:       ptr("AB-"),
		Timezone:        "Europe/Berlin",
		QuietHoursStart: ptr("22:00"),
		QuietHoursEnd:   ptr("07:00"),
		EnabledChannels: []string{ChannelSMS},
	}
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProfile_Helpers(t *testing.T) {
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	p := &UserHealthProfile{
		HeightCM:    ptr(180.0),
		WeightKG:    ptr(81.0),
		DateOfBirth: &dob,
		Phone:       ptr("+15550001111"),
		Timezone:    "America/New_York",
	}
	if bmi := p.BMI(); bmi < 24.99 || bmi > 25.01 {
		t.Errorf("BMI = %.2f, want 25", bmi)
	}
	if age := p.Age(time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)); age != 35 {
		t.Errorf("age day before birthday = %d, want 35", age)
	}
	if age := p.Age(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)); age != 36 {
		t.Errorf("age on birthday = %d, want 36", age)
	}
	if p.Contact(ChannelSMS) != "+15550001111" || p.Contact(ChannelEmail) != "" {
		t.Error("unexpected contact lookup")
	}
	if p.Location().String() != "America/New_York" {
		t.Errorf("location = %s", p.Location())
	}
	if (&UserHealthProfile{Timezone: "bogus"}).Location() != time.UTC {
		t.Error("invalid timezone should fall back to UTC")
	}
}

func TestParseClock(t *testing.T) {
	if m, err := ParseClock("07:30"); err != nil || m != 450 {
		t.Errorf("ParseClock(07:30) = %d, %v", m, err)
	}
	if _, err := ParseClock("7pm"); err == nil {
		t.Error("expected error")
	}
}
