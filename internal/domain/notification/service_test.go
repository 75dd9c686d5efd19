package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/healthmate/internal/domain/profile"
	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/retry"
	"github.com/healthmate/healthmate/internal/platform/webhook"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

// mockRepo shares *Notification values with callers, so the last stored
// status and delivery leases are tracked separately.
type mockRepo struct {
	mu     sync.Mutex
	data   map[uuid.UUID]*Notification
	stored map[uuid.UUID]string
	claims map[uuid.UUID]time.Time
	seq    int

	failUpdate func(n *Notification) error
	updates    int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		data:   make(map[uuid.UUID]*Notification),
		stored: make(map[uuid.UUID]string),
		claims: make(map[uuid.UUID]time.Time),
	}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	n.ID = uuid.New()
	n.CreatedAt = time.Unix(int64(m.seq), 0)
	m.data[n.ID] = n
	m.stored[n.ID] = n.Status
	return nil
}
func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.data[id]; ok {
		return n, nil
	}
	return nil, apperr.NotFound("notification", id)
}
func (m *mockRepo) Update(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if _, ok := m.data[n.ID]; !ok {
		return apperr.NotFound("notification", n.ID)
	}
	if m.failUpdate != nil {
		if err := m.failUpdate(n); err != nil {
			return err
		}
	}
	m.data[n.ID] = n
	m.stored[n.ID] = n.Status
	delete(m.claims, n.ID)
	return nil
}
func (m *mockRepo) Claim(_ context.Context, id uuid.UUID, status string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored[id] != status {
		return false, nil
	}
	if lease, ok := m.claims[id]; ok && lease.After(now) {
		return false, nil
	}
	m.claims[id] = until
	return true, nil
}
func (m *mockRepo) storedStatus(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[id]
}
func (m *mockRepo) ListByUser(_ context.Context, userID, status string, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.data {
		if n.UserID == userID && (status == "" || n.Status == status) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}
func (m *mockRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.data {
		if m.stored[n.ID] != StatusPending || (n.ScheduledFor != nil && n.ScheduledFor.After(now)) {
			continue
		}
		if lease, ok := m.claims[n.ID]; !ok || !lease.After(now) {
			out = append(out, n)
		}
	}
	return out, nil
}
func (m *mockRepo) Stats(_ context.Context, userID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{}
	for _, n := range m.data {
		if userID == "" || n.UserID == userID {
			stats[n.Status]++
		}
	}
	return stats, nil
}

type mockProfiles map[string]*profile.UserHealthProfile

func (m mockProfiles) GetByUserID(_ context.Context, userID string) (*profile.UserHealthProfile, error) {
	if p, ok := m[userID]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("profile", userID)
}

// mockSender records messages and optionally fails.
type mockSender struct {
	mu         sync.Mutex
	channel    string
	calls      []Message
	ShouldFail bool
}

func (m *mockSender) Channel() string { return m.channel }
func (m *mockSender) Send(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if m.ShouldFail {
		return "", errors.New("provider unavailable")
	}
	return m.channel + "-id", nil
}
func (m *mockSender) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.calls...)
}

// blockingSender holds every send until release is closed.
type blockingSender struct {
	mockSender
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSender(channel string) *blockingSender {
	return &blockingSender{
		mockSender: mockSender{channel: channel},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (b *blockingSender) Send(ctx context.Context, msg Message) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.mockSender.Send(ctx, msg)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type recordingWebhooks struct {
	types []string
}

func (w *recordingWebhooks) NewEvent(eventType, userID, resourceType, resourceID string, data interface{}) (webhook.Event, error) {
	raw, err := json.Marshal(data)
	return webhook.Event{Type: eventType, UserID: userID, ResourceType: resourceType, ResourceID: resourceID, Data: raw}, err
}
func (w *recordingWebhooks) Publish(_ context.Context, ev webhook.Event) {
	w.types = append(w.types, ev.Type)
}

func str(s string) *string { return &s }

type fixture struct {
	svc      *Service
	repo     *mockRepo
	email    *mockSender
	sms      *mockSender
	push     *mockSender
	events   *recordingPublisher
	webhooks *recordingWebhooks
	now      time.Time
}

// newFixture builds a service whose clock reads now (UTC). alice has every
// contact and opts into email and push with quiet hours 22:00-07:00.
func newFixture(now time.Time) *fixture {
	f := &fixture{
		repo:     newMockRepo(),
		email:    &mockSender{channel: ChannelEmail},
		sms:      &mockSender{channel: ChannelSMS},
		push:     &mockSender{channel: ChannelPush},
		events:   &recordingPublisher{},
		webhooks: &recordingWebhooks{},
		now:      now,
	}
	profiles := mockProfiles{
		"alice": {
			UserID:          "alice",
			Timezone:        "UTC",
			EnabledChannels: []string{ChannelEmail, ChannelPush},
			Email:           str("alice@example.com"),
			Phone:           str("+15550001"),
			PushToken:       str("tok-alice"),
			QuietHoursStart: str("22:00"),
			QuietHoursEnd:   str("07:00"),
		},
	}
	f.svc = NewService(f.repo, profiles,
		WithSender(f.email), WithSender(f.sms), WithSender(f.push),
		WithEventPublisher(f.events),
		WithWebhooks(f.webhooks),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestNotify_MediumUsesEnabledChannels(t *testing.T) {
	f := newFixture(noon)
	items, err := f.svc.Notify(context.Background(), Request{
		UserID: "alice", Type: TypeMedicationReminder, Title: "Reminder", Message: "Take your pills",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].Channel != ChannelPush || items[1].Channel != ChannelEmail {
		t.Fatalf("expected push then email, got %+v", items)
	}
	for _, n := range items {
		if n.Status != StatusSent || n.SentAt == nil || n.Urgency != UrgencyMedium {
			t.Errorf("unexpected notification %+v", n)
		}
		if n.Metadata["provider_id"] != n.Channel+"-id" {
			t.Errorf("provider id not recorded: %v", n.Metadata)
		}
	}
	if len(f.sms.Calls()) != 0 {
		t.Error("sms is not enabled for medium urgency")
	}
	if got := f.push.Calls(); len(got) != 1 || got[0].To != "tok-alice" {
		t.Errorf("unexpected push calls %+v", got)
	}
	if len(f.events.events) != 2 || f.events.events[0].Type != "notification.created" {
		t.Errorf("unexpected websocket events %+v", f.events.events)
	}
	if len(f.webhooks.types) != 2 || f.webhooks.types[0] != "notification.sent" {
		t.Errorf("unexpected webhook events %v", f.webhooks.types)
	}
}

func TestNotify_QuietHoursDefersNonUrgent(t *testing.T) {
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	f := newFixture(night)

	items, err := f.svc.Notify(context.Background(), Request{
		UserID: "alice", Type: TypeGeneral, Title: "Weekly summary", Message: "All good",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one email notification, got %d", len(items))
	}
	n := items[0]
	want := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	if n.Status != StatusPending || n.ScheduledFor == nil || !n.ScheduledFor.Equal(want) {
		t.Fatalf("expected pending until %v, got %+v", want, n)
	}
	if len(f.email.Calls()) != 0 {
		t.Error("deferred notification must not be sent yet")
	}

	// Still quiet at 06:00, nothing is due.
	if count, _ := f.svc.DispatchDue(context.Background(), want.Add(-time.Hour)); count != 0 {
		t.Errorf("expected nothing due, got %d", count)
	}
	f.now = want
	count, err := f.svc.DispatchDue(context.Background(), want)
	if err != nil || count != 1 {
		t.Fatalf("expected one dispatched, got %d err=%v", count, err)
	}
	if n.Status != StatusSent || len(f.email.Calls()) != 1 {
		t.Errorf("expected sent after quiet hours, got %s", n.Status)
	}
}

func TestNotify_CriticalBypassesQuietHoursAndOptOuts(t *testing.T) {
	f := newFixture(time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC))
	if err := f.svc.HealthAlert(context.Background(), "alice", "heart_rate", 190); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, _, _ := f.repo.ListByUser(context.Background(), "alice", "", 10, 0)
	if len(items) != 3 {
		t.Fatalf("expected sms, push and email, got %d", len(items))
	}
	for _, n := range items {
		if n.Urgency != UrgencyEmergency || n.Status != StatusSent {
			t.Errorf("unexpected notification %+v", n)
		}
	}
	if got := f.sms.Calls(); len(got) != 1 || got[0].Title != "Health alert: heart rate" {
		t.Errorf("unexpected sms calls %+v", got)
	}
}

func TestHealthAlert_NormalReadingIsSilent(t *testing.T) {
	f := newFixture(noon)
	if err := f.svc.HealthAlert(context.Background(), "alice", "heart_rate", 70); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats, _ := f.repo.Stats(context.Background(), "alice"); len(stats) != 0 {
		t.Errorf("expected no notifications, got %v", stats)
	}
}

func TestMedicationMissed_Escalates(t *testing.T) {
	f := newFixture(noon)
	f.svc.MedicationMissed(context.Background(), "alice", "Metformin", 1)
	f.svc.MedicationMissed(context.Background(), "alice", "Metformin", 3)

	items, _, _ := f.repo.ListByUser(context.Background(), "alice", "", 10, 0)
	var high, critical int
	for _, n := range items {
		switch n.Urgency {
		case UrgencyHigh:
			high++
		case UrgencyCritical:
			critical++
		}
	}
	// High: push (sms not enabled). Critical: sms, push, email.
	if high != 1 || critical != 3 {
		t.Errorf("expected 1 high and 3 critical, got %d and %d", high, critical)
	}
}

func TestNotify_UnknownUserGetsNothing(t *testing.T) {
	f := newFixture(noon)
	items, err := f.svc.Notify(context.Background(), Request{UserID: "ghost", Type: TypeEmergency, Title: "t", Message: "m"})
	if err != nil || len(items) != 0 {
		t.Fatalf("expected no notifications, got %d err=%v", len(items), err)
	}
}

func TestNotify_Validation(t *testing.T) {
	f := newFixture(noon)
	for _, req := range []Request{
		{Type: TypeGeneral, Title: "t", Message: "m"},
		{UserID: "alice", Title: " ", Message: "m"},
		{UserID: "alice", Title: "t"},
		{UserID: "alice", TemplateID: "missing"},
		{UserID: "alice", Title: "t", Message: "m", Channels: []string{"fax"}},
	} {
		if _, err := f.svc.Notify(context.Background(), req); !apperr.Is(err, apperr.CodeValidation) {
			t.Errorf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestRetryAndLifecycle(t *testing.T) {
	f := newFixture(noon)
	f.email.ShouldFail = true
	items, _ := f.svc.Notify(context.Background(), Request{
		UserID: "alice", Type: TypeGeneral, Title: "t", Message: "m",
	})
	n := items[0]
	if n.Status != StatusFailed || n.Error == nil {
		t.Fatalf("expected failed notification, got %+v", n)
	}

	if _, err := f.svc.MarkDelivered(context.Background(), n.ID); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("failed notification cannot be delivered, got %v", err)
	}

	f.email.ShouldFail = false
	n, err := f.svc.Retry(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusSent || n.RetryCount != 1 || n.Error != nil {
		t.Errorf("unexpected notification after retry %+v", n)
	}
	if _, err := f.svc.Retry(context.Background(), n.ID); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("sent notification cannot be retried, got %v", err)
	}

	n, err = f.svc.MarkDelivered(context.Background(), n.ID)
	if err != nil || n.Status != StatusDelivered || n.DeliveredAt == nil {
		t.Fatalf("expected delivered, got %+v err=%v", n, err)
	}
	if _, err := f.svc.MarkDelivered(context.Background(), n.ID); err != nil {
		t.Errorf("repeated receipt should be ignored, got %v", err)
	}
	if last := f.webhooks.types[len(f.webhooks.types)-1]; last != "notification.delivered" {
		t.Errorf("expected delivered webhook, got %s", last)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	f := newFixture(noon)
	f.email.ShouldFail = true
	items, _ := f.svc.Notify(context.Background(), Request{UserID: "alice", Type: TypeGeneral, Title: "t", Message: "m"})
	id := items[0].ID
	for i := 0; i < MaxRetries; i++ {
		if _, err := f.svc.Retry(context.Background(), id); err != nil {
			t.Fatalf("retry %d: unexpected error %v", i+1, err)
		}
	}
	if _, err := f.svc.Retry(context.Background(), id); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("expected conflict after %d retries, got %v", MaxRetries, err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	items, _ := f.svc.Notify(context.Background(), Request{UserID: "alice", Type: TypeGeneral, Title: "t", Message: "m"})
	n, err := f.svc.Cancel(context.Background(), items[0].ID)
	if err != nil || n.Status != StatusFailed || n.Error == nil || *n.Error != "cancelled" {
		t.Fatalf("expected cancelled, got %+v err=%v", n, err)
	}
	if _, err := f.svc.Retry(context.Background(), n.ID); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("cancelled notification cannot be retried, got %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), n.ID); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("expected conflict on second cancel, got %v", err)
	}
}

func TestNotify_MissingSenderFails(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, mockProfiles{"bob": {UserID: "bob", EnabledChannels: []string{ChannelEmail}, Email: str("b@example.com")}},
		WithClock(func() time.Time { return noon }))
	items, err := svc.Notify(context.Background(), Request{UserID: "bob", Type: TypeGeneral, Title: "t", Message: "m"})
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one notification, got %d err=%v", len(items), err)
	}
	if items[0].Status != StatusFailed {
		t.Errorf("expected failed without a sender, got %s", items[0].Status)
	}
}

func TestDispatchDue_SkipsNotificationBeingSent(t *testing.T) {
	f := newFixture(noon)
	push := newBlockingSender(ChannelPush)
	WithSender(push)(f.svc)

	done := make(chan []*Notification)
	go func() {
		items, _ := f.svc.Notify(context.Background(), Request{
			UserID: "alice", Type: TypeMedicationReminder, Title: "Reminder", Message: "Take your pills",
		})
		done <- items
	}()
	<-push.entered

	count, err := f.svc.DispatchDue(context.Background(), noon)
	if err != nil || count != 0 {
		t.Fatalf("in-flight notification must not be dispatched, got %d err=%v", count, err)
	}
	close(push.release)
	items := <-done

	if count, _ := f.svc.DispatchDue(context.Background(), noon.Add(time.Minute)); count != 0 {
		t.Errorf("nothing should be due after Notify, got %d", count)
	}
	if got := len(push.Calls()); got != 1 {
		t.Errorf("expected one push send, got %d", got)
	}
	for _, n := range items {
		if f.repo.storedStatus(n.ID) != StatusSent {
			t.Errorf("expected %s stored as sent, got %s", n.Channel, f.repo.storedStatus(n.ID))
		}
	}
}

func TestRetry_ConflictsWhileClaimed(t *testing.T) {
	f := newFixture(noon)
	f.email.ShouldFail = true
	items, _ := f.svc.Notify(context.Background(), Request{UserID: "alice", Type: TypeGeneral, Title: "t", Message: "m"})
	id := items[0].ID

	if ok, _ := f.repo.Claim(context.Background(), id, StatusFailed, noon, noon.Add(DeliveryLease)); !ok {
		t.Fatal("expected to claim the failed notification")
	}
	if _, err := f.svc.Retry(context.Background(), id); !apperr.Is(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict while another retry holds the lease, got %v", err)
	}
	if got := len(f.email.Calls()); got != 1 {
		t.Errorf("expected only the original send, got %d", got)
	}

	f.now = noon.Add(DeliveryLease + time.Second)
	if _, err := f.svc.Retry(context.Background(), id); err != nil {
		t.Errorf("expired lease should allow retry, got %v", err)
	}
}

func TestSend_StatusNotStoredIsRecordedAsFailed(t *testing.T) {
	f := newFixture(noon)
	WithPersistRetry(retry.Config{MaxAttempts: 3, Sleep: noSleep})(f.svc)
	f.repo.failUpdate = func(n *Notification) error {
		if n.Status == StatusSent {
			return errors.New("connection reset")
		}
		return nil
	}

	items, err := f.svc.Notify(context.Background(), Request{
		UserID: "alice", Type: TypeMedicationReminder, Title: "Reminder", Message: "Take your pills",
	})
	if err != nil || len(items) != 2 {
		t.Fatalf("expected two notifications, got %d err=%v", len(items), err)
	}
	// Three attempts at sent plus the failed fallback, per notification.
	if f.repo.updates != 8 {
		t.Errorf("expected 8 update attempts, got %d", f.repo.updates)
	}
	for _, n := range items {
		if got := f.repo.storedStatus(n.ID); got != StatusFailed {
			t.Errorf("%s: expected stored failed, got %s", n.Channel, got)
		}
		if n.Error == nil || !strings.HasPrefix(*n.Error, undeliverableError) {
			t.Errorf("%s: unexpected error %v", n.Channel, n.Error)
		}
	}

	if count, _ := f.svc.DispatchDue(context.Background(), noon.Add(time.Hour)); count != 0 {
		t.Errorf("sent notifications must not be dispatched again, got %d", count)
	}
	if len(f.push.Calls()) != 1 || len(f.email.Calls()) != 1 {
		t.Errorf("expected one send per channel, got push=%d email=%d", len(f.push.Calls()), len(f.email.Calls()))
	}
}

func TestSend_LeaseHoldsWhenNothingCanBeStored(t *testing.T) {
	f := newFixture(noon)
	WithPersistRetry(retry.Config{MaxAttempts: 2, Sleep: noSleep})(f.svc)
	f.repo.failUpdate = func(*Notification) error { return errors.New("database unavailable") }

	items, _ := f.svc.Notify(context.Background(), Request{UserID: "alice", Type: TypeGeneral, Title: "t", Message: "m"})
	if len(items) != 1 || f.repo.storedStatus(items[0].ID) != StatusPending {
		t.Fatalf("expected one notification still stored as pending, got %+v", items)
	}
	if count, _ := f.svc.DispatchDue(context.Background(), noon.Add(DeliveryLease/2)); count != 0 {
		t.Errorf("lease should block redelivery, got %d", count)
	}
	if len(f.email.Calls()) != 1 {
		t.Errorf("expected a single send, got %d", len(f.email.Calls()))
	}
}
