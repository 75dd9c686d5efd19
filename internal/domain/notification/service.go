package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/domain/profile"
	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/metrics"
	"github.com/healthmate/healthmate/internal/platform/retry"
	"github.com/healthmate/healthmate/internal/platform/webhook"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

// MaxRetries bounds manual retries of a failed notification.
const MaxRetries = 3

// dispatchBatch is how many due notifications one dispatch pass handles.
const dispatchBatch = 100

// DeliveryLease is how long a claimed notification is held by one sender. It
// outlasts the provider client's full retry budget.
const DeliveryLease = 10 * time.Minute

// undeliverableError marks a message the provider accepted whose sent status
// could not be stored.
const undeliverableError = "sent but status not recorded"

// ProfileLookup loads the delivery preferences of a user.
type ProfileLookup interface {
	GetByUserID(ctx context.Context, userID string) (*profile.UserHealthProfile, error)
}

// WebhookPublisher fans status changes out to webhook subscribers.
// *webhook.Manager implements it.
type WebhookPublisher interface {
	NewEvent(eventType, userID, resourceType, resourceID string, data interface{}) (webhook.Event, error)
	Publish(ctx context.Context, ev webhook.Event)
}

// Request asks for a notification to be sent to a user. Either Title and
// Message or TemplateID must be given.
type Request struct {
	UserID       string                 `json:"user_id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	TemplateID   string                 `json:"template_id,omitempty"`
	TemplateData map[string]string      `json:"template_data,omitempty"`
	Context      UrgencyContext         `json:"context"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	// Channels, when set, restricts delivery to these channels.
	Channels []string `json:"channels,omitempty"`
}

// Service classifies, routes and delivers notifications.
type Service struct {
	repo      Repository
	profiles  ProfileLookup
	templates *TemplateEngine
	senders   map[string]Sender

	defaultQuietStart string
	defaultQuietEnd   string

	events   websocket.Publisher
	webhooks WebhookPublisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	persistRetry retry.Config
	dispatchMu   sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

func WithSender(s Sender) Option {
	return func(svc *Service) { svc.senders[s.Channel()] = s }
}

// WithDefaultQuietHours applies to users without their own quiet hours.
func WithDefaultQuietHours(start, end string) Option {
	return func(svc *Service) { svc.defaultQuietStart, svc.defaultQuietEnd = start, end }
}

func WithEventPublisher(p websocket.Publisher) Option {
	return func(svc *Service) { svc.events = p }
}

func WithWebhooks(w WebhookPublisher) Option {
	return func(svc *Service) { svc.webhooks = w }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithPersistRetry sets the backoff for storing a delivery outcome.
func WithPersistRetry(cfg retry.Config) Option {
	return func(svc *Service) { svc.persistRetry = cfg }
}

func NewService(repo Repository, profiles ProfileLookup, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		profiles:  profiles,
		templates: NewTemplateEngine(),
		senders:   make(map[string]Sender),
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	s.persistRetry = retry.Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Strategy:     retry.Exponential,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Templates() *TemplateEngine { return s.templates }

// preferences loads the user's delivery settings. A user without a profile
// has no contacts and receives nothing.
func (s *Service) preferences(ctx context.Context, userID string) (Preferences, error) {
	prefs := Preferences{
		QuietHoursStart: s.defaultQuietStart,
		QuietHoursEnd:   s.defaultQuietEnd,
		Location:        time.UTC,
		Contacts:        map[string]string{},
	}
	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return prefs, nil
		}
		return prefs, err
	}
	prefs.EnabledChannels = p.EnabledChannels
	prefs.Location = p.Location()
	for _, ch := range []string{ChannelEmail, ChannelSMS, ChannelPush} {
		if v := p.Contact(ch); v != "" {
			prefs.Contacts[ch] = v
		}
	}
	if p.QuietHoursStart != nil && p.QuietHoursEnd != nil {
		prefs.QuietHoursStart, prefs.QuietHoursEnd = *p.QuietHoursStart, *p.QuietHoursEnd
	}
	return prefs, nil
}

func (s *Service) resolve(req *Request) error {
	if req.UserID == "" {
		return apperr.ValidationField("user_id", "user_id is required")
	}
	if req.TemplateID != "" {
		typ, title, msg, err := s.templates.Render(req.TemplateID, req.TemplateData)
		if err != nil {
			return apperr.ValidationField("template_id", err.Error())
		}
		if req.Type == "" {
			req.Type = typ
		}
		req.Title, req.Message = title, msg
	}
	if req.Type == "" {
		req.Type = TypeGeneral
	}
	if strings.TrimSpace(req.Title) == "" {
		return apperr.ValidationField("title", "title is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return apperr.ValidationField("message", "message is required")
	}
	for _, ch := range req.Channels {
		if ch != ChannelEmail && ch != ChannelSMS && ch != ChannelPush {
			return apperr.ValidationField("channels", fmt.Sprintf("unsupported channel: %s", ch))
		}
	}
	return nil
}

func restrict(channels, allowed []string) []string {
	if len(allowed) == 0 {
		return channels
	}
	out := []string{}
	for _, ch := range channels {
		for _, a := range allowed {
			if ch == a {
				out = append(out, ch)
				break
			}
		}
	}
	return out
}

// Notify creates one notification per selected channel. During the user's
// quiet hours non-urgent notifications stay pending until the quiet period
// ends; the rest are delivered immediately. Delivery failures are recorded
// on the notification, not returned.
func (s *Service) Notify(ctx context.Context, req Request) ([]*Notification, error) {
	if err := s.resolve(&req); err != nil {
		return nil, err
	}
	urgency := ClassifyUrgency(req.Type, req.Context)
	prefs, err := s.preferences(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	channels := restrict(SelectChannels(urgency, prefs), req.Channels)
	if len(channels) == 0 {
		s.logger.Info().Str("user_id", req.UserID).Str("type", req.Type).Str("urgency", string(urgency)).
			Msg("no deliverable channel for notification")
	}

	now := s.now().UTC()
	var scheduled *time.Time
	if !urgency.BypassesQuietHours() && InQuietHours(now, prefs.QuietHoursStart, prefs.QuietHoursEnd, prefs.Location) {
		t := QuietHoursEnd(now, prefs.QuietHoursEnd, prefs.Location)
		scheduled = &t
	}

	out := make([]*Notification, 0, len(channels))
	for _, ch := range channels {
		n := &Notification{
			UserID:       req.UserID,
			Type:         req.Type,
			Title:        req.Title,
			Message:      req.Message,
			Channel:      ch,
			Urgency:      urgency,
			Status:       StatusPending,
			ScheduledFor: scheduled,
			Metadata:     copyMetadata(req.Metadata),
		}
		if err := s.repo.Create(ctx, n); err != nil {
			return out, err
		}
		s.metrics.Notification(ch, StatusPending)
		s.publish(ctx, "notification.created", n)
		if scheduled == nil {
			if err := s.deliver(ctx, n, prefs); err != nil {
				s.logger.Debug().Err(err).Str("notification_id", n.ID.String()).Msg("notification not delivered inline")
			}
		}
		out = append(out, n)
	}
	return out, nil
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// claim takes the delivery lease on n. It fails with a conflict when n has
// left its current status or another sender holds the lease.
func (s *Service) claim(ctx context.Context, n *Notification) error {
	now := s.now().UTC()
	ok, err := s.repo.Claim(ctx, n.ID, n.Status, now, now.Add(DeliveryLease))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("notification is already being delivered")
	}
	return nil
}

// deliver claims n and sends it.
func (s *Service) deliver(ctx context.Context, n *Notification, prefs Preferences) error {
	if err := s.claim(ctx, n); err != nil {
		return err
	}
	s.send(ctx, n, prefs)
	return nil
}

// send delivers a claimed notification through its channel's sender and
// persists the outcome.
func (s *Service) send(ctx context.Context, n *Notification, prefs Preferences) {
	sender, ok := s.senders[n.Channel]
	var providerID string
	var err error
	switch {
	case !ok:
		err = apperr.Notification(n.Channel, "no sender configured", nil)
	case prefs.Contacts[n.Channel] == "":
		err = apperr.Notification(n.Channel, "no contact address", nil)
	default:
		providerID, err = sender.Send(ctx, Message{
			To:    prefs.Contacts[n.Channel],
			Title: n.Title,
			Body:  n.Message,
			Data:  map[string]string{"notification_id": n.ID.String(), "type": n.Type},
		})
	}

	now := s.now().UTC()
	if err != nil {
		msg := err.Error()
		n.Status = StatusFailed
		n.Error = &msg
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Str("channel", n.Channel).Msg("notification delivery failed")
	} else {
		n.Status = StatusSent
		n.SentAt = &now
		n.Error = nil
		if providerID != "" {
			if n.Metadata == nil {
				n.Metadata = map[string]interface{}{}
			}
			n.Metadata["provider_id"] = providerID
		}
	}
	s.persist(ctx, n)
	s.metrics.Notification(n.Channel, n.Status)
	s.fireWebhook(ctx, n)
}

// persist stores the delivery outcome with backoff. A sent notification
// whose status cannot be stored is recorded as failed instead, so it leaves
// the pending queue and is not sent again.
func (s *Service) persist(ctx context.Context, n *Notification) {
	ctx = context.WithoutCancel(ctx)
	err := retry.Do(ctx, s.persistRetry, func(int) error { return s.repo.Update(ctx, n) })
	if err == nil {
		return
	}
	log := s.logger.Error().Err(err).Str("notification_id", n.ID.String()).Str("status", n.Status)
	if n.Status != StatusSent {
		log.Msg("persist notification status")
		return
	}
	log.Msg("persist sent notification, recording as failed")
	msg := undeliverableError + ": " + err.Error()
	n.Status = StatusFailed
	n.Error = &msg
	if ferr := s.repo.Update(ctx, n); ferr != nil {
		s.logger.Error().Err(ferr).Str("notification_id", n.ID.String()).
			Dur("lease", DeliveryLease).Msg("notification outcome lost, lease blocks redelivery until it expires")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, n *Notification) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(eventType, websocket.UserTopic(n.UserID), "notification", n.ID.String(), n)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish notification event")
	}
}

func (s *Service) fireWebhook(ctx context.Context, n *Notification) {
	if s.webhooks == nil {
		return
	}
	ev, err := s.webhooks.NewEvent("notification."+n.Status, n.UserID, "notification", n.ID.String(), n)
	if err != nil {
		s.logger.Warn().Err(err).Msg("build notification webhook event")
		return
	}
	s.webhooks.Publish(ctx, ev)
}

// DispatchDue delivers pending notifications whose scheduled time has
// passed and returns how many were sent or failed. Each notification is
// claimed first, so one already being delivered by Notify or another
// dispatcher is skipped.
func (s *Service) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	due, err := s.repo.ListDue(ctx, now, dispatchBatch)
	if err != nil {
		return 0, err
	}
	prefsByUser := map[string]Preferences{}
	dispatched := 0
	for _, n := range due {
		prefs, ok := prefsByUser[n.UserID]
		if !ok {
			if prefs, err = s.preferences(ctx, n.UserID); err != nil {
				s.logger.Warn().Err(err).Str("user_id", n.UserID).Msg("load notification preferences")
				continue
			}
			prefsByUser[n.UserID] = prefs
		}
		if err := s.deliver(ctx, n, prefs); err != nil {
			s.logger.Debug().Err(err).Str("notification_id", n.ID.String()).Msg("skip due notification")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// RunDispatcher calls DispatchDue every interval until ctx is done.
func (s *Service) RunDispatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DispatchDue(ctx, s.now().UTC())
			if err != nil {
				s.logger.Error().Err(err).Msg("notification dispatch failed")
			} else if n > 0 {
				s.logger.Info().Int("count", n).Msg("dispatched due notifications")
			}
		}
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*Notification, int, error) {
	switch status {
	case "", StatusPending, StatusSent, StatusDelivered, StatusFailed:
	default:
		return nil, 0, apperr.ValidationField("status", fmt.Sprintf("invalid status: %s", status))
	}
	return s.repo.ListByUser(ctx, userID, status, limit, offset)
}

func (s *Service) Stats(ctx context.Context, userID string) (map[string]int, error) {
	return s.repo.Stats(ctx, userID)
}

// Retry re-sends a failed notification.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusFailed {
		return nil, apperr.Conflict(fmt.Sprintf("notification is %s, only failed notifications can be retried", n.Status))
	}
	if n.Error != nil && *n.Error == cancelledError {
		return nil, apperr.Conflict("notification was cancelled")
	}
	if n.RetryCount >= MaxRetries {
		return nil, apperr.Conflict(fmt.Sprintf("notification already retried %d times", n.RetryCount))
	}
	prefs, err := s.preferences(ctx, n.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, n); err != nil {
		return nil, err
	}
	n.RetryCount++
	s.send(ctx, n, prefs)
	return n, nil
}

// MarkDelivered records the client's delivery receipt for a sent
// notification. Repeated receipts are ignored.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch n.Status {
	case StatusDelivered:
		return n, nil
	case StatusSent:
	default:
		return nil, apperr.Conflict(fmt.Sprintf("notification is %s, only sent notifications can be delivered", n.Status))
	}
	now := s.now().UTC()
	n.Status = StatusDelivered
	n.DeliveredAt = &now
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	s.metrics.Notification(n.Channel, n.Status)
	s.fireWebhook(ctx, n)
	return n, nil
}

// Cancel stops a pending notification. It is kept as failed with the error
// "cancelled".
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusPending {
		return nil, apperr.Conflict(fmt.Sprintf("notification is %s, only pending notifications can be cancelled", n.Status))
	}
	if err := s.claim(ctx, n); err != nil {
		return nil, err
	}
	msg := cancelledError
	n.Status = StatusFailed
	n.Error = &msg
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// HealthAlert notifies the user when a reading is outside its normal range.
func (s *Service) HealthAlert(ctx context.Context, userID, metric string, value float64) error {
	check := CheckHealthMetric(metric, value)
	if check.Status == MetricNormal {
		return nil
	}
	severity := "medium"
	if check.Status == MetricCritical {
		severity = "critical"
	}
	_, err := s.Notify(ctx, Request{
		UserID:       userID,
		Type:         TypeHealthAlert,
		TemplateID:   "health-alert",
		TemplateData: map[string]string{"metric": strings.ReplaceAll(metric, "_", " "), "detail": check.Message},
		Context:      UrgencyContext{Severity: severity},
		Metadata:     map[string]interface{}{"metric": metric, "value": value, "status": check.Status},
	})
	return err
}

// SymptomAlert notifies the user about a severe symptom.
func (s *Service) SymptomAlert(ctx context.Context, userID, symptom string, severity int) error {
	_, err := s.Notify(ctx, Request{
		UserID:       userID,
		Type:         TypeSymptomAlert,
		TemplateID:   "symptom-alert",
		TemplateData: map[string]string{"symptom": symptom, "severity": strconv.Itoa(severity)},
		Context:      UrgencyContext{SeverityScore: severity},
		Metadata:     map[string]interface{}{"symptom": symptom, "severity": severity},
	})
	return err
}

// MedicationMissed notifies the user about missed doses. Three or more
// recent misses escalate to critical.
func (s *Service) MedicationMissed(ctx context.Context, userID, medicationName string, missedCount int) error {
	_, err := s.Notify(ctx, Request{
		UserID:       userID,
		Type:         TypeMedicationReminder,
		TemplateID:   "medication-missed",
		TemplateData: map[string]string{"medication": medicationName, "missed_count": strconv.Itoa(missedCount)},
		Context:      UrgencyContext{IsMissedDose: true, MissedCount: missedCount},
		Metadata:     map[string]interface{}{"medication": medicationName, "missed_count": missedCount},
	})
	return err
}
