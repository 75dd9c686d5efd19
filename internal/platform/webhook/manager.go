package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/metrics"
	"github.com/healthmate/healthmate/internal/platform/retry"
)

// Header names sent with every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEvent     = "X-Webhook-Event"

	signaturePrefix = "sha256="
	maxResponseBody = 1024
	testEventType   = "webhook.test"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value against payload. The
// "sha256=" prefix is optional.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// MatchEvent reports whether a subscription pattern covers eventType.
// Patterns are exact ("notification.sent"), "*.action", "resource.*" or "*".
func MatchEvent(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(eventType, pattern[1:])
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the resty client used for deliveries.
func WithHTTPClient(c *resty.Client) Option {
	return func(m *Manager) { m.http = c }
}

// WithMaxRetries sets how many times a failed delivery is retried.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithBackoff sets the linear backoff base: retry n waits n*base.
func WithBackoff(base time.Duration) Option {
	return func(m *Manager) { m.backoff = base }
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager registers endpoints and delivers events to them.
type Manager struct {
	store      Store
	http       *resty.Client
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		http:       resty.New().SetTimeout(10 * time.Second),
		maxRetries: 3,
		backoff:    time.Second,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Store exposes the underlying store to handlers.
func (m *Manager) Store() Store { return m.store }

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateURL requires an absolute http or https URL with a host.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return apperr.ValidationField("url", "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperr.ValidationField("url", "invalid url: "+err.Error())
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return apperr.ValidationField("url", fmt.Sprintf("url scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		return apperr.ValidationField("url", "url host is required")
	}
	return nil
}

// RegisterRequest describes a new endpoint.
type RegisterRequest struct {
	OwnerID     string
	URL         string
	Secret      string
	Events      []string
	Description string
}

// RegisterEndpoint validates and persists an endpoint, generating a secret
// when none is supplied.
func (m *Manager) RegisterEndpoint(ctx context.Context, req RegisterRequest) (*Endpoint, error) {
	if req.OwnerID == "" {
		return nil, apperr.ValidationField("owner_id", "owner_id is required")
	}
	if err := ValidateURL(req.URL); err != nil {
		return nil, err
	}
	if len(req.Events) == 0 {
		return nil, apperr.ValidationField("events", "at least one event pattern is required")
	}
	secret := req.Secret
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("generate secret: %w", err))
		}
		secret = s
	}

	now := m.now().UTC()
	ep := &Endpoint{
		ID:          uuid.New().String(),
		OwnerID:     req.OwnerID,
		URL:         req.URL,
		Secret:      secret,
		Events:      req.Events,
		Active:      true,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// SetActive pauses or resumes an endpoint.
func (m *Manager) SetActive(ctx context.Context, id string, active bool) (*Endpoint, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ep.Active = active
	ep.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// NewEvent builds an event with a fresh id and timestamp. data is
// JSON-encoded.
func (m *Manager) NewEvent(eventType, userID, resourceType, resourceID string, data interface{}) (Event, error) {
	ev := Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    m.now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ev, apperr.Webhook("encode event data", err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Deliver sends ev to every active endpoint that receives it, retrying each
// with linear backoff. It blocks until all deliveries finish.
func (m *Manager) Deliver(ctx context.Context, ev Event) []Result {
	endpoints, err := m.store.ListActive(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("event", ev.Type).Msg("webhook endpoint lookup failed")
		return nil
	}

	var results []Result
	for _, ep := range endpoints {
		if !ep.Receives(ev) {
			continue
		}
		results = append(results, m.DeliverWithRetry(ctx, ep, ev))
	}
	return results
}

// Publish delivers ev in the background. The request context's cancellation
// does not abort delivery; Wait blocks until background deliveries end.
func (m *Manager) Publish(ctx context.Context, ev Event) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Deliver(context.WithoutCancel(ctx), ev)
	}()
}

// Wait blocks until every Publish call has finished delivering.
func (m *Manager) Wait() { m.wg.Wait() }

// DeliverWithRetry attempts delivery up to 1+maxRetries times. Transport
// errors, 429 and 5xx responses are retried; other 4xx responses are final.
func (m *Manager) DeliverWithRetry(ctx context.Context, ep *Endpoint, ev Event) Result {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Result{EndpointID: ep.ID, Error: err.Error()}
	}

	cfg := retry.LinearConfig(m.maxRetries+1, m.backoff)
	cfg.Sleep = m.sleep

	var last *Delivery
	err = retry.DoIf(ctx, cfg, apperr.IsRetryable, func(attempt int) error {
		last = m.attempt(ctx, ep, ev.Type, payload, attempt)
		if last.Success {
			return nil
		}
		return apperr.Webhook(last.Error, nil).WithDetail("status_code", last.StatusCode)
	})

	res := Result{EndpointID: ep.ID, Success: err == nil}
	if last != nil {
		res.StatusCode = last.StatusCode
		res.Attempts = last.Attempt
	}
	if err != nil {
		res.Error = err.Error()
		m.logger.Warn().Err(err).
			Str("endpoint_id", ep.ID).
			Str("event", ev.Type).
			Int("attempts", res.Attempts).
			Msg("webhook delivery failed")
	}
	return res
}

// attempt performs and records a single signed POST.
func (m *Manager) attempt(ctx context.Context, ep *Endpoint, eventType string, payload []byte, n int) *Delivery {
	now := m.now().UTC()
	d := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  eventType,
		Payload:    payload,
		Attempt:    n,
		CreatedAt:  now,
	}

	start := time.Now()
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderSignature, signaturePrefix+Sign(payload, ep.Secret)).
		SetHeader(HeaderID, ep.ID).
		SetHeader(HeaderTimestamp, now.Format(time.RFC3339)).
		SetHeader(HeaderEvent, eventType).
		SetBody(payload).
		Post(ep.URL)
	d.DurationMS = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		d.Error = err.Error()
	case resp.IsSuccess():
		d.StatusCode = resp.StatusCode()
		d.Success = true
	default:
		d.StatusCode = resp.StatusCode()
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode())
	}
	if resp != nil {
		body := resp.Body()
		if len(body) > maxResponseBody {
			body = body[:maxResponseBody]
		}
		d.ResponseBody = string(body)
	}

	if err := m.store.RecordDelivery(ctx, d); err != nil {
		m.logger.Error().Err(err).Str("endpoint_id", ep.ID).Msg("record webhook delivery")
	}
	m.metrics.WebhookDelivery(d.Success)
	return d
}

// RetryDelivery re-sends the payload of a recorded attempt once.
func (m *Manager) RetryDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	original, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := m.store.GetEndpoint(ctx, original.EndpointID)
	if err != nil {
		return nil, err
	}
	return m.attempt(ctx, ep, original.EventType, original.Payload, original.Attempt+1), nil
}

// TestEndpoint sends a synthetic webhook.test event once.
func (m *Manager) TestEndpoint(ctx context.Context, endpointID string) (*Delivery, error) {
	ep, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	ev, err := m.NewEvent(testEventType, ep.OwnerID, "webhook", ep.ID, map[string]bool{"test": true})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, apperr.Webhook("encode test event", err)
	}
	return m.attempt(ctx, ep, ev.Type, payload, 1), nil
}
