package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/healthmate/healthmate/internal/platform/apiclient"
	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// Message is what a Sender delivers.
type Message struct {
	To    string
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers messages over one channel and returns the provider's
// message id.
type Sender interface {
	Channel() string
	Send(ctx context.Context, msg Message) (string, error)
}

// ProviderConfig is shared by the provider client constructors.
type ProviderConfig struct {
	BaseURL    string
	RateLimit  int
	RateWindow time.Duration
}

// ---------------------------------------------------------------------------
// Email: SendGrid v3
// ---------------------------------------------------------------------------

const sendGridBaseURL = "https://api.sendgrid.com"

// SendGridClientConfig builds the apiclient config for SendGrid.
func SendGridClientConfig(apiKey string, pc ProviderConfig) apiclient.Config {
	if pc.BaseURL == "" {
		pc.BaseURL = sendGridBaseURL
	}
	return apiclient.Config{
		Name:        "sendgrid",
		BaseURL:     pc.BaseURL,
		BearerToken: apiKey,
		RateLimit:   pc.RateLimit,
		RateWindow:  pc.RateWindow,
	}
}

type SendGridSender struct {
	client *apiclient.Client
	from   string
}

func NewSendGridSender(client *apiclient.Client, from string) *SendGridSender {
	return &SendGridSender{client: client, from: from}
}

func (s *SendGridSender) Channel() string { return ChannelEmail }

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	body := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: msg.To}}}},
		From:             sendGridAddress{Email: s.from},
		Subject:          msg.Title,
		Content:          []sendGridContent{{Type: "text/plain", Value: msg.Body}},
		CustomArgs:       msg.Data,
	}
	resp, err := s.client.Post(ctx, "/v3/mail/send", body, nil)
	if err != nil {
		return "", err
	}
	return resp.Header.Get("X-Message-Id"), nil
}

// ---------------------------------------------------------------------------
// SMS: Twilio Messages
// ---------------------------------------------------------------------------

const twilioBaseURL = "https://api.twilio.com"

// TwilioClientConfig builds the apiclient config for Twilio.
func TwilioClientConfig(accountSID, authToken string, pc ProviderConfig) apiclient.Config {
	if pc.BaseURL == "" {
		pc.BaseURL = twilioBaseURL
	}
	return apiclient.Config{
		Name:       "twilio",
		BaseURL:    pc.BaseURL,
		BasicUser:  accountSID,
		BasicPass:  authToken,
		RateLimit:  pc.RateLimit,
		RateWindow: pc.RateWindow,
	}
}

type TwilioSender struct {
	client     *apiclient.Client
	accountSID string
	from       string
}

func NewTwilioSender(client *apiclient.Client, accountSID, from string) *TwilioSender {
	return &TwilioSender{client: client, accountSID: accountSID, from: from}
}

func (s *TwilioSender) Channel() string { return ChannelSMS }

// smsMaxLength is Twilio's limit for a single message body.
const smsMaxLength = 1600

func (s *TwilioSender) Send(ctx context.Context, msg Message) (string, error) {
	text := msg.Title + ": " + msg.Body
	if len(text) > smsMaxLength {
		text = text[:smsMaxLength]
	}
	var out struct {
		SID string `json:"sid"`
	}
	_, err := s.client.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", s.accountSID),
		FormData: map[string]string{"To": msg.To, "From": s.from, "Body": text},
		Result:   &out,
	})
	if err != nil {
		return "", err
	}
	return out.SID, nil
}

// ---------------------------------------------------------------------------
// Push: FCM legacy HTTP
// ---------------------------------------------------------------------------

const fcmBaseURL = "https://fcm.googleapis.com"

// FCMClientConfig builds the apiclient config for FCM.
func FCMClientConfig(serverKey string, pc ProviderConfig) apiclient.Config {
	if pc.BaseURL == "" {
		pc.BaseURL = fcmBaseURL
	}
	return apiclient.Config{
		Name:       "fcm",
		BaseURL:    pc.BaseURL,
		Headers:    map[string]string{"Authorization": "key=" + serverKey},
		RateLimit:  pc.RateLimit,
		RateWindow: pc.RateWindow,
	}
}

type FCMSender struct {
	client *apiclient.Client
}

func NewFCMSender(client *apiclient.Client) *FCMSender {
	return &FCMSender{client: client}
}

func (s *FCMSender) Channel() string { return ChannelPush }

type fcmRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification map[string]string `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (s *FCMSender) Send(ctx context.Context, msg Message) (string, error) {
	var out fcmResponse
	_, err := s.client.Post(ctx, "/fcm/send", fcmRequest{
		To:           msg.To,
		Priority:     "high",
		Notification: map[string]string{"title": msg.Title, "body": msg.Body},
		Data:         msg.Data,
	}, &out)
	if err != nil {
		return "", err
	}
	// FCM reports per-token failures with a 200 response.
	if out.Failure > 0 || out.Success == 0 {
		reason := "unknown error"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		return "", apperr.Notification(ChannelPush, "push rejected: "+reason, nil)
	}
	if len(out.Results) > 0 {
		return out.Results[0].MessageID, nil
	}
	return "", nil
}
