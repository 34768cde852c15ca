// Package twiliowhatsapp wraps the Twilio API for WhatsApp delivery.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ChannelPrefix marks WhatsApp addresses on the Twilio API.
const ChannelPrefix = "whatsapp:"

// Sender sends WhatsApp messages through Twilio and reports the message SID.
type Sender interface {
	SendMessage(ctx context.Context, from, to, body string) (sid string, err error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used to validate webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the default sender number, used when a message has no From.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps Twilio REST API for WhatsApp.
type Client struct {
	client     *twilio.RestClient
	validator  twilioclient.RequestValidator
	fromNumber string
}

// NewClient creates a Twilio client. Missing options fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		validator:  twilioclient.NewRequestValidator(cfg.AuthToken),
		fromNumber: cfg.FromNumber,
	}, nil
}

// Address adds the WhatsApp channel prefix to a number.
func Address(number string) string {
	if number == "" || strings.HasPrefix(number, ChannelPrefix) {
		return number
	}
	return ChannelPrefix + number
}

// SendMessage sends a WhatsApp message using the Twilio API. The request is
// not retried.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	if from == "" {
		from = c.fromNumber
	}
	if from == "" {
		return "", fmt.Errorf("no sender number for message to %s", to)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(Address(from))
	params.SetBody(body)

	msg, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// ValidateSignature checks the X-Twilio-Signature of a webhook call made to
// fullURL with the given form parameters.
func (c *Client) ValidateSignature(fullURL string, params map[string]string, signature string) bool {
	return c.validator.Validate(fullURL, params, signature)
}

// MockClient records messages instead of calling Twilio (for tests).
type MockClient struct {
	// Err, when set, fails every send.
	Err error

	mu           sync.Mutex
	SentMessages []SentMessage
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	From string
	To   string
	Body string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendMessage records the message and returns a fake SID.
func (m *MockClient) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{From: from, To: to, Body: body})
	return fmt.Sprintf("SM%032d", len(m.SentMessages)), nil
}
