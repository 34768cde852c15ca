package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/twiliowhatsapp"
)

// ErrInvalidSignature is returned for webhook calls whose X-Twilio-Signature
// does not match.
var ErrInvalidSignature = errors.New("invalid twilio signature")

// SignatureValidator checks Twilio webhook signatures.
type SignatureValidator interface {
	ValidateSignature(fullURL string, params map[string]string, signature string) bool
}

// TwilioService implements Service on the Twilio REST API. Inbound messages
// arrive through the HTTP webhook, which is processed synchronously, so
// Events never yields.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator SignatureValidator
	events    chan models.InboundEvent
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation enables X-Twilio-Signature checks on webhooks.
func WithSignatureValidation(v SignatureValidator) TwilioOption {
	return func(s *TwilioService) { s.validator = v }
}

// NewTwilioService creates a TwilioService on a Twilio client (real or mock).
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client: client,
		events: make(chan models.InboundEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op for Twilio (no live connection)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel and rejects further sends.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	return nil
}

// Events returns the (idle) event channel.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

// Send delivers msg through Twilio.
func (s *TwilioService) Send(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return models.SendResult{}, ErrServiceStopped
	}
	sid, err := s.client.SendMessage(ctx, msg.From, msg.To, msg.Body)
	if err != nil {
		return models.SendResult{}, err
	}
	return models.SendResult{ID: sid, Status: "queued"}, nil
}

// ParseWebhook turns a Twilio inbound message webhook into an InboundEvent.
// publicURL is the URL Twilio called, needed for signature validation.
func (s *TwilioService) ParseWebhook(r *http.Request, publicURL string) (models.InboundEvent, error) {
	if err := r.ParseForm(); err != nil {
		return models.InboundEvent{}, fmt.Errorf("parse webhook form: %w", err)
	}
	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.ValidateSignature(publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService.ParseWebhook: signature mismatch", "url", publicURL)
			return models.InboundEvent{}, ErrInvalidSignature
		}
	}

	ev := models.InboundEvent{
		MessageID:         r.PostForm.Get("MessageSid"),
		From:              strings.TrimPrefix(r.PostForm.Get("From"), twiliowhatsapp.ChannelPrefix),
		To:                strings.TrimPrefix(r.PostForm.Get("To"), twiliowhatsapp.ChannelPrefix),
		Body:              r.PostForm.Get("Body"),
		SenderDisplayName: r.PostForm.Get("ProfileName"),
	}
	if ev.MessageID == "" {
		ev.MessageID = r.PostForm.Get("SmsMessageSid")
	}
	if err := ev.Validate(); err != nil {
		return models.InboundEvent{}, fmt.Errorf("twilio webhook: %w", err)
	}
	slog.Debug("TwilioService.ParseWebhook: inbound message", "messageID", ev.MessageID, "from", ev.From, "to", ev.To)
	return ev, nil
}
