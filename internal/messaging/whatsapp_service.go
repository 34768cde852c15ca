package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	ownNumber string
	events    chan models.InboundEvent
	mu        sync.RWMutex
	stopped   bool
}

// WhatsAppOption configures a WhatsAppService.
type WhatsAppOption func(*WhatsAppService)

// WithOwnNumber sets the number reported as the recipient of inbound
// events. It defaults to the logged-in number of a real client.
func WithOwnNumber(number string) WhatsAppOption {
	return func(s *WhatsAppService) { s.ownNumber = number }
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender, opts ...WhatsAppOption) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		s.ownNumber = waClient.OwnNumber()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the whatsmeow event handler when a real client is present.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService.Start: event handler registered", "ownNumber", s.ownNumber)
	return nil
}

// Stop closes the event channel. Events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// Events returns a channel of inbound message events.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// Send delivers msg. The From field is ignored: whatsmeow sends as the
// logged-in number.
func (s *WhatsAppService) Send(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return models.SendResult{}, ErrServiceStopped
	}
	id, err := s.client.SendMessage(ctx, msg.To, msg.Body)
	if err != nil {
		slog.Error("WhatsAppService.Send error", "error", err, "to", msg.To)
		return models.SendResult{}, err
	}
	return models.SendResult{ID: id, Status: "sent"}, nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if ev, ok := s.toInboundEvent(v); ok {
			s.emit(ev)
		}
	case *events.Disconnected:
		slog.Warn("WhatsAppService: disconnected from WhatsApp")
	default:
		// Receipts, presence and the rest are not used.
	}
}

// toInboundEvent extracts a text message sent to us by a single customer.
func (s *WhatsAppService) toInboundEvent(evt *events.Message) (models.InboundEvent, bool) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return models.InboundEvent{}, false
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return models.InboundEvent{}, false
	}

	from := evt.Info.Sender.User
	if !strings.HasPrefix(from, "+") {
		from = "+" + from
	}
	ts := evt.Info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.InboundEvent{
		MessageID:         string(evt.Info.ID),
		From:              from,
		To:                s.ownNumber,
		Body:              text,
		SenderDisplayName: evt.Info.PushName,
		Timestamp:         ts,
	}, true
}

func (s *WhatsAppService) emit(ev models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "messageID", ev.MessageID)
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("WhatsAppService incoming message forwarded", "messageID", ev.MessageID, "from", ev.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping message", "messageID", ev.MessageID, "timeout", DefaultChannelTimeout)
	}
}
