// Package messaging connects the engine to WhatsApp transports.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/util"
)

// Constants for transport services
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Sender delivers one outbound message. It is called at most once per
// outbound message per turn and does not retry.
type Sender interface {
	Send(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error)
}

// Service is a pluggable transport: a Sender plus a stream of inbound events.
type Service interface {
	Sender

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns a channel of inbound message events.
	Events() <-chan models.InboundEvent
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
	return f(ctx, msg)
}

// NopSender accepts every message without delivering it. It backs
// deployments without a transport.
var NopSender = SenderFunc(func(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
	return models.SendResult{ID: util.GenerateLocalMessageID(), Status: "discarded"}, nil
})
