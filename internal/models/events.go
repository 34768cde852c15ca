package models

import (
	"errors"
	"time"
)

// InboundEvent is the transport-independent shape of one received message.
type InboundEvent struct {
	MessageID         string    `json:"message_id"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	Body              string    `json:"body"`
	SenderDisplayName string    `json:"sender_display_name,omitempty"`
	Timestamp         time.Time `json:"timestamp,omitempty"`
}

// Validate checks the fields the gateway cannot work without.
func (e InboundEvent) Validate() error {
	switch {
	case e.MessageID == "":
		return errors.New("message id is required")
	case e.From == "":
		return errors.New("sender address is required")
	case e.To == "":
		return errors.New("recipient address is required")
	}
	return nil
}

// ProcessResult is what the gateway reports to its caller. Any Success result
// means the event must not be redelivered, including duplicates and
// rate-limited events.
type ProcessResult struct {
	Success     bool `json:"success"`
	Duplicate   bool `json:"duplicate,omitempty"`
	RateLimited bool `json:"rate_limited,omitempty"`
}

// OutboundMessage is one reply handed to the channel sender.
type OutboundMessage struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// SendResult is the channel's acknowledgement of an outbound message.
type SendResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
