// Package models defines the core data structures shared by the conversation engine.
package models

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle status of a customer-tenant thread.
type ConversationStatus string

const (
	// ConversationStatusActive is handled by automation.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusEscalated has been handed to a human operator.
	ConversationStatusEscalated ConversationStatus = "escalated"
	// ConversationStatusResolved is closed (for example after an opt-out).
	ConversationStatusResolved ConversationStatus = "resolved"
)

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusReceived marks an inbound message that was persisted.
	MessageStatusReceived MessageStatus = "received"
	// MessageStatusSent indicates the outbound message was accepted by the channel.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the outbound message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Conversation is the identity of one customer-tenant thread.
// Conversations are never deleted by the engine; they are closed by status change.
type Conversation struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	CustomerAddress string             `json:"customer_address"`
	CustomerName    string             `json:"customer_name,omitempty"`
	Status          ConversationStatus `json:"status"`
	ActiveFlow      FlowType           `json:"active_flow,omitempty"`
	LeadStatus      string             `json:"lead_status,omitempty"`
	LeadScore       *int               `json:"lead_score,omitempty"`
	LastMessageAt   time.Time          `json:"last_message_at"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Message is an append-only transcript entry. Only delivery fields of an
// outbound message change after creation.
type Message struct {
	ID               string        `json:"id"`
	ConversationID   string        `json:"conversation_id"`
	Direction        Direction     `json:"direction"`
	Content          string        `json:"content"`
	Status           MessageStatus `json:"status"`
	ChannelMessageID string        `json:"channel_message_id,omitempty"`
	Intent           Intent        `json:"intent,omitempty"`
	Confidence       *float64      `json:"confidence,omitempty"`
	ModelUsed        string        `json:"model_used,omitempty"`
	SendAttempts     int           `json:"send_attempts"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Validate checks the fields required to persist a message.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	switch m.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return fmt.Errorf("invalid message direction %q", m.Direction)
	}
	switch m.Status {
	case MessageStatusReceived, MessageStatusSent, MessageStatusFailed:
	default:
		return fmt.Errorf("invalid message status %q", m.Status)
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
