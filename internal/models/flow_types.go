package models

import "time"

// FlowType identifies a registered step graph.
type FlowType string

const (
	FlowTypeBooking       FlowType = "booking"
	FlowTypeLeadCapture   FlowType = "lead_capture"
	FlowTypeQuoteRequest  FlowType = "quote_request"
	FlowTypeOrderTracking FlowType = "order_tracking"
)

// FlowState is the persisted progress of one guided dialogue.
//
// Data accumulates one value per completed step keyed by the step's stable
// key. Attempts counts consecutive invalid answers at the current step and is
// always below the flow's maximum whenever the state is persisted.
type FlowState struct {
	Type      FlowType       `json:"type"`
	Step      string         `json:"step"`
	Data      map[string]any `json:"data"`
	StartedAt time.Time      `json:"started_at"`
	Attempts  int            `json:"attempts"`
}

// Booking is created when a booking flow completes.
type Booking struct {
	ID              string    `json:"id"`
	Reference       string    `json:"reference"`
	TenantID        string    `json:"tenant_id"`
	ConversationID  string    `json:"conversation_id"`
	ServiceID       string    `json:"service_id"`
	ServiceName     string    `json:"service_name"`
	Date            string    `json:"date"` // YYYY-MM-DD in the tenant timezone
	Time            string    `json:"time"` // HH:MM
	DurationMinutes int       `json:"duration_minutes"`
	CustomerName    string    `json:"customer_name"`
	CustomerAddress string    `json:"customer_address"`
	CreatedAt       time.Time `json:"created_at"`
}

// BookedSlot is the time a booking occupies on its day. A zero duration
// means the service duration was not recorded.
type BookedSlot struct {
	Time            string `json:"time"` // HH:MM
	DurationMinutes int    `json:"duration_minutes"`
	ServiceID       string `json:"service_id"`
}

// LeadKind distinguishes plain leads from quote requests.
type LeadKind string

const (
	LeadKindLead  LeadKind = "lead"
	LeadKindQuote LeadKind = "quote"
)

// Lead is created by the lead capture and quote request flows.
type Lead struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Kind           LeadKind  `json:"kind"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Need           string    `json:"need,omitempty"`
	Details        string    `json:"details,omitempty"`
	Budget         string    `json:"budget,omitempty"`
	Deadline       string    `json:"deadline,omitempty"`
	Score          int       `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
}

// Order is a tenant order looked up by the order tracking flow.
type Order struct {
	TenantID  string    `json:"tenant_id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
