package models

import "strings"

// Intent is the closed classification of what a customer wants.
type Intent string

const (
	IntentGreeting      Intent = "GREETING"
	IntentFAQ           Intent = "FAQ"
	IntentBooking       Intent = "BOOKING"
	IntentLeadCapture   Intent = "LEAD_CAPTURE"
	IntentQuoteRequest  Intent = "QUOTE_REQUEST"
	IntentOrderTracking Intent = "ORDER_TRACKING"
	IntentEscalate      Intent = "ESCALATE"
	IntentOptOut        Intent = "OPT_OUT"
	IntentSmallTalk     Intent = "SMALL_TALK"
	IntentUnknown       Intent = "UNKNOWN"
)

// Intents lists every recognized label in a stable order.
var Intents = []Intent{
	IntentGreeting, IntentFAQ, IntentBooking, IntentLeadCapture, IntentQuoteRequest,
	IntentOrderTracking, IntentEscalate, IntentOptOut, IntentSmallTalk, IntentUnknown,
}

// ParseIntent maps a raw label to a known intent. Unrecognized labels yield IntentUnknown.
func ParseIntent(raw string) (Intent, bool) {
	label := Intent(strings.ToUpper(strings.TrimSpace(raw)))
	for _, i := range Intents {
		if i == label {
			return i, true
		}
	}
	return IntentUnknown, false
}

// Tier is the cost/quality level of the completion used to answer.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Tier1 && t <= Tier3
}

// Entities holds optional values extracted from a message.
type Entities struct {
	Date  string `json:"date,omitempty"`
	Time  string `json:"time,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// RouterResult is the classification of one inbound message.
type RouterResult struct {
	Intent        Intent   `json:"intent"`
	Confidence    float64  `json:"confidence"`
	Tier          Tier     `json:"tier"`
	Entities      Entities `json:"entities"`
	MatchedFAQ    *FAQ     `json:"matched_faq,omitempty"`
	SuggestedFlow FlowType `json:"suggested_flow,omitempty"`
	ContinueFlow  bool     `json:"continue_flow"`
}

// GeneratedResponse is the final reply produced for a non-flow turn.
type GeneratedResponse struct {
	Response         string   `json:"response"`
	ModelUsed        string   `json:"model_used"`
	ShouldEscalate   bool     `json:"should_escalate"`
	SuggestedActions []string `json:"suggested_actions"`
}
