// Package router classifies inbound messages into intents.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/genai"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
)

// DefaultHistoryLimit is how many transcript messages are shown to the model.
const DefaultHistoryLimit = 6

// Context is everything the router knows about one inbound message.
type Context struct {
	Message      string
	Sender       string
	CustomerName string
	BusinessName string
	BusinessType string
	FAQs         []models.FAQ
	ActiveFlow   models.FlowType
	FlowData     map[string]any
	History      []models.Message
}

// classification is the structured output requested from the model.
type classification struct {
	Intent        string                 `json:"intent" jsonschema:"enum=GREETING,enum=FAQ,enum=BOOKING,enum=LEAD_CAPTURE,enum=QUOTE_REQUEST,enum=ORDER_TRACKING,enum=ESCALATE,enum=OPT_OUT,enum=SMALL_TALK,enum=UNKNOWN"`
	Confidence    float64                `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Tier          int                    `json:"tier" jsonschema:"enum=1,enum=2,enum=3"`
	FAQIndex      int                    `json:"faq_index" jsonschema_description:"index of the matching FAQ or -1"`
	SuggestedFlow string                 `json:"suggested_flow" jsonschema:"enum=,enum=booking,enum=lead_capture,enum=quote_request,enum=order_tracking"`
	ContinueFlow  bool                   `json:"continue_flow"`
	Entities      classificationEntities `json:"entities"`
}

type classificationEntities struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// rawClassification tolerates missing fields when parsing model output.
type rawClassification struct {
	Intent        string          `json:"intent"`
	Confidence    *float64        `json:"confidence"`
	Tier          *int            `json:"tier"`
	FAQIndex      *int            `json:"faq_index"`
	SuggestedFlow string          `json:"suggested_flow"`
	ContinueFlow  bool            `json:"continue_flow"`
	Entities      models.Entities `json:"entities"`
}

var classificationSchema = genai.GenerateSchema[classification]()

// Router classifies messages with a completion provider.
type Router struct {
	provider     genai.Provider
	historyLimit int
}

// New creates a router on provider.
func New(provider genai.Provider) *Router {
	return &Router{provider: provider, historyLimit: DefaultHistoryLimit}
}

// Route classifies rc.Message. It never fails: provider errors and unusable
// output degrade to UNKNOWN with confidence 0.
func (r *Router) Route(ctx context.Context, rc Context) models.RouterResult {
	if res, ok := quickRoute(rc); ok {
		slog.Debug("Router.Route: deterministic match", "intent", res.Intent)
		return res
	}
	if r.provider == nil {
		return Unknown()
	}

	completion, err := r.provider.Complete(ctx, genai.Request{
		Tier: models.Tier1,
		Messages: []genai.Message{
			{Role: genai.RoleSystem, Content: systemPrompt(rc)},
			{Role: genai.RoleUser, Content: userPrompt(rc, r.historyLimit)},
		},
		MaxTokens:   300,
		Temperature: genai.Temp(0),
		SchemaName:  "intent_classification",
		Schema:      classificationSchema,
	})
	if err != nil {
		slog.Warn("Router.Route: provider failed, degrading to UNKNOWN", "sender", rc.Sender, "error", err)
		return Unknown()
	}

	res, err := Parse(completion.Text, rc.FAQs)
	if err != nil {
		slog.Warn("Router.Route: unparseable classification", "sender", rc.Sender, "error", err)
		return Unknown()
	}
	slog.Debug("Router.Route: classified", "sender", rc.Sender, "intent", res.Intent, "confidence", res.Confidence, "tier", res.Tier)
	return res
}

// Unknown is the degraded classification.
func Unknown() models.RouterResult {
	return models.RouterResult{Intent: models.IntentUnknown, Confidence: 0, Tier: models.Tier2}
}

// Parse converts raw model output into a RouterResult. Non-JSON output is an
// error. Unknown intent labels map to UNKNOWN with confidence 0, confidence is
// clamped to [0,1] and an out-of-range tier becomes tier 2.
func Parse(text string, faqs []models.FAQ) (models.RouterResult, error) {
	body := stripCodeFence(text)
	if !strings.HasPrefix(body, "{") {
		return Unknown(), fmt.Errorf("classification is not a JSON object")
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Unknown(), fmt.Errorf("decode classification: %w", err)
	}

	intent, known := models.ParseIntent(raw.Intent)
	res := models.RouterResult{Intent: intent, Tier: models.Tier2, Entities: raw.Entities, ContinueFlow: raw.ContinueFlow}
	if raw.Confidence != nil {
		res.Confidence = clamp(*raw.Confidence)
	}
	if !known {
		res.Confidence = 0
	}
	if raw.Tier != nil && models.Tier(*raw.Tier).Valid() {
		res.Tier = models.Tier(*raw.Tier)
	}
	if raw.FAQIndex != nil && *raw.FAQIndex >= 0 && *raw.FAQIndex < len(faqs) {
		faq := faqs[*raw.FAQIndex]
		res.MatchedFAQ = &faq
	}
	res.SuggestedFlow = suggestedFlow(models.FlowType(strings.ToLower(strings.TrimSpace(raw.SuggestedFlow))), res)
	return res, nil
}

var intentFlows = map[models.Intent]models.FlowType{
	models.IntentBooking:       models.FlowTypeBooking,
	models.IntentLeadCapture:   models.FlowTypeLeadCapture,
	models.IntentQuoteRequest:  models.FlowTypeQuoteRequest,
	models.IntentOrderTracking: models.FlowTypeOrderTracking,
}

// suggestedFlow keeps a valid model suggestion, otherwise derives one from a
// confident flow intent.
func suggestedFlow(fromModel models.FlowType, res models.RouterResult) models.FlowType {
	for _, ft := range intentFlows {
		if ft == fromModel {
			return fromModel
		}
	}
	if res.Confidence >= 0.5 {
		return intentFlows[res.Intent]
	}
	return ""
}

func clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var (
	greetings = []string{"bonjour", "bonsoir", "salut", "coucou", "hello", "hi", "hey", "bonjour a vous", "bonjour madame", "bonjour monsieur"}
	optOuts   = []string{"stop", "desabonner", "desinscrire", "unsubscribe", "ne plus recevoir", "stop messages"}
)

// quickRoute recognizes bare greetings and opt-out requests without a model call.
func quickRoute(rc Context) (models.RouterResult, bool) {
	if rc.ActiveFlow != "" {
		return models.RouterResult{}, false
	}
	msg := textnorm.Normalize(rc.Message)
	for _, g := range greetings {
		if msg == g {
			return models.RouterResult{Intent: models.IntentGreeting, Confidence: 0.95, Tier: models.Tier1}, true
		}
	}
	for _, o := range optOuts {
		if msg == o || strings.HasPrefix(msg, o+" ") {
			return models.RouterResult{Intent: models.IntentOptOut, Confidence: 0.95, Tier: models.Tier1}, true
		}
	}
	return models.RouterResult{}, false
}
