// Package gateway is the entry point of the conversational engine: it turns one
// inbound channel event into at most one persisted and sent reply.
//
// Concurrent events of the same conversation are not serialized. Two of them
// racing (for example a channel redelivering in parallel under a new id) may
// interleave their flow state and conversation writes; the last write wins.
// Deduplication by message id is the defense against redeliveries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/faq"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/flow"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/idempotency"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/messaging"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/responder"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/router"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/tenant"
)

const (
	// DefaultSendTimeout bounds one channel send.
	DefaultSendTimeout = 10 * time.Second
	// DefaultHistoryLimit is the number of past messages given to the router and responder.
	DefaultHistoryLimit = 10
	// DefaultDecideTimeout bounds routing, FAQ matching and reply generation
	// once the inbound message is stored.
	DefaultDecideTimeout = 30 * time.Second
)

// Store is the conversation persistence the gateway writes to.
type Store interface {
	GetConversation(ctx context.Context, tenantID, customerAddress string) (*models.Conversation, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	AppendMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, channelMessageID string, attempts int) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// TenantResolver maps the recipient address to a tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, address string) (*models.TenantProfile, error)
}

// RateLimiter counts messages per sender.
type RateLimiter interface {
	Allow(ctx context.Context, sender string) (bool, error)
}

// Classifier is the intent router.
type Classifier interface {
	Route(ctx context.Context, rc router.Context) models.RouterResult
}

// FAQMatcher picks the FAQ answering a question.
type FAQMatcher interface {
	Match(ctx context.Context, query string, faqs []models.FAQ, threshold float64) *faq.Match
}

// ResponseGenerator writes free-form replies.
type ResponseGenerator interface {
	Generate(ctx context.Context, rc responder.Context) models.GeneratedResponse
}

// Deps are the collaborators of a Gateway. Store, Tenants, Flows and Sender
// are required; the rest default to in-process implementations.
type Deps struct {
	Store     Store
	Tenants   TenantResolver
	Flows     *flow.Engine
	Sender    messaging.Sender
	Deduper   idempotency.Deduper
	Limiter   RateLimiter
	Router    Classifier
	FAQ       FAQMatcher
	Responder ResponseGenerator
}

// Gateway orchestrates one conversational turn per inbound event.
type Gateway struct {
	store     Store
	tenants   TenantResolver
	flows     *flow.Engine
	sender    messaging.Sender
	dedup     idempotency.Deduper
	limiter   RateLimiter
	router    Classifier
	faqs      FAQMatcher
	responder ResponseGenerator

	sendTimeout   time.Duration
	decideTimeout time.Duration
	historyLimit  int
	faqThreshold float64
	now          func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSendTimeout bounds each channel send.
func WithSendTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.sendTimeout = d }
}

// WithDecideTimeout bounds the decision stage of a turn.
func WithDecideTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.decideTimeout = d }
}

// WithHistoryLimit sets how many past messages are loaded per turn.
func WithHistoryLimit(n int) Option {
	return func(g *Gateway) { g.historyLimit = n }
}

// WithFAQThreshold sets the minimum FAQ similarity.
func WithFAQThreshold(t float64) Option {
	return func(g *Gateway) { g.faqThreshold = t }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway.
func New(deps Deps, opts ...Option) (*Gateway, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("gateway: store is required")
	case deps.Tenants == nil:
		return nil, errors.New("gateway: tenant resolver is required")
	case deps.Flows == nil:
		return nil, errors.New("gateway: flow engine is required")
	case deps.Sender == nil:
		return nil, errors.New("gateway: sender is required")
	}
	g := &Gateway{
		store:         deps.Store,
		tenants:       deps.Tenants,
		flows:         deps.Flows,
		sender:        deps.Sender,
		dedup:         deps.Deduper,
		limiter:       deps.Limiter,
		router:        deps.Router,
		faqs:          deps.FAQ,
		responder:     deps.Responder,
		sendTimeout:   DefaultSendTimeout,
		decideTimeout: DefaultDecideTimeout,
		historyLimit:  DefaultHistoryLimit,
		faqThreshold:  faq.DefaultThreshold,
		now:           time.Now,
	}
	if g.dedup == nil {
		g.dedup = idempotency.NewMemoryDeduper(idempotency.DefaultMaxEntries, idempotency.DefaultTTL)
	}
	if g.router == nil {
		g.router = router.New(nil)
	}
	if g.faqs == nil {
		g.faqs = faq.NewMatcher(nil)
	}
	if g.responder == nil {
		g.responder = responder.New(nil)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Start consumes the inbound events of a transport until ctx is done or the
// transport closes its channel.
func (g *Gateway) Start(ctx context.Context, svc messaging.Service) {
	slog.Info("Gateway starting inbound processing")

	go func() {
		defer slog.Info("Gateway stopped inbound processing")

		for {
			select {
			case ev, ok := <-svc.Events():
				if !ok {
					slog.Debug("Gateway events channel closed")
					return
				}
				if res := g.Process(ctx, ev); !res.Success {
					slog.Error("Gateway failed to process inbound event", "messageID", ev.MessageID, "from", ev.From)
				}
			case <-ctx.Done():
				slog.Debug("Gateway stopping due to context cancellation")
				return
			}
		}
	}()
}

// Process runs one turn. It never panics and never returns an error: any
// failure is reported as Success=false so that the channel redelivers.
func (g *Gateway) Process(ctx context.Context, ev models.InboundEvent) (result models.ProcessResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Gateway.Process: panic", "messageID", ev.MessageID, "panic", r, "stack", string(debug.Stack()))
			result = models.ProcessResult{}
		}
	}()

	if err := ev.Validate(); err != nil {
		slog.Warn("Gateway.Process: invalid event", "messageID", ev.MessageID, "error", err)
		return models.ProcessResult{}
	}
	sender := tenant.NormalizeAddress(ev.From)
	if sender == "" {
		slog.Warn("Gateway.Process: unusable sender address", "messageID", ev.MessageID, "from", ev.From)
		return models.ProcessResult{}
	}

	claimed, err := g.dedup.Claim(ctx, ev.MessageID, sender)
	if err != nil {
		slog.Error("Gateway.Process: dedup claim failed", "messageID", ev.MessageID, "error", err)
		return models.ProcessResult{}
	}
	if !claimed {
		slog.Info("Gateway.Process: duplicate event ignored", "messageID", ev.MessageID, "from", sender)
		return models.ProcessResult{Success: true, Duplicate: true}
	}

	t := &turn{event: ev, sender: sender}
	defer func() {
		// Until the inbound message is stored nothing happened: a redelivery
		// must be processed again. This also runs while panicking.
		if !result.Success && !t.committed {
			if err := g.dedup.Release(context.WithoutCancel(ctx), ev.MessageID); err != nil {
				slog.Error("Gateway.Process: dedup release failed", "messageID", ev.MessageID, "error", err)
			}
		}
	}()

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, sender)
		switch {
		case err != nil:
			slog.Warn("Gateway.Process: rate limiter unavailable, allowing", "from", sender, "error", err)
		case !allowed:
			slog.Warn("Gateway.Process: sender rate limited", "messageID", ev.MessageID, "from", sender)
			t.committed = true
			return models.ProcessResult{Success: true, RateLimited: true}
		}
	}

	if err := g.run(ctx, t); err != nil {
		slog.Error("Gateway.Process: turn failed", "messageID", ev.MessageID, "from", sender, "committed", t.committed, "error", err)
		return models.ProcessResult{}
	}
	return models.ProcessResult{Success: true}
}

// turn carries the state of one Process call.
type turn struct {
	event     models.InboundEvent
	sender    string
	tenant    *models.TenantProfile
	conv      *models.Conversation
	history   []models.Message
	committed bool
}

// reply is the outcome of the decision stage.
type reply struct {
	text       string
	intent     models.Intent
	confidence *float64
	modelUsed  string
	escalate   bool
	optOut     bool
	activeFlow models.FlowType
}

func (g *Gateway) run(ctx context.Context, t *turn) error {
	tp, err := g.tenants.Resolve(ctx, t.event.To)
	if err != nil {
		return err
	}
	if tp == nil {
		slog.Warn("Gateway.Process: tenant not resolved", "messageID", t.event.MessageID, "to", t.event.To)
		return fmt.Errorf("no tenant for address %q", t.event.To)
	}
	t.tenant = tp

	if err := g.openConversation(ctx, t); err != nil {
		return err
	}

	history, err := g.store.ListMessages(ctx, t.conv.ID, g.historyLimit)
	if err != nil {
		slog.Warn("Gateway.Process: history unavailable", "conversationID", t.conv.ID, "error", err)
	}
	t.history = history

	inbound := &models.Message{
		ConversationID:   t.conv.ID,
		Direction:        models.DirectionInbound,
		Content:          t.event.Body,
		Status:           models.MessageStatusReceived,
		ChannelMessageID: t.event.MessageID,
		CreatedAt:        g.now(),
	}
	if err := g.store.AppendMessage(ctx, inbound); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}
	t.committed = true

	// From here on the customer must get a reply even if the caller goes
	// away: the rest of the turn only obeys the gateway's own timeouts.
	ctx = context.WithoutCancel(ctx)
	decideCtx, cancel := context.WithTimeout(ctx, g.decideTimeout)
	r := g.decide(decideCtx, t)
	cancel()

	switch {
	case r.escalate:
		t.conv.Status = models.ConversationStatusEscalated
	case r.optOut:
		t.conv.Status = models.ConversationStatusResolved
	}
	t.conv.ActiveFlow = r.activeFlow

	outbound := &models.Message{
		ConversationID: t.conv.ID,
		Direction:      models.DirectionOutbound,
		Content:        r.text,
		Status:         models.MessageStatusFailed,
		Intent:         r.intent,
		Confidence:     r.confidence,
		ModelUsed:      r.modelUsed,
		CreatedAt:      g.now(),
	}
	if err := g.store.AppendMessage(ctx, outbound); err != nil {
		return fmt.Errorf("persist outbound message: %w", err)
	}
	t.conv.LastMessageAt = outbound.CreatedAt
	if err := g.store.SaveConversation(ctx, t.conv); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	g.send(ctx, t, outbound)
	slog.Info("Gateway.Process: turn completed", "conversationID", t.conv.ID, "tenantID", tp.ID, "intent", r.intent, "flow", r.activeFlow, "status", t.conv.Status)
	return nil
}

// openConversation loads or creates the conversation and applies the
// inbound-side updates: re-opening a resolved thread and the display name.
func (g *Gateway) openConversation(ctx context.Context, t *turn) error {
	conv, err := g.store.GetConversation(ctx, t.tenant.ID, t.sender)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		conv = &models.Conversation{
			TenantID:        t.tenant.ID,
			CustomerAddress: t.sender,
			Status:          models.ConversationStatusActive,
		}
	}
	if conv.Status == models.ConversationStatusResolved {
		slog.Info("Gateway.Process: re-opening resolved conversation", "conversationID", conv.ID)
		conv.Status = models.ConversationStatusActive
	}
	if conv.CustomerName == "" && t.event.SenderDisplayName != "" {
		conv.CustomerName = t.event.SenderDisplayName
	}
	if err := g.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	t.conv = conv
	return nil
}

// decide produces the reply text: an active or newly suggested flow takes
// the turn, anything else goes through the router, FAQ matcher and responder.
// When the active flow cannot run its turn the message is routed with the
// flow in context and no new flow is started.
func (g *Gateway) decide(ctx context.Context, t *turn) reply {
	fc := &flow.Context{Tenant: t.tenant, Conversation: t.conv}
	rc := router.Context{
		Message:      t.event.Body,
		Sender:       t.sender,
		CustomerName: t.conv.CustomerName,
		BusinessName: t.tenant.Name,
		BusinessType: t.tenant.BusinessType,
		FAQs:         t.tenant.FAQs,
		History:      t.history,
	}

	state, err := g.flows.Active(ctx, t.conv.ID)
	if err != nil {
		slog.Warn("Gateway.Process: flow state unavailable, routing without it", "conversationID", t.conv.ID, "error", err)
	}
	if state != nil {
		res, err := g.flows.Handle(ctx, state, t.event.Body, fc)
		if err == nil {
			return flowReply(res, "")
		}
		slog.Error("Gateway.Process: flow turn failed, routing instead", "conversationID", t.conv.ID, "type", state.Type, "step", state.Step, "error", err)
		rc.ActiveFlow = state.Type
		rc.FlowData = state.Data
	}

	route := g.router.Route(ctx, rc)

	if rc.ActiveFlow == "" && route.SuggestedFlow != "" && g.flows.Has(route.SuggestedFlow) {
		res, err := g.flows.Start(ctx, route.SuggestedFlow, fc)
		if err == nil {
			r := flowReply(res, route.Intent)
			r.confidence = &route.Confidence
			return r
		}
		slog.Error("Gateway.Process: flow start failed, answering freely", "conversationID", t.conv.ID, "type", route.SuggestedFlow, "error", err)
	}

	var match *faq.Match
	if faqLike(route.Intent) && len(t.tenant.FAQs) > 0 {
		match = g.faqs.Match(ctx, t.event.Body, t.tenant.FAQs, g.faqThreshold)
	}
	gen := g.responder.Generate(ctx, responder.Context{
		Message:      t.event.Body,
		CustomerName: t.conv.CustomerName,
		Tenant:       t.tenant,
		Route:        route,
		FAQ:          match,
		History:      t.history,
	})
	return reply{
		text:       gen.Response,
		intent:     route.Intent,
		confidence: &route.Confidence,
		modelUsed:  gen.ModelUsed,
		escalate:   gen.ShouldEscalate || route.Intent == models.IntentEscalate,
		optOut:     route.Intent == models.IntentOptOut,
	}
}

func faqLike(intent models.Intent) bool {
	return intent == models.IntentFAQ || intent == models.IntentUnknown
}

func flowReply(res flow.Result, intent models.Intent) reply {
	r := reply{
		text:     res.Response,
		intent:   intent,
		escalate: res.Escalated(),
	}
	if res.State != nil {
		r.activeFlow = res.State.Type
		r.modelUsed = "flow:" + string(res.State.Type)
	}
	return r
}

// send delivers the stored outbound message. Failures only change its
// delivery status.
func (g *Gateway) send(ctx context.Context, t *turn, msg *models.Message) {
	sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout)
	defer cancel()

	res, err := g.sender.Send(sendCtx, models.OutboundMessage{To: t.sender, From: t.tenant.Address, Body: msg.Content})
	status := models.MessageStatusSent
	if err != nil {
		status = models.MessageStatusFailed
		slog.Warn("Gateway.Process: send failed, kept for retry", "conversationID", t.conv.ID, "messageID", msg.ID, "error", err)
	}
	if err := g.store.UpdateMessageDelivery(context.WithoutCancel(ctx), msg.ID, status, res.ID, 1); err != nil {
		slog.Error("Gateway.Process: delivery status not recorded", "messageID", msg.ID, "status", status, "error", err)
	}
}
