package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/faq"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/flow"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/genai"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/ratelimit"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/responder"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/router"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/tenant"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customer     = "+33611111111"
	salonAddress = "+33100000001"
)

type harness struct {
	gw       *Gateway
	store    *store.InMemoryStore
	dir      *tenant.Directory
	sender   *testutil.RecordingSender
	provider *testutil.ScriptedProvider
}

// classify makes the scripted provider answer router requests with the
// given classification JSON and everything else with reply.
func classify(classification, reply string) *testutil.ScriptedProvider {
	return &testutil.ScriptedProvider{Respond: func(req genai.Request) (string, error) {
		if req.SchemaName == "intent_classification" {
			return classification, nil
		}
		return reply, nil
	}}
}

func newHarness(t *testing.T, provider *testutil.ScriptedProvider, deps Deps) *harness {
	t.Helper()
	st := store.NewInMemoryStore()
	testutil.SeedTenant(t, st, testutil.SalonTenant())

	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	now := time.Date(2026, time.January, 10, 10, 0, 0, 0, loc)
	engine := flow.NewEngine(flow.NewStateManager(st), flow.WithClock(func() time.Time { return now }))
	require.NoError(t, flow.RegisterDefaults(engine, st))

	h := &harness{
		store:    st,
		dir:      tenant.NewDirectory(st),
		sender:   &testutil.RecordingSender{},
		provider: provider,
	}
	deps.Store = st
	deps.Tenants = h.dir
	deps.Flows = engine
	deps.Sender = h.sender
	if deps.Router == nil {
		deps.Router = router.New(provider)
	}
	if deps.FAQ == nil {
		deps.FAQ = faq.NewMatcher(provider)
	}
	if deps.Responder == nil {
		deps.Responder = responder.New(provider)
	}
	h.gw, err = New(deps)
	require.NoError(t, err)
	return h
}

func inbound(id, body string) models.InboundEvent {
	return models.InboundEvent{
		MessageID:         id,
		From:              "whatsapp:" + customer,
		To:                "whatsapp:" + salonAddress,
		Body:              body,
		SenderDisplayName: "Ana",
	}
}

func (h *harness) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := h.store.GetConversation(context.Background(), "salon-lea", customer)
	require.NoError(t, err)
	require.NotNil(t, conv, "conversation should exist")
	return conv
}

func (h *harness) messages(t *testing.T) []models.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), h.conversation(t).ID, 0)
	require.NoError(t, err)
	return msgs
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestProcess_GreetingTurn(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("Bonjour Ana ! Comment puis-je vous aider ?"), Deps{})

	res := h.gw.Process(context.Background(), inbound("wamid-1", "Bonjour"))
	require.Equal(t, models.ProcessResult{Success: true}, res)

	conv := h.conversation(t)
	assert.Equal(t, "Ana", conv.CustomerName, "display name backfilled")
	assert.Equal(t, models.ConversationStatusActive, conv.Status)
	assert.False(t, conv.LastMessageAt.IsZero())

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, "Bonjour", msgs[0].Content)
	assert.Equal(t, "wamid-1", msgs[0].ChannelMessageID)

	out := msgs[1]
	assert.Equal(t, models.DirectionOutbound, out.Direction)
	assert.Equal(t, models.MessageStatusSent, out.Status)
	assert.Equal(t, models.IntentGreeting, out.Intent)
	assert.Equal(t, "SM0001", out.ChannelMessageID)
	assert.Equal(t, 1, out.SendAttempts)

	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.OutboundMessage{To: customer, From: salonAddress, Body: "Bonjour Ana ! Comment puis-je vous aider ?"}, sent[0])
}

func TestProcess_KeepsKnownCustomerName(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("ok"), Deps{})
	ctx := context.Background()
	require.NoError(t, h.store.SaveConversation(ctx, &models.Conversation{
		TenantID: "salon-lea", CustomerAddress: customer, CustomerName: "Julie", Status: models.ConversationStatusActive,
	}))

	require.True(t, h.gw.Process(ctx, inbound("wamid-1", "Bonjour")).Success)
	assert.Equal(t, "Julie", h.conversation(t).CustomerName)
}

func TestProcess_DuplicateHasNoSideEffects(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("Bonjour !"), Deps{})
	ctx := context.Background()

	first := h.gw.Process(ctx, inbound("wamid-1", "Bonjour"))
	second := h.gw.Process(ctx, inbound("wamid-1", "Bonjour"))

	assert.Equal(t, models.ProcessResult{Success: true}, first)
	assert.Equal(t, models.ProcessResult{Success: true, Duplicate: true}, second)
	assert.Len(t, h.messages(t), 2, "one inbound and one outbound message")
	assert.Len(t, h.sender.Sent(), 1)
}

func TestProcess_RateLimited(t *testing.T) {
	lim, err := ratelimit.NewMemory("2-M")
	require.NoError(t, err)
	h := newHarness(t, testutil.StaticProvider("Bonjour !"), Deps{Limiter: lim})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res := h.gw.Process(ctx, inbound(fmt.Sprintf("wamid-%d", i), "Bonjour"))
		require.Equal(t, models.ProcessResult{Success: true}, res)
	}
	res := h.gw.Process(ctx, inbound("wamid-3", "Bonjour"))
	assert.Equal(t, models.ProcessResult{Success: true, RateLimited: true}, res)
	assert.Len(t, h.messages(t), 4, "rate-limited message is not persisted")
	assert.Len(t, h.sender.Sent(), 2)

	// The rate-limited event counts as handled.
	res = h.gw.Process(ctx, inbound("wamid-3", "Bonjour"))
	assert.True(t, res.Duplicate)
}

func TestProcess_UnknownTenantFailsAndAllowsRetry(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("Bonjour !"), Deps{})
	ctx := context.Background()
	ev := inbound("wamid-1", "Bonjour")
	ev.To = "+33199999999"

	res := h.gw.Process(ctx, ev)
	assert.False(t, res.Success)
	assert.Empty(t, h.sender.Sent())

	other := testutil.SalonTenant()
	other.ID = "salon-b"
	other.Address = "+33199999999"
	testutil.SeedTenant(t, h.store, other)
	h.dir.Clear()

	res = h.gw.Process(ctx, ev)
	assert.Equal(t, models.ProcessResult{Success: true}, res, "a failed turn must not be remembered as processed")
}

func TestProcess_InvalidEvent(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("x"), Deps{})
	ev := inbound("", "Bonjour")
	assert.False(t, h.gw.Process(context.Background(), ev).Success)
}

func TestProcess_SendFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("Bonjour !"), Deps{})
	h.sender.Err = errors.New("channel down")

	res := h.gw.Process(context.Background(), inbound("wamid-1", "Bonjour"))
	assert.Equal(t, models.ProcessResult{Success: true}, res)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageStatusFailed, msgs[1].Status)
	assert.Equal(t, 1, msgs[1].SendAttempts)

	pending, err := h.store.ListFailedOutbound(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, customer, pending[0].To)
}

func TestProcess_ProviderFailureStillReplies(t *testing.T) {
	h := newHarness(t, testutil.FailingProvider(errors.New("timeout")), Deps{})

	res := h.gw.Process(context.Background(), inbound("wamid-1", "Est-ce que vous faites les barbes ?"))
	require.True(t, res.Success)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, responder.ModelFallback, msgs[1].ModelUsed)
	assert.Equal(t, models.IntentUnknown, msgs[1].Intent)
	assert.NotEmpty(t, msgs[1].Content)
	assert.Equal(t, models.ConversationStatusEscalated, h.conversation(t).Status)
}

func TestProcess_StartsAndContinuesSuggestedFlow(t *testing.T) {
	p := classify(`{"intent":"BOOKING","confidence":0.92,"tier":1,"faq_index":-1,"suggested_flow":"booking"}`, "unused")
	h := newHarness(t, p, Deps{})
	ctx := context.Background()

	require.True(t, h.gw.Process(ctx, inbound("wamid-1", "Je voudrais prendre rendez-vous")).Success)
	conv := h.conversation(t)
	assert.Equal(t, models.FlowTypeBooking, conv.ActiveFlow)
	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "Coupe femme")
	routerCalls := len(p.Calls())

	// The next message belongs to the flow and skips the router.
	require.True(t, h.gw.Process(ctx, inbound("wamid-2", "coupe femme")).Success)
	assert.Len(t, p.Calls(), routerCalls)
	sent = h.sender.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Body, "Pour quel jour")
	assert.Equal(t, models.FlowTypeBooking, h.conversation(t).ActiveFlow)

	// Cancelling ends the flow.
	require.True(t, h.gw.Process(ctx, inbound("wamid-3", "annuler")).Success)
	assert.Empty(t, h.conversation(t).ActiveFlow)
}

func TestProcess_FlowEscalationMarksConversation(t *testing.T) {
	p := classify(`{"intent":"ORDER_TRACKING","confidence":0.9,"tier":1,"faq_index":-1}`, "unused")
	h := newHarness(t, p, Deps{})
	ctx := context.Background()

	require.True(t, h.gw.Process(ctx, inbound("wamid-0", "Où en est ma commande ?")).Success)
	for i := 1; i <= flow.DefaultMaxAttempts; i++ {
		require.True(t, h.gw.Process(ctx, inbound(fmt.Sprintf("wamid-%d", i), "je ne sais plus")).Success)
	}
	conv := h.conversation(t)
	assert.Equal(t, models.ConversationStatusEscalated, conv.Status)
	assert.Empty(t, conv.ActiveFlow)
}

// unavailableStep fails every answer, as a step whose backing store is down.
type unavailableStep struct{}

func (unavailableStep) Key() string { return "topic" }
func (unavailableStep) Prompt(ctx context.Context, fc *flow.Context, data flow.Data) (string, error) {
	return "De quoi souhaitez-vous parler ?", nil
}
func (unavailableStep) Validate(ctx context.Context, input string, fc *flow.Context, data flow.Data) (flow.Validation, error) {
	return flow.Validation{}, errors.New("store unavailable")
}
func (unavailableStep) Next(data flow.Data) string { return "" }

func TestProcess_FailedFlowTurnRoutesWithFlowContext(t *testing.T) {
	p := classify(`{"intent":"BOOKING","confidence":0.8,"tier":2,"faq_index":-1,"suggested_flow":"booking"}`, "Je regarde cela pour vous.")
	h := newHarness(t, p, Deps{})
	ctx := context.Background()
	survey := models.FlowType("survey")
	require.NoError(t, h.gw.flows.Register(flow.Definition{
		Type:       survey,
		Start:      "topic",
		Steps:      map[string]flow.Step{"topic": unavailableStep{}},
		OnComplete: func(context.Context, flow.Data, *flow.Context) (string, error) { return "", nil },
	}))

	require.True(t, h.gw.Process(ctx, inbound("wamid-1", "Bonjour")).Success)
	conv := h.conversation(t)
	_, err := h.gw.flows.Start(ctx, survey, &flow.Context{Tenant: &models.TenantProfile{ID: "salon-lea"}, Conversation: conv})
	require.NoError(t, err)

	require.True(t, h.gw.Process(ctx, inbound("wamid-2", "bonjour")).Success)

	var routing *genai.Request
	for _, c := range p.Calls() {
		if c.SchemaName == "intent_classification" {
			c := c
			routing = &c
		}
	}
	require.NotNil(t, routing, "a greeting inside a flow is classified by the model")
	assert.Contains(t, routing.Messages[0].Content, "Parcours en cours : survey")

	msgs := h.messages(t)
	assert.Equal(t, "Je regarde cela pour vous.", msgs[len(msgs)-1].Content, "no new flow starts over the interrupted one")
	assert.NotEqual(t, models.FlowTypeBooking, h.conversation(t).ActiveFlow)
}

func TestProcess_FAQAnswerReachesResponder(t *testing.T) {
	p := classify(`{"intent":"FAQ","confidence":0.9,"tier":1,"faq_index":-1}`, "Nous sommes ouverts du lundi au samedi, de 9h à 19h.")
	h := newHarness(t, p, Deps{})

	require.True(t, h.gw.Process(context.Background(), inbound("wamid-1", "Quels sont vos horaires ?")).Success)

	var generation *genai.Request
	for _, c := range p.Calls() {
		if c.SchemaName == "" {
			c := c
			generation = &c
		}
	}
	require.NotNil(t, generation, "responder should call the provider")
	assert.Equal(t, models.Tier1, generation.Tier, "exact FAQ hits use the cheapest tier")
	assert.Contains(t, generation.Messages[0].Content, "Du lundi au samedi, de 9h à 19h.")
	assert.Equal(t, models.IntentFAQ, h.messages(t)[1].Intent)
}

func TestProcess_InactiveFAQIsNeverServed(t *testing.T) {
	p := classify(`{"intent":"FAQ","confidence":0.9,"tier":1,"faq_index":-1}`, "Je me renseigne et je reviens vers vous.")
	h := newHarness(t, p, Deps{})

	require.True(t, h.gw.Process(context.Background(), inbound("wamid-1", "Faites-vous les mariages ?")).Success)

	calls := p.Calls()
	require.NotEmpty(t, calls)
	for _, c := range calls {
		for _, m := range c.Messages {
			assert.NotContains(t, m.Content, "Plus pour le moment.", "inactive answer leaked to %q", c.SchemaName)
			if m.Role == genai.RoleSystem {
				assert.NotContains(t, m.Content, "mariages", "inactive question listed for %q", c.SchemaName)
			}
		}
	}
	assert.Equal(t, "Je me renseigne et je reviens vers vous.", h.messages(t)[1].Content)
}

func TestProcess_OptOutResolvesThenReopens(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("C'est noté, vous ne recevrez plus de messages."), Deps{})
	ctx := context.Background()

	require.True(t, h.gw.Process(ctx, inbound("wamid-1", "STOP")).Success)
	assert.Equal(t, models.ConversationStatusResolved, h.conversation(t).Status)

	require.True(t, h.gw.Process(ctx, inbound("wamid-2", "Bonjour")).Success)
	assert.Equal(t, models.ConversationStatusActive, h.conversation(t).Status)
}

func TestProcess_EscalateIntent(t *testing.T) {
	p := classify(`{"intent":"ESCALATE","confidence":0.85,"tier":2,"faq_index":-1}`, "Je transmets votre demande à l'équipe.")
	h := newHarness(t, p, Deps{})

	require.True(t, h.gw.Process(context.Background(), inbound("wamid-1", "Je veux parler à quelqu'un")).Success)
	assert.Equal(t, models.ConversationStatusEscalated, h.conversation(t).Status)
}

type panickingResponder struct{}

func (panickingResponder) Generate(ctx context.Context, rc responder.Context) models.GeneratedResponse {
	panic("boom")
}

func TestProcess_PanicAfterInboundPersisted(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("x"), Deps{Responder: panickingResponder{}})
	ctx := context.Background()

	res := h.gw.Process(ctx, inbound("wamid-1", "Bonjour"))
	assert.False(t, res.Success)
	assert.Empty(t, h.sender.Sent())

	// The inbound message is stored, so a redelivery must not store it again.
	res = h.gw.Process(ctx, inbound("wamid-1", "Bonjour"))
	assert.True(t, res.Duplicate)
	testutil.AssertMessageCount(t, h.store, h.conversation(t).ID, 1, "after panic")
}

// cancellingResponder cancels the caller's context before answering, as an
// HTTP client hanging up mid-turn would.
type cancellingResponder struct {
	cancel context.CancelFunc
}

func (r cancellingResponder) Generate(ctx context.Context, rc responder.Context) models.GeneratedResponse {
	r.cancel()
	return models.GeneratedResponse{Response: "Bonjour Ana !", ModelUsed: "test"}
}

// ctxStore fails every call made with a done context, like a SQL driver does.
type ctxStore struct {
	Store
}

func (s ctxStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.SaveConversation(ctx, conv)
}

func (s ctxStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendMessage(ctx, msg)
}

func TestProcess_CallerCancellationAfterCommitStillReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, testutil.StaticProvider("unused"), Deps{Responder: cancellingResponder{cancel: cancel}})
	h.gw.store = ctxStore{Store: h.store}

	res := h.gw.Process(ctx, inbound("wamid-1", "Bonjour"))
	require.Error(t, ctx.Err())
	assert.Equal(t, models.ProcessResult{Success: true}, res)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bonjour Ana !", msgs[1].Content)
	assert.Equal(t, models.MessageStatusSent, msgs[1].Status)
	require.Len(t, h.sender.Sent(), 1)
}

type fakeService struct {
	events chan models.InboundEvent
}

func (s *fakeService) Send(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
	return models.SendResult{}, nil
}
func (s *fakeService) Start(ctx context.Context) error { return nil }
func (s *fakeService) Stop() error                     { close(s.events); return nil }
func (s *fakeService) Events() <-chan models.InboundEvent {
	return s.events
}

func TestStart_ConsumesTransportEvents(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("Bonjour !"), Deps{})
	svc := &fakeService{events: make(chan models.InboundEvent)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.gw.Start(ctx, svc)
	svc.events <- inbound("wamid-1", "Bonjour")
	svc.events <- inbound("wamid-2", "Bonjour")
	require.NoError(t, svc.Stop())

	require.Eventually(t, func() bool { return len(h.sender.Sent()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestProcess_ConcurrentRedeliveriesProcessOnce(t *testing.T) {
	h := newHarness(t, testutil.StaticProvider("Bonjour !"), Deps{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]models.ProcessResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.gw.Process(ctx, inbound("wamid-1", "Bonjour"))
		}(i)
	}
	wg.Wait()

	duplicates := 0
	for _, r := range results {
		assert.True(t, r.Success)
		if r.Duplicate {
			duplicates++
		}
	}
	assert.Equal(t, len(results)-1, duplicates)
	assert.Len(t, h.sender.Sent(), 1)
	assert.True(t, strings.HasPrefix(h.messages(t)[1].ChannelMessageID, "SM"))
}
