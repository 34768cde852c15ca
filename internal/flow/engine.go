// Package flow runs guided multi-turn dialogues (booking, lead capture, quote
// request, order tracking) as declarative step graphs whose progress is
// persisted between turns.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
)

// DefaultMaxAttempts is the number of consecutive invalid answers that ends a flow.
const DefaultMaxAttempts = 3

// ErrUnknownFlow is returned when no definition is registered for a flow type.
var ErrUnknownFlow = errors.New("unknown flow type")

// DefaultCancelKeywords end the active flow when a message opens or closes
// with one of them, or is a short message containing one.
var DefaultCancelKeywords = []string{"annuler", "annule", "stop", "arrêter", "arrete", "cancel", "quitter", "laisse tomber"}

// shortMessageWords is the length up to which a cancel keyword counts
// anywhere in the message.
const shortMessageWords = 3

// Data is the accumulated answers of a flow, one value per completed step.
type Data map[string]any

// String returns the value under key as a string, or "".
func (d Data) String(key string) string {
	if v, ok := d[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Context is what steps know about the turn they run in.
type Context struct {
	Tenant       *models.TenantProfile
	Conversation *models.Conversation
	// Now is the current time in the tenant timezone. The engine fills it
	// when zero.
	Now time.Time
}

// Validation is the outcome of checking one answer. Invalid input is an
// expected result, not an error.
type Validation struct {
	Valid bool
	Error string
	Value any
}

// Invalid builds a failed validation.
func Invalid(msg string) Validation {
	return Validation{Error: msg}
}

// Accept builds a successful validation.
func Accept(value any) Validation {
	return Validation{Valid: true, Value: value}
}

// Step is one node of a flow graph.
type Step interface {
	// Key is the stable name the step's value is stored under.
	Key() string
	Prompt(ctx context.Context, fc *Context, data Data) (string, error)
	Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error)
	// Next returns the following step id, or "" when the flow is complete.
	Next(data Data) string
}

// Definition declares a flow graph.
type Definition struct {
	Type        models.FlowType
	MaxAttempts int
	Start       string
	Steps       map[string]Step
	OnComplete  func(ctx context.Context, data Data, fc *Context) (string, error)
	OnCancel    func(ctx context.Context, data Data, fc *Context) string
	// Escalation is sent when the attempts cap is reached.
	Escalation string
}

func (d *Definition) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Outcome classifies what a turn did to the flow.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeRetry     Outcome = "retry"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeEscalated Outcome = "escalated"
)

// Result is the reply of a flow turn. State is nil once the flow has ended.
type Result struct {
	Response string
	Outcome  Outcome
	State    *models.FlowState
}

// Terminal reports whether the flow ended on this turn.
func (r Result) Terminal() bool {
	return r.State == nil
}

// Escalated reports whether the turn handed the conversation to a human.
func (r Result) Escalated() bool {
	return r.Outcome == OutcomeEscalated
}

// Engine executes registered flow definitions.
type Engine struct {
	states         *StateManager
	cancelKeywords []string
	now            func() time.Time

	mu   sync.RWMutex
	defs map[models.FlowType]*Definition
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCancelKeywords replaces the cancellation keywords.
func WithCancelKeywords(words ...string) Option {
	return func(e *Engine) { e.cancelKeywords = words }
}

// NewEngine creates an engine persisting state through states.
func NewEngine(states *StateManager, opts ...Option) *Engine {
	e := &Engine{
		states:         states,
		cancelKeywords: DefaultCancelKeywords,
		now:            time.Now,
		defs:           make(map[models.FlowType]*Definition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds or replaces a definition.
func (e *Engine) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("flow definition without type")
	}
	if _, ok := def.Steps[def.Start]; !ok {
		return fmt.Errorf("flow %s: start step %q not declared", def.Type, def.Start)
	}
	if def.OnComplete == nil {
		return fmt.Errorf("flow %s: OnComplete is required", def.Type)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.Type] = &def
	slog.Debug("Engine.Register: flow registered", "type", def.Type, "steps", len(def.Steps))
	return nil
}

// Has reports whether a definition is registered for ft.
func (e *Engine) Has(ft models.FlowType) bool {
	_, ok := e.definition(ft)
	return ok
}

func (e *Engine) definition(ft models.FlowType) (*Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.defs[ft]
	return def, ok
}

// Active returns the persisted flow of a conversation, or nil. A state that
// fails validation is logged, cleared and reported as no flow.
func (e *Engine) Active(ctx context.Context, conversationID string) (*models.FlowState, error) {
	state, err := e.states.Load(ctx, conversationID)
	if err != nil || state == nil {
		return nil, err
	}
	if err := e.validateState(state); err != nil {
		slog.Warn("Engine.Active: discarding invalid flow state", "integrity", true, "conversationID", conversationID, "type", state.Type, "step", state.Step, "error", err)
		if clearErr := e.states.Clear(ctx, conversationID); clearErr != nil {
			slog.Error("Engine.Active: failed to clear invalid state", "conversationID", conversationID, "error", clearErr)
		}
		return nil, nil
	}
	return state, nil
}

func (e *Engine) validateState(state *models.FlowState) error {
	def, ok := e.definition(state.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlow, state.Type)
	}
	if _, ok := def.Steps[state.Step]; !ok {
		return fmt.Errorf("unknown step %q", state.Step)
	}
	if state.Attempts < 0 || state.Attempts >= def.maxAttempts() {
		return fmt.Errorf("attempts %d outside [0,%d)", state.Attempts, def.maxAttempts())
	}
	if state.StartedAt.IsZero() {
		return fmt.Errorf("missing start time")
	}
	return nil
}

// Start begins a flow at its first step and returns that step's prompt.
func (e *Engine) Start(ctx context.Context, ft models.FlowType, fc *Context) (Result, error) {
	def, ok := e.definition(ft)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFlow, ft)
	}
	e.fillNow(fc)

	state := &models.FlowState{Type: ft, Step: def.Start, Data: map[string]any{}, StartedAt: fc.Now}
	prompt, err := def.Steps[def.Start].Prompt(ctx, fc, Data(state.Data))
	if err != nil {
		return Result{}, fmt.Errorf("flow %s: prompt %s: %w", ft, def.Start, err)
	}
	if err := e.states.Save(ctx, fc.Conversation.ID, state); err != nil {
		return Result{}, err
	}
	slog.Info("Engine.Start: flow started", "conversationID", fc.Conversation.ID, "type", ft)
	return Result{Response: prompt, Outcome: OutcomeStarted, State: state}, nil
}

// Handle runs one turn of an active flow.
func (e *Engine) Handle(ctx context.Context, state *models.FlowState, input string, fc *Context) (Result, error) {
	def, ok := e.definition(state.Type)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFlow, state.Type)
	}
	e.fillNow(fc)
	convID := fc.Conversation.ID
	data := Data(state.Data)
	if data == nil {
		data = Data{}
	}

	if wantsCancel(input, e.cancelKeywords) {
		msg := "D'accord, j'ai annulé la demande en cours. Comment puis-je vous aider ?"
		if def.OnCancel != nil {
			msg = def.OnCancel(ctx, data, fc)
		}
		if err := e.states.Clear(ctx, convID); err != nil {
			return Result{}, err
		}
		slog.Info("Engine.Handle: flow cancelled by customer", "conversationID", convID, "type", state.Type, "step", state.Step)
		return Result{Response: msg, Outcome: OutcomeCancelled}, nil
	}

	step, ok := def.Steps[state.Step]
	if !ok {
		return Result{}, fmt.Errorf("flow %s: unknown step %q", state.Type, state.Step)
	}
	v, err := step.Validate(ctx, input, fc, data)
	if err != nil {
		return Result{}, fmt.Errorf("flow %s: validate %s: %w", state.Type, state.Step, err)
	}

	if !v.Valid {
		attempts := state.Attempts + 1
		if attempts >= def.maxAttempts() {
			if err := e.states.Clear(ctx, convID); err != nil {
				return Result{}, err
			}
			slog.Warn("Engine.Handle: attempts exhausted, escalating", "conversationID", convID, "type", state.Type, "step", state.Step, "attempts", attempts)
			msg := def.Escalation
			if msg == "" {
				msg = "Je n'arrive pas à traiter votre demande. Un membre de l'équipe va prendre le relais très vite."
			}
			return Result{Response: msg, Outcome: OutcomeEscalated}, nil
		}
		next := *state
		next.Data = data
		next.Attempts = attempts
		if err := e.states.Save(ctx, convID, &next); err != nil {
			return Result{}, err
		}
		slog.Debug("Engine.Handle: invalid answer", "conversationID", convID, "step", state.Step, "attempts", attempts)
		return Result{Response: v.Error, Outcome: OutcomeRetry, State: &next}, nil
	}

	data[step.Key()] = v.Value
	nextID := step.Next(data)
	nextStep, ok := def.Steps[nextID]
	if nextID == "" || !ok {
		msg, err := def.OnComplete(ctx, data, fc)
		if err != nil {
			return Result{}, fmt.Errorf("flow %s: complete: %w", state.Type, err)
		}
		if err := e.states.Clear(ctx, convID); err != nil {
			return Result{}, err
		}
		slog.Info("Engine.Handle: flow completed", "conversationID", convID, "type", state.Type)
		return Result{Response: msg, Outcome: OutcomeCompleted}, nil
	}

	prompt, err := nextStep.Prompt(ctx, fc, data)
	if err != nil {
		return Result{}, fmt.Errorf("flow %s: prompt %s: %w", state.Type, nextID, err)
	}
	next := &models.FlowState{Type: state.Type, Step: nextID, Data: data, StartedAt: state.StartedAt}
	if err := e.states.Save(ctx, convID, next); err != nil {
		return Result{}, err
	}
	slog.Debug("Engine.Handle: advanced", "conversationID", convID, "type", state.Type, "from", state.Step, "to", nextID)
	return Result{Response: prompt, Outcome: OutcomeAdvanced, State: next}, nil
}

// Cancel clears the active flow of a conversation without a reply.
func (e *Engine) Cancel(ctx context.Context, conversationID string) error {
	return e.states.Clear(ctx, conversationID)
}

// wantsCancel reports whether input asks to leave the flow: "stop" and "non
// finalement je veux annuler" do, "je veux arrêter de fumer" answers the step.
func wantsCancel(input string, keywords []string) bool {
	msg := textnorm.Normalize(input)
	if msg == "" {
		return false
	}
	padded := " " + msg + " "
	short := len(strings.Fields(msg)) <= shortMessageWords
	for _, k := range keywords {
		nk := textnorm.Normalize(k)
		if nk == "" {
			continue
		}
		word := " " + nk + " "
		if strings.HasPrefix(padded, word) || strings.HasSuffix(padded, word) {
			return true
		}
		if short && strings.Contains(padded, word) {
			return true
		}
	}
	return false
}

func (e *Engine) fillNow(fc *Context) {
	if !fc.Now.IsZero() {
		return
	}
	fc.Now = e.now().In(Location(fc.Tenant))
}

// Location returns the tenant timezone, UTC when unknown.
func Location(t *models.TenantProfile) *time.Location {
	if t == nil || t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
