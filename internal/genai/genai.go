// Package genai provides the completion provider used to classify and answer messages.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrNoChoicesReturned is returned when the API responds without choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyCompletion is returned when the first choice has no content.
	ErrEmptyCompletion = errors.New("empty completion")
)

const (
	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxTokens caps generated tokens when the request does not say.
	DefaultMaxTokens = 500
)

// DefaultModels maps tiers to models: cheap for templated answers, stronger
// for open-ended ones.
var DefaultModels = map[models.Tier]string{
	models.Tier1: "gpt-4o-mini",
	models.Tier2: "gpt-4o-mini",
	models.Tier3: "gpt-4o",
}

// Role of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request. When Schema is set the model is asked for
// JSON matching it.
type Request struct {
	Tier        models.Tier
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	SchemaName  string
	Schema      any
}

// Completion is a successful provider answer.
type Completion struct {
	Text  string
	Model string
}

// Provider generates text. Every failure is returned as an error; callers
// own the fallback.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type openaiChat struct {
	svc *openai.ChatCompletionService
}

func (o openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the OpenAI-backed client.
type Opts struct {
	APIKey  string
	BaseURL string
	Models  map[models.Tier]string
	Timeout time.Duration
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTierModel overrides the model used for a tier.
func WithTierModel(tier models.Tier, model string) Option {
	return func(o *Opts) {
		if model == "" {
			return
		}
		if o.Models == nil {
			o.Models = make(map[models.Tier]string)
		}
		o.Models[tier] = model
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client implements Provider on the OpenAI chat completions API.
type Client struct {
	chat    chatService
	models  map[models.Tier]string
	timeout time.Duration
}

var _ Provider = (*Client)(nil)

// NewClient creates a client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries belong to a higher layer; the hot path falls back immediately.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	return newClient(openaiChat{svc: &cli.Chat.Completions}, cfg), nil
}

func newClient(chat chatService, cfg Opts) *Client {
	tierModels := make(map[models.Tier]string, len(DefaultModels))
	for tier, model := range DefaultModels {
		tierModels[tier] = model
	}
	for tier, model := range cfg.Models {
		tierModels[tier] = model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	slog.Debug("genai.NewClient: configured", "tier1", tierModels[models.Tier1], "tier2", tierModels[models.Tier2], "tier3", tierModels[models.Tier3], "timeout", timeout)
	return &Client{chat: chat, models: tierModels, timeout: timeout}
}

// ModelFor returns the model configured for tier, defaulting to tier 2.
func (c *Client) ModelFor(tier models.Tier) string {
	if m, ok := c.models[tier]; ok {
		return m
	}
	return c.models[models.Tier2]
}

// Complete runs one chat completion under the client timeout.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	model := c.ModelFor(req.Tier)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        name,
					Description: openai.String("Structured response schema"),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Warn("Client.Complete: completion failed", "model", model, "tier", req.Tier, "error", err)
		return Completion{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, ErrNoChoicesReturned
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Completion{}, ErrEmptyCompletion
	}
	slog.Debug("Client.Complete: completion succeeded", "model", model, "tier", req.Tier,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return Completion{Text: text, Model: model}, nil
}

// GenerateSchema reflects T into a strict JSON schema for structured output.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Temp returns a pointer to t for Request.Temperature.
func Temp(t float64) *float64 {
	return &t
}
