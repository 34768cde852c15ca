package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
	delay  time.Duration
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return openai.ChatCompletion{}, ctx.Err()
		}
	}
	return m.resp, m.err
}

func textResponse(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	mock := &mockChatService{resp: textResponse("  Bonjour !  ")}
	client := newClient(mock, Opts{})
	out, err := client.Complete(context.Background(), Request{
		Tier:     models.Tier3,
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "salut"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Text != "Bonjour !" {
		t.Errorf("expected trimmed text, got %q", out.Text)
	}
	if out.Model != "gpt-4o" {
		t.Errorf("expected tier 3 model, got %q", out.Model)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(mock.params.Messages))
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := newClient(&mockChatService{err: errors.New("service failure")}, Opts{})
	_, err := client.Complete(context.Background(), Request{Tier: models.Tier1})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	client := newClient(&mockChatService{resp: openai.ChatCompletion{}}, Opts{})
	_, err := client.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	client := newClient(&mockChatService{resp: textResponse("   ")}, Opts{})
	_, err := client.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("expected empty completion error, got %v", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	client := newClient(&mockChatService{resp: textResponse("late"), delay: time.Second}, Opts{Timeout: 20 * time.Millisecond})
	_, err := client.Complete(context.Background(), Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestComplete_SchemaSetsResponseFormat(t *testing.T) {
	type out struct {
		Intent string `json:"intent"`
	}
	mock := &mockChatService{resp: textResponse(`{"intent":"FAQ"}`)}
	client := newClient(mock, Opts{})
	_, err := client.Complete(context.Background(), Request{SchemaName: "classification", Schema: GenerateSchema[out]()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.params.ResponseFormat.OfJSONSchema == nil {
		t.Fatal("expected JSON schema response format")
	}
	if mock.params.ResponseFormat.OfJSONSchema.JSONSchema.Name != "classification" {
		t.Errorf("unexpected schema name %q", mock.params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	}
}

func TestModelFor(t *testing.T) {
	var opts Opts
	WithTierModel(models.Tier1, "small")(&opts)
	WithTierModel(models.Tier2, "")(&opts)
	client := newClient(&mockChatService{}, opts)
	if got := client.ModelFor(models.Tier1); got != "small" {
		t.Errorf("tier 1 model = %s", got)
	}
	if got := client.ModelFor(models.Tier2); got != DefaultModels[models.Tier2] {
		t.Errorf("tier 2 model = %s", got)
	}
	if got := client.ModelFor(models.Tier(9)); got != DefaultModels[models.Tier2] {
		t.Errorf("unknown tier should fall back to tier 2, got %s", got)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	client, err := NewClient(WithAPIKey("sk-test"), WithBaseURL("http://localhost:1"), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.timeout != time.Second {
		t.Errorf("unexpected timeout %v", client.timeout)
	}
}
