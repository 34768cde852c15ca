// Package testutil provides common fakes, fixtures and assertion helpers for tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/genai"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatal(args ...interface{})
}

// ScriptedProvider is a genai.Provider whose answers come from Respond.
// Every request is recorded.
type ScriptedProvider struct {
	Respond func(req genai.Request) (string, error)

	mu    sync.Mutex
	calls []genai.Request
}

// StaticProvider answers every request with text.
func StaticProvider(text string) *ScriptedProvider {
	return &ScriptedProvider{Respond: func(genai.Request) (string, error) { return text, nil }}
}

// FailingProvider fails every request with err.
func FailingProvider(err error) *ScriptedProvider {
	return &ScriptedProvider{Respond: func(genai.Request) (string, error) { return "", err }}
}

// Complete implements genai.Provider.
func (p *ScriptedProvider) Complete(ctx context.Context, req genai.Request) (genai.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	text, err := p.Respond(req)
	if err != nil {
		return genai.Completion{}, err
	}
	return genai.Completion{Text: text, Model: fmt.Sprintf("test-tier%d", req.Tier)}, nil
}

// Calls returns the recorded requests.
func (p *ScriptedProvider) Calls() []genai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]genai.Request(nil), p.calls...)
}

// RecordingSender records outbound messages. When Err is set every send fails.
type RecordingSender struct {
	Err error

	mu   sync.Mutex
	sent []models.OutboundMessage
}

// Send implements messaging.Sender.
func (s *RecordingSender) Send(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.SendResult{}, s.Err
	}
	s.sent = append(s.sent, msg)
	return models.SendResult{ID: fmt.Sprintf("SM%04d", len(s.sent)), Status: "queued"}, nil
}

// Sent returns the recorded messages.
func (s *RecordingSender) Sent() []models.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboundMessage(nil), s.sent...)
}

// SalonTenant is a hair salon profile served on +33100000001, open Monday to
// Saturday 09:00-19:00 in Europe/Paris.
func SalonTenant() models.TenantProfile {
	hours := make([]models.BusinessHours, 0, 6)
	for day := 1; day <= 6; day++ {
		hours = append(hours, models.BusinessHours{Day: day, Open: "09:00", Close: "19:00"})
	}
	return models.TenantProfile{
		ID:           "salon-lea",
		Name:         "Salon Léa",
		BusinessType: "salon de coiffure",
		Address:      "+33100000001",
		Timezone:     "Europe/Paris",
		Language:     "fr",
		FAQs: []models.FAQ{
			{ID: "hours", Question: "Quels sont vos horaires ?", Answer: "Du lundi au samedi, de 9h à 19h.", Keywords: []string{"horaires", "ouvert", "heure"}, Active: true},
			{ID: "address", Question: "Où êtes-vous situés ?", Answer: "12 rue de la Paix, Paris.", Keywords: []string{"adresse", "situe", "trouver"}, Active: true},
			{ID: "old", Question: "Faites-vous les mariages ?", Answer: "Plus pour le moment.", Active: false},
		},
		Services: []models.Service{
			{ID: "cut", Name: "Coupe femme", DurationMinutes: 45, Price: 35},
			{ID: "color", Name: "Couleur", DurationMinutes: 90, Price: 60},
		},
		BusinessHours: hours,
	}
}

// SeedTenant saves profile into st.
func SeedTenant(t TB, st store.Store, profile models.TenantProfile) {
	t.Helper()
	if err := st.SaveTenant(context.Background(), profile); err != nil {
		t.Fatalf("failed to seed tenant %s: %v", profile.ID, err)
	}
}

// AssertMessageCount checks how many transcript messages a conversation has.
func AssertMessageCount(t TB, st store.Store, conversationID string, expected int, what string) {
	t.Helper()
	msgs, err := st.ListMessages(context.Background(), conversationID, 0)
	if err != nil {
		t.Fatalf("%s: failed to list messages: %v", what, err)
	}
	if len(msgs) != expected {
		t.Errorf("%s: expected %d messages, got %d", what, expected, len(msgs))
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, what string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", what, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, target string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, target, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// CreateFormRequest creates a POST request with a url-encoded form body, the
// way channel webhooks deliver events.
func CreateFormRequest(t TB, target string, form map[string]string) *http.Request {
	t.Helper()
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatalf("failed to create form request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
