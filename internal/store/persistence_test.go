package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
)

// TestSQLiteStoreRestart simulates a crash-and-restart: conversations, their
// messages and dedup records written before the restart are visible after it.
func TestSQLiteStoreRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "restart.db")

	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 1): %v", err)
	}
	conv := models.Conversation{TenantID: "t1", CustomerAddress: "+33600000009", Status: models.ConversationStatusActive}
	if err := s1.SaveConversation(ctx, &conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	msg := models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Content: "Bonjour", Status: models.MessageStatusReceived}
	if err := s1.AppendMessage(ctx, &msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if isNew, err := s1.RecordInbound("msg-restart-1", "+33600000009"); err != nil || !isNew {
		t.Fatalf("RecordInbound: %v %v", isNew, err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 2): %v", err)
	}
	defer s2.Close()

	got, err := s2.GetConversation(ctx, "t1", "+33600000009")
	if err != nil || got == nil || got.ID != conv.ID {
		t.Fatalf("conversation lost across restart: %+v %v", got, err)
	}
	msgs, err := s2.ListMessages(ctx, conv.ID, 10)
	if err != nil || len(msgs) != 1 || msgs[0].Content != "Bonjour" {
		t.Fatalf("messages lost across restart: %+v %v", msgs, err)
	}
	isNew, err := s2.RecordInbound("msg-restart-1", "+33600000009")
	if err != nil {
		t.Fatalf("RecordInbound after restart: %v", err)
	}
	if isNew {
		t.Error("expected duplicate after restart")
	}
}
