package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
)

func seedFailed(t *testing.T, st *store.InMemoryStore, created time.Time, attempts int) (*models.Conversation, *models.Message) {
	t.Helper()
	ctx := context.Background()
	if err := st.SaveTenant(ctx, models.TenantProfile{ID: "t1", Address: "+33100000001"}); err != nil {
		t.Fatal(err)
	}
	conv := &models.Conversation{TenantID: "t1", CustomerAddress: "+33611111111", Status: models.ConversationStatusActive}
	if err := st.SaveConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	msg := &models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound, Status: models.MessageStatusFailed, Content: "Bonjour", SendAttempts: attempts, CreatedAt: created}
	if err := st.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	return conv, msg
}

func TestResender_DeliversDueMessages(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	conv, _ := seedFailed(t, st, now.Add(-time.Minute), 1)

	var got []models.OutboundMessage
	sender := SenderFunc(func(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
		got = append(got, msg)
		return models.SendResult{ID: "SM1"}, nil
	})
	r := NewResender(st, sender, WithResendClock(func() time.Time { return now }))

	n, err := r.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if len(got) != 1 || got[0].To != "+33611111111" || got[0].From != "+33100000001" || got[0].Body != "Bonjour" {
		t.Errorf("unexpected resend %+v", got)
	}
	msgs, _ := st.ListMessages(context.Background(), conv.ID, 0)
	if msgs[0].Status != models.MessageStatusSent || msgs[0].SendAttempts != 2 || msgs[0].ChannelMessageID != "SM1" {
		t.Errorf("delivery not recorded: %+v", msgs[0])
	}

	// Nothing left to do.
	if n, _ := r.Sweep(context.Background()); n != 0 {
		t.Errorf("second sweep resent %d messages", n)
	}
}

func TestResender_BackoffAndGiveUp(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	// 3 attempts with a 10s base: next retry is due 40s after creation.
	conv, _ := seedFailed(t, st, now.Add(-30*time.Second), 3)

	calls := 0
	failing := SenderFunc(func(ctx context.Context, msg models.OutboundMessage) (models.SendResult, error) {
		calls++
		return models.SendResult{}, errors.New("still down")
	})
	clock := now
	r := NewResender(st, failing, WithMaxAttempts(4), WithBackoff(10*time.Second), WithResendClock(func() time.Time { return clock }))

	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("message retried before its backoff elapsed")
	}

	clock = now.Add(15 * time.Second)
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected one retry, got %d", calls)
	}
	msgs, _ := st.ListMessages(context.Background(), conv.ID, 0)
	if msgs[0].Status != models.MessageStatusFailed || msgs[0].SendAttempts != 4 {
		t.Errorf("unexpected state after failed retry: %+v", msgs[0])
	}

	// Attempts cap reached: never listed again.
	clock = now.Add(time.Hour)
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("message retried past the attempts cap")
	}
}
