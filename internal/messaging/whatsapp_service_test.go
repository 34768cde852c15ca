package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Ensure WhatsAppService implements Service interface
var _ Service = (*WhatsAppService)(nil)

func textEvent(id, from, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID(from, types.DefaultUserServer),
				Chat:   types.NewJID(from, types.DefaultUserServer),
			},
			ID:        types.MessageID(id),
			PushName:  "Ana",
			Timestamp: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppService_Send(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	res, err := svc.Send(context.Background(), models.OutboundMessage{To: "+33611111111", Body: "hello"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if res.ID == "" || res.Status != "sent" {
		t.Errorf("unexpected result %+v", res)
	}
	mock.Err = errors.New("offline")
	if _, err := svc.Send(context.Background(), models.OutboundMessage{To: "+33611111111", Body: "x"}); err == nil {
		t.Error("expected error")
	}
}

func TestWhatsAppService_ForwardsTextMessages(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), WithOwnNumber("+33100000001"))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	svc.handleEvent(textEvent("ABC", "33611111111", "Bonjour"))

	select {
	case ev := <-svc.Events():
		want := models.InboundEvent{
			MessageID: "ABC", From: "+33611111111", To: "+33100000001", Body: "Bonjour",
			SenderDisplayName: "Ana", Timestamp: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		}
		if ev != want {
			t.Errorf("event = %+v, want %+v", ev, want)
		}
	default:
		t.Fatal("expected an inbound event")
	}
}

func TestWhatsAppService_IgnoresOtherMessages(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), WithOwnNumber("+33100000001"))

	fromMe := textEvent("1", "33611111111", "x")
	fromMe.Info.IsFromMe = true
	group := textEvent("2", "33611111111", "x")
	group.Info.IsGroup = true
	noText := textEvent("3", "33611111111", "")
	noText.Message = &waE2E.Message{}

	for _, evt := range []interface{}{fromMe, group, noText, &events.Receipt{}} {
		svc.handleEvent(evt)
	}
	select {
	case ev := <-svc.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestWhatsAppService_Stop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
	// Late events must not panic on the closed channel.
	svc.handleEvent(textEvent("late", "33611111111", "x"))
	if _, err := svc.Send(context.Background(), models.OutboundMessage{To: "+1"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
