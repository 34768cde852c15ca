package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
)

// ResendStore is the persistence the Resender needs.
type ResendStore interface {
	ListFailedOutbound(ctx context.Context, maxAttempts, limit int) ([]store.PendingSend, error)
	UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, channelMessageID string, attempts int) error
}

// Resender retries outbound messages recorded with failed status. It runs
// from the scheduler, never on the message path.
type Resender struct {
	repo        ResendStore
	sender      Sender
	maxAttempts int
	batch       int
	baseBackoff time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

// ResenderOption configures a Resender.
type ResenderOption func(*Resender)

// WithMaxAttempts bounds the total number of sends of one message.
func WithMaxAttempts(n int) ResenderOption {
	return func(r *Resender) { r.maxAttempts = n }
}

// WithBackoff sets the wait before the first retry; it doubles per attempt.
func WithBackoff(d time.Duration) ResenderOption {
	return func(r *Resender) { r.baseBackoff = d }
}

// WithSendTimeout bounds each retry.
func WithSendTimeout(d time.Duration) ResenderOption {
	return func(r *Resender) { r.sendTimeout = d }
}

// WithResendClock replaces time.Now.
func WithResendClock(now func() time.Time) ResenderOption {
	return func(r *Resender) { r.now = now }
}

// NewResender creates a Resender.
func NewResender(repo ResendStore, sender Sender, opts ...ResenderOption) *Resender {
	r := &Resender{
		repo:        repo,
		sender:      sender,
		maxAttempts: 5,
		batch:       20,
		baseBackoff: 30 * time.Second,
		sendTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// due reports whether a message failed long enough ago to be retried.
// Backoff: base, 2*base, 4*base, ... counted from the message creation.
func (r *Resender) due(msg models.Message, now time.Time) bool {
	attempts := max(msg.SendAttempts, 1)
	wait := r.baseBackoff * time.Duration(1<<min(attempts-1, 16))
	return !now.Before(msg.CreatedAt.Add(wait))
}

// Sweep retries the due failed messages once each and returns how many were
// delivered.
func (r *Resender) Sweep(ctx context.Context) (int, error) {
	pending, err := r.repo.ListFailedOutbound(ctx, r.maxAttempts, r.batch)
	if err != nil {
		slog.Error("Resender.Sweep: list failed", "error", err)
		return 0, err
	}
	now := r.now()
	sent := 0
	for _, p := range pending {
		if !r.due(p.Message, now) {
			continue
		}
		attempts := p.Message.SendAttempts + 1
		sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		res, err := r.sender.Send(sendCtx, models.OutboundMessage{To: p.To, From: p.From, Body: p.Message.Content})
		cancel()

		status := models.MessageStatusSent
		if err != nil {
			status = models.MessageStatusFailed
			slog.Warn("Resender.Sweep: resend failed", "messageID", p.Message.ID, "attempts", attempts, "error", err)
		} else {
			sent++
			slog.Info("Resender.Sweep: message delivered", "messageID", p.Message.ID, "attempts", attempts)
		}
		if err := r.repo.UpdateMessageDelivery(ctx, p.Message.ID, status, res.ID, attempts); err != nil {
			slog.Error("Resender.Sweep: update delivery failed", "messageID", p.Message.ID, "error", err)
		}
		if attempts >= r.maxAttempts && status == models.MessageStatusFailed {
			slog.Warn("Resender.Sweep: giving up on message", "messageID", p.Message.ID, "attempts", attempts)
		}
	}
	return sent, nil
}
