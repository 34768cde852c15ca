// Package store provides storage backends for the conversation engine.
//
// It includes an in-memory store for tests and single-node development, and
// SQLite and PostgreSQL stores sharing one SQL implementation.
package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
)

// Store is the keyed persistence surface the engine consumes.
//
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	DedupRepo

	GetTenantByAddress(ctx context.Context, address string) (*models.TenantProfile, error)
	GetTenant(ctx context.Context, tenantID string) (*models.TenantProfile, error)
	SaveTenant(ctx context.Context, profile models.TenantProfile) error

	// GetConversation returns the thread between a tenant and a customer address.
	GetConversation(ctx context.Context, tenantID, customerAddress string) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	// SaveConversation inserts or updates a conversation. An empty ID is assigned.
	SaveConversation(ctx context.Context, conv *models.Conversation) error

	// AppendMessage persists a new message. An empty ID is assigned.
	AppendMessage(ctx context.Context, msg *models.Message) error
	// UpdateMessageDelivery updates the delivery fields of an outbound message.
	UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, channelMessageID string, attempts int) error
	// ListMessages returns the most recent messages of a conversation in chronological order.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// ListFailedOutbound returns outbound messages in failed status with fewer than maxAttempts sends.
	ListFailedOutbound(ctx context.Context, maxAttempts, limit int) ([]PendingSend, error)

	// GetFlowState returns the raw persisted flow state document, or nil.
	GetFlowState(ctx context.Context, conversationID string) ([]byte, error)
	SaveFlowState(ctx context.Context, conversationID string, state []byte) error
	ClearFlowState(ctx context.Context, conversationID string) error

	CreateBooking(ctx context.Context, b *models.Booking) error
	// ListBookedSlots returns the bookings of a tenant on a YYYY-MM-DD date,
	// ordered by start time.
	ListBookedSlots(ctx context.Context, tenantID, date string) ([]models.BookedSlot, error)
	CreateLead(ctx context.Context, l *models.Lead) error
	GetOrder(ctx context.Context, tenantID, reference string) (*models.Order, error)
	SaveOrder(ctx context.Context, o models.Order) error

	Close() error
}

// PendingSend is a failed outbound message with the addresses needed to resend it.
type PendingSend struct {
	Message models.Message
	To      string
	From    string
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store selected by the DSN. An empty DSN yields an InMemoryStore.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
