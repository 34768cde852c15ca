package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore keeps everything in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu            sync.RWMutex
	tenants       map[string]models.TenantProfile
	conversations map[string]models.Conversation
	messages      []models.Message
	flowStates    map[string][]byte
	bookings      []models.Booking
	leads         []models.Lead
	orders        map[string]models.Order
	inbound       map[string]DedupRecord

	// TenantLookups counts GetTenantByAddress calls; used by tests.
	TenantLookups int
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tenants:       make(map[string]models.TenantProfile),
		conversations: make(map[string]models.Conversation),
		flowStates:    make(map[string][]byte),
		orders:        make(map[string]models.Order),
		inbound:       make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) GetTenantByAddress(ctx context.Context, address string) (*models.TenantProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TenantLookups++
	for _, t := range s.tenants {
		if t.Address == address {
			p := t
			return &p, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.TenantProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) SaveTenant(ctx context.Context, profile models.TenantProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[profile.ID] = profile
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, tenantID, customerAddress string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.TenantID == tenantID && c.CustomerAddress == customerAddress {
			conv := c
			return &conv, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	s.conversations[conv.ID] = *conv
	return nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *InMemoryStore) UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, channelMessageID string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Status = status
			if channelMessageID != "" {
				s.messages[i].ChannelMessageID = channelMessageID
			}
			s.messages[i].SendAttempts = attempts
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) ListFailedOutbound(ctx context.Context, maxAttempts, limit int) ([]PendingSend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PendingSend
	for _, m := range s.messages {
		if m.Direction != models.DirectionOutbound || m.Status != models.MessageStatusFailed || m.SendAttempts >= maxAttempts {
			continue
		}
		conv, ok := s.conversations[m.ConversationID]
		if !ok {
			continue
		}
		tenant := s.tenants[conv.TenantID]
		out = append(out, PendingSend{Message: m, To: conv.CustomerAddress, From: tenant.Address})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetFlowState(ctx context.Context, conversationID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.flowStates[conversationID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *InMemoryStore) SaveFlowState(ctx context.Context, conversationID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[conversationID] = append([]byte(nil), state...)
	return nil
}

func (s *InMemoryStore) ClearFlowState(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, conversationID)
	return nil
}

func (s *InMemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	s.bookings = append(s.bookings, *b)
	return nil
}

// Bookings returns a copy of all bookings.
func (s *InMemoryStore) Bookings() []models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Booking(nil), s.bookings...)
}

func (s *InMemoryStore) ListBookedSlots(ctx context.Context, tenantID, date string) ([]models.BookedSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var slots []models.BookedSlot
	for _, b := range s.bookings {
		if b.TenantID == tenantID && b.Date == date {
			slots = append(slots, models.BookedSlot{Time: b.Time, DurationMinutes: b.DurationMinutes, ServiceID: b.ServiceID})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

func (s *InMemoryStore) CreateLead(ctx context.Context, l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.leads = append(s.leads, *l)
	return nil
}

// Leads returns a copy of all leads.
func (s *InMemoryStore) Leads() []models.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Lead(nil), s.leads...)
}

func (s *InMemoryStore) GetOrder(ctx context.Context, tenantID, reference string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[tenantID+"/"+reference]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *InMemoryStore) SaveOrder(ctx context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	s.orders[o.TenantID+"/"+o.Reference] = o
	return nil
}

func (s *InMemoryStore) RecordInbound(messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) ForgetInbound(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inbound, messageID)
	return nil
}

func (s *InMemoryStore) PurgeInbound(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(before) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
