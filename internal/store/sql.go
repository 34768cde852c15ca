package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/google/uuid"
)

// sqlStore implements Store on database/sql. Queries are written with '?'
// placeholders and rebound for drivers that use numbered parameters.
type sqlStore struct {
	db       *sql.DB
	name     string
	numbered bool
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) GetTenantByAddress(ctx context.Context, address string) (*models.TenantProfile, error) {
	return s.scanTenant(s.queryRow(ctx, `SELECT profile FROM tenants WHERE address = ?`, address))
}

func (s *sqlStore) GetTenant(ctx context.Context, tenantID string) (*models.TenantProfile, error) {
	return s.scanTenant(s.queryRow(ctx, `SELECT profile FROM tenants WHERE id = ?`, tenantID))
}

func (s *sqlStore) scanTenant(row *sql.Row) (*models.TenantProfile, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Error(s.name+".scanTenant: query failed", "error", err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	var p models.TenantProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode tenant profile: %w", err)
	}
	return &p, nil
}

func (s *sqlStore) SaveTenant(ctx context.Context, profile models.TenantProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode tenant profile: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO tenants (id, address, profile, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET address = excluded.address, profile = excluded.profile, updated_at = excluded.updated_at`,
		profile.ID, profile.Address, string(raw), time.Now())
	if err != nil {
		slog.Error(s.name+".SaveTenant failed", "error", err, "tenantID", profile.ID)
		return fmt.Errorf("failed to save tenant %s: %w", profile.ID, err)
	}
	slog.Debug(s.name+".SaveTenant succeeded", "tenantID", profile.ID)
	return nil
}

const conversationColumns = `id, tenant_id, customer_address, customer_name, status, active_flow, lead_status, lead_score, last_message_at, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var c models.Conversation
	var name, flow, leadStatus sql.NullString
	var score sql.NullInt64
	err := row.Scan(&c.ID, &c.TenantID, &c.CustomerAddress, &name, &c.Status, &flow, &leadStatus, &score,
		&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.CustomerName = name.String
	c.ActiveFlow = models.FlowType(flow.String)
	c.LeadStatus = leadStatus.String
	if score.Valid {
		v := int(score.Int64)
		c.LeadScore = &v
	}
	return &c, nil
}

func (s *sqlStore) GetConversation(ctx context.Context, tenantID, customerAddress string) (*models.Conversation, error) {
	c, err := scanConversation(s.queryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND customer_address = ?`,
		tenantID, customerAddress))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return c, nil
}

func (s *sqlStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(s.queryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *sqlStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = now
	}
	conv.UpdatedAt = now
	var score any
	if conv.LeadScore != nil {
		score = *conv.LeadScore
	}
	_, err := s.exec(ctx, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			customer_name = excluded.customer_name,
			status = excluded.status,
			active_flow = excluded.active_flow,
			lead_status = excluded.lead_status,
			lead_score = excluded.lead_score,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		conv.ID, conv.TenantID, conv.CustomerAddress, nilIfEmpty(conv.CustomerName), string(conv.Status),
		nilIfEmpty(string(conv.ActiveFlow)), nilIfEmpty(conv.LeadStatus), score,
		conv.LastMessageAt, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		slog.Error(s.name+".SaveConversation failed", "error", err, "conversationID", conv.ID)
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}
	return nil
}

const messageColumns = `id, conversation_id, direction, content, status, channel_message_id, intent, confidence, model_used, send_attempts, created_at`

func scanMessage(row interface{ Scan(...any) error }) (models.Message, error) {
	var m models.Message
	var channelID, intent, model sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Content, &m.Status, &channelID, &intent,
		&confidence, &model, &m.SendAttempts, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.ChannelMessageID = channelID.String
	m.Intent = models.Intent(intent.String)
	m.ModelUsed = model.String
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	return m, nil
}

func (s *sqlStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var confidence any
	if msg.Confidence != nil {
		confidence = *msg.Confidence
	}
	_, err := s.exec(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Direction), msg.Content, string(msg.Status),
		nilIfEmpty(msg.ChannelMessageID), nilIfEmpty(string(msg.Intent)), confidence, nilIfEmpty(msg.ModelUsed),
		msg.SendAttempts, msg.CreatedAt)
	if err != nil {
		slog.Error(s.name+".AppendMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to append message: %w", err)
	}
	slog.Debug(s.name+".AppendMessage succeeded", "conversationID", msg.ConversationID, "direction", msg.Direction)
	return nil
}

func (s *sqlStore) UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, channelMessageID string, attempts int) error {
	_, err := s.exec(ctx, `UPDATE messages SET status = ?, channel_message_id = COALESCE(?, channel_message_id), send_attempts = ?
		WHERE id = ? AND direction = 'outbound'`,
		string(status), nilIfEmpty(channelMessageID), attempts, id)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", id, err)
	}
	return nil
}

func (s *sqlStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqlStore) ListFailedOutbound(ctx context.Context, maxAttempts, limit int) ([]PendingSend, error) {
	rows, err := s.query(ctx, `SELECT m.id, m.conversation_id, m.direction, m.content, m.status, m.channel_message_id,
			m.intent, m.confidence, m.model_used, m.send_attempts, m.created_at, c.customer_address, t.address
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		JOIN tenants t ON t.id = c.tenant_id
		WHERE m.direction = 'outbound' AND m.status = 'failed' AND m.send_attempts < ?
		ORDER BY m.created_at LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed outbound messages: %w", err)
	}
	defer rows.Close()

	var out []PendingSend
	for rows.Next() {
		var p PendingSend
		var channelID, intent, model sql.NullString
		var confidence sql.NullFloat64
		m := &p.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Content, &m.Status, &channelID, &intent,
			&confidence, &model, &m.SendAttempts, &m.CreatedAt, &p.To, &p.From); err != nil {
			return nil, fmt.Errorf("failed to scan failed outbound row: %w", err)
		}
		m.ChannelMessageID = channelID.String
		m.Intent = models.Intent(intent.String)
		m.ModelUsed = model.String
		if confidence.Valid {
			v := confidence.Float64
			m.Confidence = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetFlowState(ctx context.Context, conversationID string) ([]byte, error) {
	var raw string
	err := s.queryRow(ctx, `SELECT state FROM flow_states WHERE conversation_id = ?`, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetFlowState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get flow state: %w", err)
	}
	return []byte(raw), nil
}

func (s *sqlStore) SaveFlowState(ctx context.Context, conversationID string, state []byte) error {
	_, err := s.exec(ctx, `INSERT INTO flow_states (conversation_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		conversationID, string(state), time.Now())
	if err != nil {
		slog.Error(s.name+".SaveFlowState failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	slog.Debug(s.name+".SaveFlowState succeeded", "conversationID", conversationID)
	return nil
}

func (s *sqlStore) ClearFlowState(ctx context.Context, conversationID string) error {
	if _, err := s.exec(ctx, `DELETE FROM flow_states WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to clear flow state: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO bookings (id, reference, tenant_id, conversation_id, service_id, service_name,
			slot_date, slot_time, duration_minutes, customer_name, customer_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Reference, b.TenantID, b.ConversationID, nilIfEmpty(b.ServiceID), nilIfEmpty(b.ServiceName),
		b.Date, b.Time, b.DurationMinutes, nilIfEmpty(b.CustomerName), nilIfEmpty(b.CustomerAddress), b.CreatedAt)
	if err != nil {
		slog.Error(s.name+".CreateBooking failed", "error", err, "tenantID", b.TenantID)
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (s *sqlStore) ListBookedSlots(ctx context.Context, tenantID, date string) ([]models.BookedSlot, error) {
	rows, err := s.query(ctx, `SELECT slot_time, duration_minutes, service_id FROM bookings
		WHERE tenant_id = ? AND slot_date = ? ORDER BY slot_time`, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query booked slots: %w", err)
	}
	defer rows.Close()
	var slots []models.BookedSlot
	for rows.Next() {
		var slot models.BookedSlot
		var serviceID sql.NullString
		if err := rows.Scan(&slot.Time, &slot.DurationMinutes, &serviceID); err != nil {
			return nil, fmt.Errorf("failed to scan booked slot: %w", err)
		}
		slot.ServiceID = serviceID.String
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *sqlStore) CreateLead(ctx context.Context, l *models.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO leads (id, tenant_id, conversation_id, kind, name, email, phone, need, details,
			budget, deadline, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.ConversationID, string(l.Kind), nilIfEmpty(l.Name), nilIfEmpty(l.Email), nilIfEmpty(l.Phone),
		nilIfEmpty(l.Need), nilIfEmpty(l.Details), nilIfEmpty(l.Budget), nilIfEmpty(l.Deadline), l.Score, l.CreatedAt)
	if err != nil {
		slog.Error(s.name+".CreateLead failed", "error", err, "tenantID", l.TenantID)
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

func (s *sqlStore) GetOrder(ctx context.Context, tenantID, reference string) (*models.Order, error) {
	var o models.Order
	var detail sql.NullString
	err := s.queryRow(ctx, `SELECT tenant_id, reference, status, detail, updated_at FROM orders WHERE tenant_id = ? AND reference = ?`,
		tenantID, reference).Scan(&o.TenantID, &o.Reference, &o.Status, &detail, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	o.Detail = detail.String
	return &o, nil
}

func (s *sqlStore) SaveOrder(ctx context.Context, o models.Order) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO orders (tenant_id, reference, status, detail, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, reference) DO UPDATE SET status = excluded.status, detail = excluded.detail, updated_at = excluded.updated_at`,
		o.TenantID, o.Reference, o.Status, nilIfEmpty(o.Detail), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + ".Close: closing database connection")
	return s.db.Close()
}
