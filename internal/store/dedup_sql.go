package store

import (
	"fmt"
	"time"
)

// Compile-time check that the SQL stores implement DedupRepo.
var _ DedupRepo = (*sqlStore)(nil)

func (s *sqlStore) RecordInbound(messageID, sender string) (bool, error) {
	res, err := s.db.Exec(
		s.rebind(`INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, sender, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) ForgetInbound(messageID string) error {
	if _, err := s.db.Exec(s.rebind(`DELETE FROM inbound_dedup WHERE message_id = ?`), messageID); err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}

func (s *sqlStore) PurgeInbound(before time.Time) (int64, error) {
	res, err := s.db.Exec(s.rebind(`DELETE FROM inbound_dedup WHERE received_at < ?`), before)
	if err != nil {
		return 0, fmt.Errorf("purge inbound failed: %w", err)
	}
	return res.RowsAffected()
}
