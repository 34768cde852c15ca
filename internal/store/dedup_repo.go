package store

import (
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
}

// DedupRepo defines the interface for durable inbound message deduplication.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate). The check and insert are atomic.
	RecordInbound(messageID, sender string) (bool, error)

	// ForgetInbound removes a record so that a redelivery is processed again.
	ForgetInbound(messageID string) error

	// PurgeInbound deletes records received before the cutoff and returns how many were removed.
	PurgeInbound(before time.Time) (int64, error)
}
