package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is the base chat message exchanged with the backend.
type Message struct {
	ID        string `json:"id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	Kind      string `json:"kind,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // ms since epoch
}

// ConfirmedMessage is a message bearing a server-issued id and timestamp.
// It is produced either by reconciling an optimistic message against a
// confirmation frame, or synthesized directly from an unmatched frame.
type ConfirmedMessage struct {
	ID          string `json:"id"`
	TempID      string `json:"temp_id,omitempty"` // empty when synthesized
	ThreadID    string `json:"thread_id,omitempty"`
	Sender      string `json:"sender,omitempty"`
	Content     string `json:"content"`
	Kind        string `json:"kind,omitempty"`
	Timestamp   int64  `json:"timestamp"`    // server timestamp (ms)
	ConfirmedAt int64  `json:"confirmed_at"` // local receive time (ms)
	Synthesized bool   `json:"synthesized,omitempty"`
}

// NewTempID returns a client-local identifier for an optimistic message.
func NewTempID() string {
	return "tmp-" + uuid.NewString()
}

// NewQueueID returns an identifier for a queued outbound item.
func NewQueueID() string {
	return uuid.NewString()
}

// NowMillis returns the current wall clock in milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
