package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/dliang/chatlink/internal/model"
)

// Status is the reconciliation state of an optimistic message. It moves
// monotonically from pending to exactly one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Strategy selects how confirmations are matched to optimistic messages.
type Strategy string

const (
	StrategyContent   Strategy = "content"
	StrategyTimestamp Strategy = "timestamp"
	StrategyHybrid    Strategy = "hybrid"
)

// OptimisticMessage is a locally predicted message awaiting backend
// confirmation.
type OptimisticMessage struct {
	model.Message

	TempID              string
	OptimisticTimestamp int64 // ms since epoch
	ContentHash         string
	Status              Status
	Seq                 int64
	RetryCount          int

	sentAt time.Time
}

// Confirmation is the payload of an inbound confirmation frame.
type Confirmation struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	Kind      string `json:"kind,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // ms since epoch
}

// ParseConfirmation decodes a confirmation payload, falling back to the
// envelope timestamp when the payload carries none.
func ParseConfirmation(payload []byte, envelopeTimestamp int64) (Confirmation, error) {
	var c Confirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return Confirmation{}, err
	}
	if c.Timestamp == 0 {
		c.Timestamp = envelopeTimestamp
	}
	return c, nil
}

// MatchResult reports the outcome of one matching attempt.
type MatchResult struct {
	Found      bool
	Message    *OptimisticMessage
	Confidence float64
	Strategy   Strategy
}

// Config configures the reconciliation engine.
type Config struct {
	Strategy            Strategy
	Timeout             time.Duration // per-message confirmation budget
	MaxRetries          int           // timeout retry budget
	TimestampWindow     time.Duration // timestamp-strategy tolerance
	PreserveOrder       bool          // sort confirmed output by timestamp
	SynthesizeUnmatched bool          // synthesize messages for unmatched frames
	CleanupInterval     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyHybrid,
		Timeout:             10 * time.Second,
		MaxRetries:          3,
		TimestampWindow:     2 * time.Second,
		PreserveOrder:       true,
		SynthesizeUnmatched: true,
		CleanupInterval:     30 * time.Second,
	}
}

// HashContent returns the canonical content hash used by the content
// strategy: SHA-256 of the whitespace-trimmed text.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
