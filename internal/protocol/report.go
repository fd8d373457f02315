package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// #region report

// Report claims that a window of private-protocol traffic has been translated.
// It is a value: once built it is only ever changed by ClampConfidence.
type Report struct {
	AgentID         string   `json:"agent_id"`
	ProtocolName    string   `json:"protocol_name"`
	ProtocolVersion string   `json:"protocol_version"`
	WindowStartTS   float64  `json:"window_start_ts"`
	WindowEndTS     float64  `json:"window_end_ts"`
	MessageIDs      []string `json:"message_ids"`
	EnglishSummary  string   `json:"english_summary"`
	Coverage        float64  `json:"coverage"`
	SelfConfidence  float64  `json:"self_confidence"`
	Notes           string   `json:"notes"`
}

// Key returns the protocol key the report covers.
func (r Report) Key() Key {
	return Key{Name: r.ProtocolName, Version: r.ProtocolVersion}
}

// ClampConfidence lowers SelfConfidence to score when score is smaller.
// Confidence is never raised.
func (r *Report) ClampConfidence(score float64) {
	if score < r.SelfConfidence {
		r.SelfConfidence = clamp01(score)
	}
}

// #endregion report

// #region buffered-message

// BufferedMessage is one unreported unit of private-protocol traffic.
type BufferedMessage struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
	RawText   string    `json:"raw_text"`
}

// NewBufferedMessage stamps content with a fingerprint derived from the
// sequence number, the send time, and the content itself. The sequence number
// keeps identical content sent within one clock tick distinct.
func NewBufferedMessage(seq uint64, at time.Time, content string) BufferedMessage {
	return BufferedMessage{
		Seq:       seq,
		Timestamp: at,
		MessageID: Fingerprint(seq, at, content),
		RawText:   content,
	}
}

// Fingerprint returns the hex SHA-256 of seq, unix nanoseconds, and content.
func Fingerprint(seq uint64, at time.Time, content string) string {
	var prefix [16]byte
	binary.BigEndian.PutUint64(prefix[:8], seq)
	binary.BigEndian.PutUint64(prefix[8:], uint64(at.UnixNano()))
	h := sha256.New()
	h.Write(prefix[:])
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// #endregion buffered-message

// #region helpers

// UnixSeconds converts t to fractional unix seconds, the report wire format.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds is the inverse of UnixSeconds at microsecond precision.
func FromUnixSeconds(ts float64) time.Time {
	return time.UnixMicro(int64(ts * 1e6))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
