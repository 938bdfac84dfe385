package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Direction of a message relative to the AI endpoint.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MainLine formats a record for the main and ai-generated streams:
// a human-readable pipe-separated line.
func MainLine(ts time.Time, sessionID, direction, status, content string) []byte {
	return []byte(fmt.Sprintf("%s | %s | %s | %s | %s",
		ts.UTC().Format(time.RFC3339), sessionID, direction, status, content))
}

// AnalyticsRecord is one metadata-analytics entry. It carries sizes
// and cache behavior only, never message content.
type AnalyticsRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Direction string         `json:"direction"`
	Metadata  AnalyticsStats `json:"metadata"`
}

// AnalyticsStats is the nested stats object of an AnalyticsRecord.
type AnalyticsStats struct {
	CompressedSize   int     `json:"compressed_size"`
	DecompressedSize int     `json:"decompressed_size"`
	Ratio            float64 `json:"ratio"`
	CacheHit         bool    `json:"cache_hit"`
	Speedup          float64 `json:"speedup"`
}

// Encode serializes the record as a single JSON line payload.
func (r AnalyticsRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// SafetyRecord is one safety-alerts entry.
type SafetyRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	ModerationAction string    `json:"moderation_action"`
	SafetyCheck      string    `json:"safety_check"`
}

// Encode serializes the record as a single JSON line payload.
func (r SafetyRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// tombstone is a redaction entry. Redaction never rewrites history:
// the tombstone is appended through the same chain as any other
// record, and readers substitute the marker for the target's
// content. The original bytes stay in place so chain verification
// keeps working.
type tombstone struct {
	Tombstone bool   `json:"tombstone"`
	Redacts   uint64 `json:"redacts"`
	Reason    string `json:"reason"`
}

// RedactedMarker replaces redacted content on export.
const RedactedMarker = "[redacted]"

// Stored payloads are one line each; escape the byte values that
// would break the line framing.
var (
	payloadEscaper   = strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\r", "\\r", "\t", "\\t")
	payloadUnescaper = strings.NewReplacer("\\n", "\n", "\\r", "\r", "\\t", "\t", "\\\\", "\\")
)

func escapePayload(p []byte) []byte   { return []byte(payloadEscaper.Replace(string(p))) }
func unescapePayload(p string) string { return payloadUnescaper.Replace(p) }
