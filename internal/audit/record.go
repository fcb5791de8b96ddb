// Package audit persists scrubbed conversations for later review.
//
// Records are JSON, wrapped in URL-safe base64 before they reach a Sink.
// The wrapping is NOT encryption: anyone holding a blob can read it with
// Decode. It marks the seam where a real cipher belongs and keeps blobs
// text-safe for log lines and TEXT columns. Only scrubbed messages are
// accepted, so a blob never holds raw patient content.
package audit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"clinical-chat-gateway/internal/conversation"
)

// Meta describes the request a record came from.
type Meta struct {
	SavedAt    time.Time      `json:"savedAt"`
	Persona    string         `json:"persona"`
	Empathy    string         `json:"empathy,omitempty"`
	Escalated  bool           `json:"escalated"`
	RedFlags   []string       `json:"redFlags,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
	Redactions map[string]int `json:"redactions,omitempty"`
}

// Record is one audited conversation.
type Record struct {
	ID       string                 `json:"id"`
	Messages []conversation.Message `json:"messages"`
	Meta     Meta                   `json:"meta"`
}

// Obscure applies the reversible placeholder encoding. Not encryption.
func Obscure(plain []byte) string {
	return base64.URLEncoding.EncodeToString(plain)
}

// Reveal undoes Obscure.
func Reveal(blob string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode audit blob: %w", err)
	}
	return b, nil
}

// Encode serializes rec and obscures it.
func Encode(rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal audit record: %w", err)
	}
	return Obscure(data), nil
}

// Decode reverses Encode.
func Decode(blob string) (Record, error) {
	data, err := Reveal(blob)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal audit record: %w", err)
	}
	return rec, nil
}
