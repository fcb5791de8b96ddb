package upstream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProviderError is a non-2xx answer from the completion provider.
type ProviderError struct {
	Status int
	Detail string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("Provider Error (%d): %s", e.Status, e.Detail)
}

const maxDetail = 1024

// errorDetail extracts a human-readable message from a provider error body.
// It understands {"error":{"message":...}}, {"error":"..."} and
// {"message":...}; anything else is returned as trimmed text.
func errorDetail(raw []byte, status string) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var flat string
			if json.Unmarshal(body.Error, &flat) == nil && flat != "" {
				return flat
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return status
	}
	if len(text) > maxDetail {
		text = text[:maxDetail] + "..."
	}
	return text
}
