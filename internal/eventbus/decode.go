package eventbus

import (
	"encoding/json"
	"fmt"
)

// Decode converts an event payload into out. Payloads arrive either as typed
// values from in-process producers or as raw JSON from the ingest endpoint.
func Decode(e Event, out any) error {
	var raw []byte
	switch v := e.Data.(type) {
	case nil:
		return fmt.Errorf("event %s: empty payload", e.Topic)
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("event %s: encode payload: %w", e.Topic, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("event %s: decode payload: %w", e.Topic, err)
	}
	return nil
}
