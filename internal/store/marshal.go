package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/hygiene/internal/canon"
)

// marshalCanonical converts v to canonical JSON TEXT for storage.
func marshalCanonical(what string, v any) (string, error) {
	data, err := canon.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// marshalDetails stores nil and empty details alike as "{}".
func marshalDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	return marshalCanonical("details", details)
}

// unmarshalDetails is the inverse of marshalDetails. "{}" decodes to nil,
// which is what the driver records for a transition without details.
func unmarshalDetails(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
