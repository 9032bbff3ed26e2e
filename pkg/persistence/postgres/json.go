package postgres

import (
	"encoding/json"
	"fmt"
)

// marshalJSON converts a nested value into a JSONB column value. Nil-ish
// values become SQL NULL so partially populated rows stay compact.
func marshalJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}

	if string(data) == "null" {
		return nil, nil
	}

	return data, nil
}

// unmarshalJSON decodes a JSONB column into target, leaving target untouched
// for NULL columns.
func unmarshalJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}

	return nil
}
