package sqlbase

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes value for a JSONB column. Nil maps and slices become NULL.
func MarshalJSON(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}

	if string(data) == "null" {
		return nil, nil
	}

	return data, nil
}

// UnmarshalJSON decodes a JSONB column into target. NULL leaves target untouched.
func UnmarshalJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}

	return nil
}
