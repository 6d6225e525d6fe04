package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// ToJSONB converts any JSON-serializable value into a JSONB map.
// Values that do not serialize to an object are wrapped under "value".
func ToJSONB(v interface{}) JSONB {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := JSONB{}
	if err := json.Unmarshal(raw, &out); err != nil {
		var scalar interface{}
		if json.Unmarshal(raw, &scalar) == nil {
			return JSONB{"value": scalar}
		}
		return nil
	}
	return out
}
