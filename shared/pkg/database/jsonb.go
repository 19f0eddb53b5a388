package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB is a raw JSON document with DB compatibility for jsonb columns.
type JSONB json.RawMessage

// Value implements the driver.Valuer interface for database serialization.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("invalid json payload")
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan jsonb value: %v", value)
	}
	return nil
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}
