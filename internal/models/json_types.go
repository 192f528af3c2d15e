package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Attachments holds the raw attachments payload of a message. It is stored
// as JSONB and passed through untouched.
type Attachments json.RawMessage

// MarshalJSON writes the raw payload, or null when empty.
func (a Attachments) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return []byte(a), nil
}

// UnmarshalJSON keeps a copy of the raw payload.
func (a *Attachments) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = nil
		return nil
	}
	*a = append((*a)[:0], b...)
	return nil
}

// Value implements driver.Valuer. The payload is sent as text so the
// driver does not encode it as bytea.
func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	if !json.Valid(a) {
		return nil, fmt.Errorf("attachments: invalid JSON payload")
	}
	return string(a), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = nil
	case []byte:
		*a = append(Attachments(nil), v...)
	case string:
		*a = Attachments(v)
	default:
		return fmt.Errorf("attachments: cannot scan %T", src)
	}
	return nil
}
