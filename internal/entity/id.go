// Package entity defines the records managed through the console and the
// helpers used to validate and display them.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a server-assigned record id. The backend may send it as a JSON
// number or a string; numeric ids are written back as numbers.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether no id has been assigned.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	return marshalScalar(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	s, err := unmarshalScalar(b)
	if err != nil {
		return fmt.Errorf("entity id: %w", err)
	}
	*id = ID(s)
	return nil
}

// Decimal is a free-form numeric value (coordinates) that the backend may
// send as a number or a string.
type Decimal string

func (d Decimal) MarshalJSON() ([]byte, error) {
	return marshalScalar(string(d))
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s, err := unmarshalScalar(b)
	if err != nil {
		return fmt.Errorf("entity decimal: %w", err)
	}
	*d = Decimal(s)
	return nil
}

func marshalScalar(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func unmarshalScalar(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
