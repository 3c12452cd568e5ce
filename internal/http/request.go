package http

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"taskhub/internal/service"
)

const dateLayout = "2006-01-02"

// nullableID distinguishes an absent field, an explicit null and a value.
type nullableID struct {
	Set   bool
	Valid bool
	Value int64
}

func (n *nullableID) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n nullableID) optional() service.OptionalID {
	if !n.Set {
		return service.OptionalID{}
	}
	if !n.Valid {
		return service.OptionalID{Set: true}
	}
	v := n.Value
	return service.OptionalID{Set: true, Value: &v}
}

// dueDate accepts RFC 3339 timestamps and plain dates.
type dueDate struct {
	time.Time
}

func (d *dueDate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &fieldError{Field: "due_date", Message: "expected a date string"}
	}
	t, ok := parseTime(raw)
	if !ok {
		return &fieldError{Field: "due_date", Message: "use RFC 3339 or YYYY-MM-DD"}
	}
	d.Time = t
	return nil
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
