// Package event defines the change envelope delivered by change feeds.
// A Change describes one row-level mutation on a logical resource.
package event

import (
	"bytes"
	"campus-sync/errors"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// Change is the feed event schema: {eventType, table, payload}.
// ReceivedAt is stamped locally on arrival and is never used for ordering.
type Change struct {
	Type       ChangeType     `json:"eventType"`
	Table      string         `json:"table"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"-"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s", c.Type, c.Table)
}

// ParseChange decodes a JSON encoded change as sent by the transports.
// The event type is matched case-insensitively.
func ParseChange(data []byte) (Change, error) {
	var c Change
	decoder := json.NewDecoder(bytes.NewReader(data))
	// Keep numbers exact, balances must not go through float64.
	decoder.UseNumber()
	if err := decoder.Decode(&c); err != nil {
		return Change{}, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	c.Type = ChangeType(strings.ToUpper(string(c.Type)))
	switch c.Type {
	case Insert, Update, Delete:
	default:
		return Change{}, fmt.Errorf("%w: event type %q", errors.ErrUnknownChange, c.Type)
	}
	if c.Table == "" {
		return Change{}, fmt.Errorf("%w: missing table", errors.ErrInvalidPayload)
	}
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
	c.ReceivedAt = time.Now().UTC()
	return c, nil
}

// MarshalChange is the inverse of ParseChange.
func MarshalChange(c Change) ([]byte, error) {
	return json.Marshal(c)
}

// Text returns the payload field as a string, empty when absent.
func (c Change) Text(key string) string {
	switch v := c.Payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether the payload carries the given field.
func (c Change) Has(key string) bool {
	_, ok := c.Payload[key]
	return ok
}

// Time parses an RFC3339 payload field.
func (c Change) Time(key string) (time.Time, error) {
	raw := c.Text(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: missing %s", errors.ErrInvalidPayload, key)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errors.ErrInvalidPayload, key, err)
	}
	return t.UTC(), nil
}
