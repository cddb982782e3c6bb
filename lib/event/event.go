// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the delivery attempt cap for a record.
const DefaultMaxAttempts = 3

// Priority is an urgency tier. Lower values are more urgent; the
// queue drains tiers in ascending order.
type Priority int

const (
	// PriorityHigh records are dispatched without waiting for a
	// periodic flush.
	PriorityHigh Priority = iota

	// PriorityMedium records are batched.
	PriorityMedium

	// PriorityLow records are deferred to idle time before they are
	// batched.
	PriorityLow
)

// Priorities lists every tier in drain order.
var Priorities = [...]Priority{PriorityHigh, PriorityMedium, PriorityLow}

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the three tiers.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ParsePriority parses a wire name.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Event is one telemetry record.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"eventType"`
	Name        string         `json:"name,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    Priority       `json:"priority"`
	CreatedAt   time.Time      `json:"createdAt"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"maxAttempts"`
}

// New creates a record with a fresh random ID and the default
// attempt cap.
func New(eventType, name string, data map[string]any, priority Priority, createdAt time.Time) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Name:        name,
		Data:        data,
		Priority:    priority,
		CreatedAt:   createdAt,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid event")

// Validate checks that the record can be delivered: it needs an ID, a
// type, a valid priority, and data that serializes as JSON.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalid)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: priority %d out of range", ErrInvalid, int(e.Priority))
	}
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("%w: maxAttempts must be positive", ErrInvalid)
	}
	if len(e.Data) > 0 {
		if _, err := json.Marshal(e.Data); err != nil {
			return fmt.Errorf("%w: data for %q is not serializable: %v", ErrInvalid, e.Type, err)
		}
	}
	return nil
}

// Exhausted reports whether the record has used all its attempts.
func (e *Event) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// Clone returns a copy whose Data can be mutated independently.
func (e *Event) Clone() *Event {
	clone := *e
	clone.Data = CopyData(e.Data)
	return &clone
}

// CopyData copies data along with every nested map[string]any and
// []any inside it. Other values are shared. A nil map stays nil.
func CopyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	copied := make(map[string]any, len(data))
	for key, value := range data {
		copied[key] = copyValue(value)
	}
	return copied
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CopyData(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, item := range typed {
			copied[i] = copyValue(item)
		}
		return copied
	default:
		return value
	}
}

// IDs returns the IDs of events, in order. Used for log attributes.
func IDs(events []*Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
