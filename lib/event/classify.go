// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "slices"

// DefaultCriticalTypes are dispatched immediately. "page_view" is the
// explicit page-view type; camel-case variants such as "pageView" are
// ordinary batched events unless configured here.
var DefaultCriticalTypes = []string{"error", "purchase", "checkout", "page_view"}

// DefaultLowPriorityTypes are deferred to idle time.
var DefaultLowPriorityTypes = []string{"resource"}

// Classifier assigns priorities by event type. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	critical map[string]struct{}
	low      map[string]struct{}
}

// NewClassifier builds a classifier. A type listed in both sets is
// critical.
func NewClassifier(critical, low []string) *Classifier {
	c := &Classifier{
		critical: make(map[string]struct{}, len(critical)),
		low:      make(map[string]struct{}, len(low)),
	}
	for _, eventType := range critical {
		c.critical[eventType] = struct{}{}
	}
	for _, eventType := range low {
		if _, ok := c.critical[eventType]; !ok {
			c.low[eventType] = struct{}{}
		}
	}
	return c
}

// IsCritical reports whether eventType is in the critical set.
func (c *Classifier) IsCritical(eventType string) bool {
	_, ok := c.critical[eventType]
	return ok
}

// Urgent reports whether a record must take the immediate path.
// Critical types are urgent whatever the caller passed as immediate.
func (c *Classifier) Urgent(eventType string, immediate bool) bool {
	return immediate || c.IsCritical(eventType)
}

// Classify returns the tier for a new record. An explicit priority
// from the caller wins for non-urgent records.
func (c *Classifier) Classify(eventType string, immediate bool, explicit *Priority) Priority {
	if c.Urgent(eventType, immediate) {
		return PriorityHigh
	}
	if explicit != nil && explicit.Valid() {
		return *explicit
	}
	if _, ok := c.low[eventType]; ok {
		return PriorityLow
	}
	return PriorityMedium
}

// CriticalTypes returns the critical set, sorted.
func (c *Classifier) CriticalTypes() []string {
	return sortedKeys(c.critical)
}

// LowPriorityTypes returns the low-priority set, sorted.
func (c *Classifier) LowPriorityTypes() []string {
	return sortedKeys(c.low)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
