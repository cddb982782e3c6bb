// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"time"
)

// Float reads a numeric option. YAML and JSON decoders produce
// different numeric types, so every integer and float type is
// accepted.
func (c *Context) Float(key string, fallback float64) float64 {
	switch value := c.Options[key].(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case uint64:
		return float64(value)
	default:
		return fallback
	}
}

// Duration reads an option written as a Go duration string ("30s") or
// a number of milliseconds.
func (c *Context) Duration(key string, fallback time.Duration) time.Duration {
	switch value := c.Options[key].(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return parsed
	case nil:
		return fallback
	default:
		milliseconds := c.Float(key, -1)
		if milliseconds < 0 {
			return fallback
		}
		return time.Duration(milliseconds * float64(time.Millisecond))
	}
}

// Strings reads a list option. Non-string elements are formatted.
func (c *Context) Strings(key string) []string {
	switch value := c.Options[key].(type) {
	case []string:
		return value
	case []any:
		result := make([]string, 0, len(value))
		for _, element := range value {
			if text, ok := element.(string); ok {
				result = append(result, text)
			} else {
				result = append(result, fmt.Sprint(element))
			}
		}
		return result
	default:
		return nil
	}
}
