// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewAssignsIDAndAttemptCap(t *testing.T) {
	first := New("click", "buy-button", nil, PriorityMedium, epoch)
	second := New("click", "buy-button", nil, PriorityMedium, epoch)
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("IDs not unique: %q, %q", first.ID, second.ID)
	}
	if first.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", first.MaxAttempts, DefaultMaxAttempts)
	}
	if first.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", first.Attempts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		valid  bool
	}{
		{"well formed", func(*Event) {}, true},
		{"missing type", func(e *Event) { e.Type = "" }, false},
		{"missing id", func(e *Event) { e.ID = "" }, false},
		{"bad priority", func(e *Event) { e.Priority = Priority(9) }, false},
		{"zero max attempts", func(e *Event) { e.MaxAttempts = 0 }, false},
		{"unserializable data", func(e *Event) { e.Data = map[string]any{"fn": func() {}} }, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := New("click", "", map[string]any{"x": 1}, PriorityMedium, epoch)
			test.mutate(e)
			err := e.Validate()
			if test.valid && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !test.valid {
				if err == nil {
					t.Fatal("Validate accepted an invalid record")
				}
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("error %v does not wrap ErrInvalid", err)
				}
			}
		})
	}
}

func TestExhausted(t *testing.T) {
	e := New("click", "", nil, PriorityMedium, epoch)
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		e.Attempts++
		if e.Exhausted() {
			t.Fatalf("exhausted after %d attempts", e.Attempts)
		}
	}
	e.Attempts++
	if !e.Exhausted() {
		t.Fatalf("not exhausted after %d attempts", e.Attempts)
	}
}

func TestPriorityJSON(t *testing.T) {
	e := New("error", "boom", nil, PriorityHigh, epoch)
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"priority":"high"`) {
		t.Fatalf("priority not encoded as text: %s", data)
	}
	if !strings.Contains(string(data), `"eventType":"error"`) {
		t.Fatalf("eventType field missing: %s", data)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Priority != PriorityHigh {
		t.Errorf("decoded priority = %v", decoded.Priority)
	}

	if err := json.Unmarshal([]byte(`{"priority":"urgent"}`), &decoded); err == nil {
		t.Error("unknown priority accepted")
	}
}

func TestCloneIsolatesData(t *testing.T) {
	e := New("click", "", map[string]any{"a": 1}, PriorityMedium, epoch)
	clone := e.Clone()
	clone.Data["a"] = 2
	clone.Attempts = 2
	if e.Data["a"] != 1 || e.Attempts != 0 {
		t.Fatal("mutating the clone changed the original")
	}
}

func TestCopyDataIsDeep(t *testing.T) {
	original := map[string]any{
		"cart":  map[string]any{"items": []any{map[string]any{"sku": "a"}}},
		"count": 1,
	}
	copied := CopyData(original)
	copied["count"] = 2
	copied["cart"].(map[string]any)["items"].([]any)[0].(map[string]any)["sku"] = "b"

	if original["count"] != 1 {
		t.Errorf("count = %v", original["count"])
	}
	if sku := original["cart"].(map[string]any)["items"].([]any)[0].(map[string]any)["sku"]; sku != "a" {
		t.Errorf("nested sku = %v, want a", sku)
	}
	if CopyData(nil) != nil {
		t.Error("CopyData(nil) should stay nil")
	}
}

func TestClassifier(t *testing.T) {
	classifier := NewClassifier(DefaultCriticalTypes, DefaultLowPriorityTypes)
	low := PriorityLow

	tests := []struct {
		name      string
		eventType string
		immediate bool
		explicit  *Priority
		want      Priority
		urgent    bool
	}{
		{"critical without immediate flag", "error", false, nil, PriorityHigh, true},
		{"critical ignores explicit priority", "purchase", false, &low, PriorityHigh, true},
		{"page_view is critical", "page_view", false, nil, PriorityHigh, true},
		{"pageView is batched", "pageView", false, nil, PriorityMedium, false},
		{"immediate flag escalates", "click", true, nil, PriorityHigh, true},
		{"low type deferred", "resource", false, nil, PriorityLow, false},
		{"explicit priority honoured", "click", false, &low, PriorityLow, false},
		{"default medium", "click", false, nil, PriorityMedium, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := classifier.Classify(test.eventType, test.immediate, test.explicit); got != test.want {
				t.Errorf("Classify = %v, want %v", got, test.want)
			}
			if got := classifier.Urgent(test.eventType, test.immediate); got != test.urgent {
				t.Errorf("Urgent = %v, want %v", got, test.urgent)
			}
		})
	}
}

func TestClassifierCriticalWinsOverLow(t *testing.T) {
	classifier := NewClassifier([]string{"error"}, []string{"error", "resource"})
	if got := classifier.LowPriorityTypes(); len(got) != 1 || got[0] != "resource" {
		t.Fatalf("LowPriorityTypes = %v, want [resource]", got)
	}
}

func TestApplyOptions(t *testing.T) {
	if got := Apply(); got.Immediate || got.Priority != nil {
		t.Fatalf("Apply() = %+v, want zero", got)
	}
	got := Apply(Immediate(), nil, WithPriority(PriorityLow))
	if !got.Immediate || got.Priority == nil || *got.Priority != PriorityLow {
		t.Fatalf("Apply = %+v", got)
	}
}
