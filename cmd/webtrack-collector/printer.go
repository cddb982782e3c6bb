// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/webtrack/lib/event"
)

// maxDataWidth truncates printed event data.
const maxDataWidth = 96

// printer writes accepted batches as styled lines. Colors are used
// only when the writer is a terminal that supports them.
type printer struct {
	mu     sync.Mutex
	output io.Writer

	header    lipgloss.Style
	timestamp lipgloss.Style
	faint     lipgloss.Style
	priority  map[event.Priority]lipgloss.Style
}

func newPrinter(output io.Writer) *printer {
	renderer := lipgloss.NewRenderer(output)
	return &printer{
		output:    output,
		header:    renderer.NewStyle().Bold(true),
		timestamp: renderer.NewStyle().Foreground(lipgloss.Color("8")),
		faint:     renderer.NewStyle().Faint(true),
		priority: map[event.Priority]lipgloss.Style{
			event.PriorityHigh:   renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Width(6),
			event.PriorityMedium: renderer.NewStyle().Foreground(lipgloss.Color("11")).Width(6),
			event.PriorityLow:    renderer.NewStyle().Foreground(lipgloss.Color("12")).Width(6),
		},
	}
}

// Batch prints one header line and one line per event.
func (p *printer) Batch(receivedAt time.Time, transport string, records []storedEvent) {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s %s\n",
		p.timestamp.Render(receivedAt.Format("15:04:05.000")),
		p.header.Render(fmt.Sprintf("%s batch, %d event(s)", transport, len(records))),
	)
	for _, record := range records {
		style, ok := p.priority[record.Priority]
		if !ok {
			style = p.faint
		}
		line := fmt.Sprintf("  %s %s", style.Render(strings.ToUpper(record.Priority.String())), record.Type)
		if record.Name != "" {
			line += " " + record.Name
		}
		if record.Attempts > 0 {
			line += p.faint.Render(fmt.Sprintf(" (attempt %d)", record.Attempts+1))
		}
		if data := summarize(record.Data); data != "" {
			line += " " + p.faint.Render(data)
		}
		builder.WriteString(line)
		builder.WriteByte('\n')
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.output, builder.String())
}

func summarize(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	text := string(encoded)
	if len(text) > maxDataWidth {
		text = text[:maxDataWidth-3] + "..."
	}
	return text
}
