// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package diag carries non-fatal decode conditions to a diagnostics sink.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Severity grades a diagnostic.
type Severity int

const (
	// Note is informational.
	Note Severity = iota

	// Warning marks a protocol condition that does not stop decoding.
	Warning

	// Error marks the fatal condition that stopped decoding a message.
	Error
)

// String returns a string representation of the severity.
func (s Severity) String() string {
	switch s {
	case Note:
		return "note"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Kind identifies the condition being reported.
type Kind int

const (
	KindUnknownOption Kind = iota + 1
	KindLengthOutOfRange
	KindSecurityUnsupported
	KindSecurityMissingKeyID
	KindMalformed
)

var kindNames = map[Kind]string{
	KindUnknownOption:        "unknown_option",
	KindLengthOutOfRange:     "length_out_of_range",
	KindSecurityUnsupported:  "security_unsupported_format",
	KindSecurityMissingKeyID: "security_missing_key_id",
	KindMalformed:            "malformed",
}

// String returns the metric-friendly name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Diagnostic is a single reported condition.
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	Offset   int // Byte offset of the element it concerns
	Option   int // 1-based option index, 0 when not option-scoped
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Sink consumes diagnostics.
type Sink interface {
	Report(d Diagnostic)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(d Diagnostic)

// Report calls f(d).
func (f SinkFunc) Report(d Diagnostic) {
	f(d)
}

// Discard drops every diagnostic.
var Discard Sink = SinkFunc(func(Diagnostic) {})

// Recorder keeps every reported diagnostic in order.
type Recorder struct {
	mu    sync.Mutex
	diags []Diagnostic
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Report(d Diagnostic) {
	r.mu.Lock()
	r.diags = append(r.diags, d)
	r.mu.Unlock()
}

// Diagnostics returns a copy of what was recorded so far.
func (r *Recorder) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

// Count returns how many recorded diagnostics have the given kind.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.diags {
		if d.Kind == k {
			n++
		}
	}
	return n
}

type logSink struct {
	logger *slog.Logger
}

// NewLogSink returns a Sink writing each diagnostic to logger.
// Warnings and errors log at warn level, notes at info level.
func NewLogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &logSink{logger: logger}
}

func (s *logSink) Report(d Diagnostic) {
	level := slog.LevelInfo
	if d.Severity >= Warning {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, d.Message,
		slog.String("severity", d.Severity.String()),
		slog.String("kind", d.Kind.String()),
		slog.Int("offset", d.Offset),
		slog.Int("option", d.Option))
}
