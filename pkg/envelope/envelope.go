// Package envelope implements the result envelope: a typed
// success/error union carrying diagnostics, suggestions, metrics, and
// provenance.
package envelope

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Severity is a diagnostic's severity level.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Priority is a suggestion's priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Diagnostic is a single advisory note attached to an envelope.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Suggestion is an actionable remediation attached to an envelope,
// optionally carrying a JSON-Patch document.
type Suggestion struct {
	Priority  Priority        `json:"priority"`
	Message   string          `json:"message"`
	Rationale string          `json:"rationale,omitempty"`
	Patch     json.RawMessage `json:"patch,omitempty"`
}

// DecodedPatch parses s.Patch as a JSON-Patch document. It returns nil,
// nil when the suggestion carries no patch.
func (s Suggestion) DecodedPatch() (jsonpatch.Patch, error) {
	if len(s.Patch) == 0 {
		return nil, nil
	}
	p, err := jsonpatch.DecodePatch(s.Patch)
	if err != nil {
		return nil, fmt.Errorf("envelope: decoding suggestion patch: %w", err)
	}
	return p, nil
}

// ResultError is the error half of Result's discriminated union.
type ResultError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Result is the success/error union at the heart of an envelope.
type Result struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
}

// Provenance identifies where an envelope's result originated.
type Provenance struct {
	Source   string `json:"source"`
	Version  string `json:"version"`
	Instance string `json:"instance"`
}

// Envelope is the full structured result carrier.
type Envelope struct {
	Result      Result         `json:"result"`
	Diagnostics []Diagnostic   `json:"diagnostics"`
	Suggestions []Suggestion   `json:"suggestions"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Provenance  *Provenance    `json:"provenance,omitempty"`
}

// Builder assembles an Envelope field by field. The zero value is
// ready to use.
type Builder struct {
	env Envelope
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{env: Envelope{Diagnostics: []Diagnostic{}, Suggestions: []Suggestion{}}}
}

// Success sets the result to a success carrying data.
func (b *Builder) Success(data any) *Builder {
	b.env.Result = Result{Success: true, Data: data}
	return b
}

// Error sets the result to an error with message and an optional code.
func (b *Builder) Error(message, code string) *Builder {
	b.env.Result = Result{Success: false, Error: &ResultError{Message: message, Code: code}}
	return b
}

// Diagnostic appends a diagnostic note.
func (b *Builder) Diagnostic(severity Severity, message string) *Builder {
	b.env.Diagnostics = append(b.env.Diagnostics, Diagnostic{Severity: severity, Message: message})
	return b
}

// Suggestion appends a suggestion.
func (b *Builder) Suggestion(s Suggestion) *Builder {
	b.env.Suggestions = append(b.env.Suggestions, s)
	return b
}

// WithMetrics sets the metrics map.
func (b *Builder) WithMetrics(m map[string]any) *Builder {
	b.env.Metrics = m
	return b
}

// WithProvenance sets the provenance.
func (b *Builder) WithProvenance(p Provenance) *Builder {
	b.env.Provenance = &p
	return b
}

// Build returns the assembled Envelope. Validation is never implicit;
// call Validate explicitly.
func (b *Builder) Build() Envelope {
	return b.env
}
