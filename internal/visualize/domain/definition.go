package domain

import (
	"bytes"
	"encoding/json"
)

// SourceSpan is the inclusive line range a machine definition occupies.
// Zero means the line is unknown.
type SourceSpan struct {
	StartLine int `json:"startLine,omitempty"`
	EndLine   int `json:"endLine,omitempty"`
}

// HasStart reports whether the start line is known.
func (s SourceSpan) HasStart() bool { return s.StartLine > 0 }

// HasEnd reports whether the end line is known.
func (s SourceSpan) HasEnd() bool { return s.EndLine > 0 }

// ExtractedDefinition is one machine definition found in a file. It only
// lives for the duration of a single Per-File Stage.
type ExtractedDefinition struct {
	Name   string          `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
	Span   SourceSpan      `json:"span"`
}

// HasConfig reports whether the extractor resolved a configuration.
func (d ExtractedDefinition) HasConfig() bool {
	c := bytes.TrimSpace(d.Config)
	return len(c) > 0 && !bytes.Equal(c, []byte("null"))
}

// Direction is the layout direction passed to the renderer.
type Direction string

const (
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
)
