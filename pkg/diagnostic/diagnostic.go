// Package diagnostic defines the diagnostic model shared by every analysis
// stage. Each diagnostic is tagged with the stage that produced it so the
// client can filter outer-syntax problems from resolver hints from embedded
// grammar findings.
package diagnostic

import (
	"fmt"

	"github.com/koxudaxi/t-linter/pkg/position"
)

// Severity is the severity level of a diagnostic.
type Severity string

const (
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
	Hint    Severity = "hint"
)

// Stage identifies which part of the pipeline produced a diagnostic.
type Stage string

const (
	// StagePython covers outer-grammar parse problems.
	StagePython Stage = "python"
	// StageResolve covers language-tag resolution findings.
	StageResolve Stage = "resolve"
	// StageEmbedded covers embedded-grammar findings.
	StageEmbedded Stage = "embedded"
)

// Diagnostic is a single finding scoped to a byte span.
type Diagnostic struct {
	Span     position.Span
	Severity Severity
	Stage    Stage
	Message  string
}

func New(span position.Span, severity Severity, stage Stage, format string, args ...any) Diagnostic {
	return Diagnostic{
		Span:     span,
		Severity: severity,
		Stage:    stage,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Source is the diagnostic source string sent over the wire.
func (d Diagnostic) Source() string {
	return "t-linter/" + string(d.Stage)
}

// Shift returns the diagnostic with its span moved by delta bytes.
func (d Diagnostic) Shift(delta int) Diagnostic {
	d.Span = d.Span.Shift(delta)
	return d
}

// HasErrors reports whether any diagnostic in ds is an error.
func HasErrors(ds []Diagnostic) bool {
	for _, d := range ds {
		if d.Severity == Error {
			return true
		}
	}
	return false
}
