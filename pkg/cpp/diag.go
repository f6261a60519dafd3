package cpp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPreprocess is wrapped by the error a session returns when any error
// diagnostic was reported.
var ErrPreprocess = errors.New("preprocessing failed")

// ErrResource marks failures of the underlying I/O primitive. They abort the
// session instead of being accumulated.
var ErrResource = errors.New("resource failure")

// Category classifies a diagnostic.
type Category int

const (
	CategoryLexical Category = iota
	CategoryDirective
	CategoryMacro
	CategoryInclude
	CategoryResource
	CategoryClient // reported by the consumer through Scanner.ReportError
)

func (c Category) String() string {
	switch c {
	case CategoryLexical:
		return "lexical"
	case CategoryDirective:
		return "directive"
	case CategoryMacro:
		return "macro"
	case CategoryInclude:
		return "include"
	case CategoryResource:
		return "resource"
	case CategoryClient:
		return "client"
	default:
		return "unknown"
	}
}

// Severity of a diagnostic. Only SeverityError and SeverityFatal set the
// sticky error flag.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal error"
	default:
		return "unknown"
	}
}

// Diagnostic is one reported problem.
type Diagnostic struct {
	Loc      SourceLoc
	Category Category
	Severity Severity
	Msg      string
}

func (d Diagnostic) String() string {
	if d.Loc.File == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.Loc.File, d.Loc.Line, d.Loc.Column, d.Severity, d.Msg)
}

// Diagnostics accumulates the diagnostics of one scanning session.
type Diagnostics struct {
	list     []Diagnostic
	hadError bool
}

// Add records a diagnostic.
func (d *Diagnostics) Add(diag Diagnostic) {
	d.list = append(d.list, diag)
	if diag.Severity >= SeverityError {
		d.hadError = true
	}
}

// List returns the diagnostics in report order.
func (d *Diagnostics) List() []Diagnostic {
	return d.list
}

// HadError reports whether any error or fatal diagnostic was recorded.
func (d *Diagnostics) HadError() bool {
	return d.hadError
}

// Count returns the number of diagnostics with the given severity.
func (d *Diagnostics) Count(sev Severity) int {
	n := 0
	for _, diag := range d.list {
		if diag.Severity == sev {
			n++
		}
	}
	return n
}

// Log renders all diagnostics, one per line.
func (d *Diagnostics) Log() string {
	var sb strings.Builder
	for _, diag := range d.list {
		sb.WriteString(diag.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Err returns nil when no error was reported, otherwise an error wrapping
// ErrPreprocess that carries the log.
func (d *Diagnostics) Err() error {
	if !d.hadError {
		return nil
	}
	return fmt.Errorf("%w:\n%s", ErrPreprocess, strings.TrimRight(d.Log(), "\n"))
}
