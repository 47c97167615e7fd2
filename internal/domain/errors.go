package domain

import (
	"fmt"
	"strings"
)

// RowViolation identifies one offending row in an integrity check.
type RowViolation struct {
	Table  string `json:"table"`
	RowID  string `json:"rowId"`
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func (v RowViolation) String() string {
	return fmt.Sprintf("%s[%s].%s: %s", v.Table, v.RowID, v.Field, v.Detail)
}

// DataIntegrityError is fatal: a dangling reference or duplicate id was
// found. It carries the full list of offending rows for diagnostics.
type DataIntegrityError struct {
	Violations []RowViolation
}

func (e *DataIntegrityError) Error() string {
	if len(e.Violations) == 0 {
		return "data integrity violation"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d data integrity violations:", len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  ")
		b.WriteString(v.String())
	}
	return b.String()
}

// SchemaValidationError is fatal: an export-time column or type mismatch,
// or a failed quality gate.
type SchemaValidationError struct {
	Table  string
	Detail string
}

func (e *SchemaValidationError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema validation failed: %s", e.Detail)
	}
	return fmt.Sprintf("schema validation failed for table %s: %s", e.Table, e.Detail)
}

// ConfigurationError is fatal and checked before any stage runs.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Detail)
}

// InsufficientCandidatesError is recoverable: a synthesis routine ran out
// of eligible candidates before hitting its target. The routine stops,
// records the shortfall, and the pipeline continues.
type InsufficientCandidatesError struct {
	Routine string
	Target  int
	Actual  int
}

func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("%s: eligible population exhausted at %d of %d", e.Routine, e.Actual, e.Target)
}
