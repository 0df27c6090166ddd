package schema

import "strings"

// FieldIssue describes one rejected field.
type FieldIssue struct {
	Path   string
	Reason string
}

// ValidationError reports every schema violation found in a candidate result.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "schema validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Path+": "+issue.Reason)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Permanent marks schema failures as non-retryable: the same output fails the same way.
func (e *ValidationError) Permanent() bool { return true }
