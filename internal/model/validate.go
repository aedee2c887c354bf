package model

import (
	"fmt"
	"strings"
)

// Field limits for drafts.
const (
	MaxTitleLen  = 500
	MaxTagCount  = 50
	MaxTagLen    = 64
	MaxTenantLen = 128
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateDraft checks a Draft for constraint violations. Call it after
// ApplyDefaults. It returns a *ValidationError if any rules fail.
func ValidateDraft(d *Draft) error {
	var ve ValidationError

	tenant := strings.TrimSpace(d.TenantID)
	if tenant == "" {
		ve.add("tenant_id", "is required")
	} else if len(tenant) > MaxTenantLen {
		ve.add("tenant_id", "must be %d characters or fewer", MaxTenantLen)
	}

	if !d.Type.IsValid() {
		ve.add("type", "invalid value %q", d.Type)
	}
	if !d.Source.IsValid() {
		ve.add("source", "invalid value %q", d.Source)
	}
	if !d.Status.IsValid() {
		ve.add("status", "invalid value %q", d.Status)
	}
	if !d.Priority.IsValid() {
		ve.add("priority", "invalid value %q", d.Priority)
	}

	// Limits apply to the stored form, which has markup stripped and
	// special characters escaped.
	title := SanitizeText(d.Title)
	switch {
	case strings.TrimSpace(d.Title) == "":
		ve.add("title", "is required")
	case title == "":
		ve.add("title", "must contain text outside markup")
	case len([]rune(title)) > MaxTitleLen:
		ve.add("title", "must be %d characters or fewer", MaxTitleLen)
	}

	if d.SourceSystem == "" {
		ve.add("source_system", "is required")
	}
	if d.SourceObjectID == "" {
		ve.add("source_object_id", "is required")
	}

	if len(d.Tags) > MaxTagCount {
		ve.add("tags", "must contain %d items or fewer", MaxTagCount)
	} else {
		for i, t := range d.Tags {
			switch {
			case strings.TrimSpace(t) == "":
				ve.add(fmt.Sprintf("tags[%d]", i), "must be non-empty")
			case len(t) > MaxTagLen:
				ve.add(fmt.Sprintf("tags[%d]", i), "must be %d characters or fewer", MaxTagLen)
			}
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateFilter rejects unknown enum values and sort options before a
// filter reaches the store.
func ValidateFilter(f *ActivityFilter) error {
	var ve ValidationError
	for _, t := range f.Types {
		if !t.IsValid() {
			ve.add("type", "invalid value %q", t)
		}
	}
	for _, s := range f.Sources {
		if !s.IsValid() {
			ve.add("source", "invalid value %q", s)
		}
	}
	for _, s := range f.Statuses {
		if !s.IsValid() {
			ve.add("status", "invalid value %q", s)
		}
	}
	for _, p := range f.Priorities {
		if !p.IsValid() {
			ve.add("priority", "invalid value %q", p)
		}
	}
	if f.SortBy != "" && !SortFields[f.SortBy] {
		ve.add("sort_by", "invalid value %q", f.SortBy)
	}
	if f.SortOrder != "" && f.SortOrder != SortAsc && f.SortOrder != SortDesc {
		ve.add("sort_order", "must be asc or desc")
	}
	if f.Page < 0 {
		ve.add("page", "must be positive")
	}
	if f.PageSize < 0 || f.PageSize > MaxPageSize {
		ve.add("page_size", "must be between 1 and %d", MaxPageSize)
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		ve.add("end_date", "must not be before start_date")
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
