// Package normalize turns raw payloads from external systems into canonical
// activity drafts and hands them to the store.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/spine/internal/model"
)

// Normalizer maps one source system's payload onto a canonical draft. A
// normalizer is pure: it never touches the store or the clock. A zero
// Timestamp on the returned draft means none could be extracted.
type Normalizer interface {
	Normalize(raw map[string]any) (*model.Draft, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(raw map[string]any) (*model.Draft, error)

// Normalize calls f(raw).
func (f NormalizerFunc) Normalize(raw map[string]any) (*model.Draft, error) {
	return f(raw)
}

var tenantKeys = []string{"tenantId", "tenant_id", "orgTenantId"}

// missingField returns the validation error reported when a required field
// is absent from the payload.
func missingField(field string) error {
	return &model.ValidationError{Errors: []model.FieldError{{Field: field, Message: "is required"}}}
}

// str returns the first non-empty string-like value among keys.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// num returns the first numeric value among keys. Numeric strings count.
func num(raw map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch x := raw[k].(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		case int64:
			return float64(x), true
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// obj returns the nested map stored under key, or nil.
func obj(raw map[string]any, key string) map[string]any {
	m, _ := raw[key].(map[string]any)
	return m
}

// strList accepts a []string, a []any of strings or a comma-separated string.
func strList(v any) []string {
	var out []string
	switch x := v.(type) {
	case []string:
		out = append(out, x...)
	case []any:
		for _, e := range x {
			if s := asString(e); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, p := range strings.Split(x, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// sourceMetadata records the external event type alongside the untouched
// payload so nothing the source sent is lost.
func sourceMetadata(eventType string, raw map[string]any) map[string]any {
	return map[string]any{
		"source_event_type": eventType,
		"payload":           raw,
	}
}

// humanize turns "OpportunityClosedWon" or "email.open" into a readable phrase.
func humanize(eventType string) string {
	if eventType == "" {
		return "event"
	}
	var b strings.Builder
	for i, r := range eventType {
		switch {
		case r == '.' || r == '_' || r == '-':
			b.WriteByte(' ')
			continue
		case i > 0 && r >= 'A' && r <= 'Z':
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func defaultTitle(system, eventType string) string {
	return fmt.Sprintf("%s: %s", system, humanize(eventType))
}
