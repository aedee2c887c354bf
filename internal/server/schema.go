package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/alfredjeanlab/spine/internal/model"
)

const draftSchemaURL = "https://spine.local/schemas/draft.json"

var (
	draftSchemaOnce sync.Once
	draftSchema     *jsonschema.Schema
	draftSchemaErr  error
)

// draftSchemaDoc describes the body of POST /v1/activities. Enum lists come
// from the model so the two cannot drift.
func draftSchemaDoc() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"tenant_id", "type", "source", "title"},
		"properties": map[string]any{
			"tenant_id":          map[string]any{"type": "string", "minLength": 1, "maxLength": model.MaxTenantLen},
			"type":               map[string]any{"enum": model.AllTypes},
			"source":             map[string]any{"enum": model.AllSources},
			"status":             map[string]any{"enum": model.AllStatuses},
			"priority":           map[string]any{"enum": model.AllPriorities},
			"title":              map[string]any{"type": "string", "minLength": 1, "maxLength": model.MaxTitleLen},
			"description":        str,
			"source_system":      str,
			"source_object_id":   str,
			"source_object_type": str,
			"entity_id":          str,
			"entity_type":        str,
			"user_id":            str,
			"user_name":          str,
			"correlation_id":     str,
			"metadata":           map[string]any{"type": "object"},
			"timestamp":          map[string]any{"type": "string", "format": "date-time"},
			"tags": map[string]any{
				"type":     "array",
				"maxItems": model.MaxTagCount,
				"items":    map[string]any{"type": "string", "minLength": 1, "maxLength": model.MaxTagLen},
			},
		},
	}
}

func compileDraftSchema() (*jsonschema.Schema, error) {
	raw, err := json.Marshal(draftSchemaDoc())
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(draftSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(draftSchemaURL)
}

// validateDraftJSON checks body against the draft schema. Schema violations
// come back as a *model.ValidationError.
func validateDraftJSON(body []byte) error {
	draftSchemaOnce.Do(func() { draftSchema, draftSchemaErr = compileDraftSchema() })
	if draftSchemaErr != nil {
		return draftSchemaErr
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return inputError("invalid JSON body")
	}
	err = draftSchema.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	ve := &model.ValidationError{}
	p := message.NewPrinter(language.English)
	collectSchemaErrors(verr, p, ve)
	return ve
}

// collectSchemaErrors flattens the leaves of a schema error tree.
func collectSchemaErrors(e *jsonschema.ValidationError, p *message.Printer, out *model.ValidationError) {
	if len(e.Causes) == 0 {
		field := strings.Join(e.InstanceLocation, ".")
		if field == "" {
			field = "body"
		}
		out.Errors = append(out.Errors, model.FieldError{Field: field, Message: e.ErrorKind.LocalizedString(p)})
		return
	}
	for _, c := range e.Causes {
		collectSchemaErrors(c, p, out)
	}
}
