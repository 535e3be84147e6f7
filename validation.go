package gyanmitra

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Request payload schemas. Violations surface as ErrValidation before any
// network call is made.
const (
	registerSchema = `{
		"type": "object",
		"required": ["name", "email", "password", "grade", "subjects"],
		"properties": {
			"name":     {"type": "string", "minLength": 2, "maxLength": 100},
			"email":    {"type": "string", "format": "email"},
			"password": {"type": "string", "minLength": 8, "maxLength": 128},
			"grade":    {"type": "integer", "minimum": 5, "maximum": 10},
			"subjects": {"type": "array", "items": {"type": "string"}, "minItems": 1}
		}
	}`

	loginSchema = `{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email":    {"type": "string", "format": "email"},
			"password": {"type": "string", "minLength": 1}
		}
	}`

	querySchema = `{
		"type": "object",
		"required": ["query", "grade", "subject", "language"],
		"properties": {
			"query":          {"type": "string", "minLength": 1, "maxLength": 2000},
			"grade":          {"type": "integer", "minimum": 5, "maximum": 10},
			"subject":        {"type": "string", "minLength": 1},
			"language":       {"type": "string", "enum": ["english", "hindi"]},
			"conversationId": {"type": "string", "minLength": 1}
		}
	}`
)

// validatePayload checks payload against a JSON schema and folds any
// violations into a single ErrValidation.
func validatePayload(schema string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(details, "; "))
	}
	return nil
}
