package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// tokenSchema constrains the well-known token groups: colors must be hex,
// sizes and spacing live in sane numeric ranges. Unknown top-level groups are
// allowed; the design system grows faster than this service ships.
const tokenSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"colors": {
			"type": "object",
			"additionalProperties": {
				"type": "string",
				"pattern": "^#[0-9a-fA-F]{6}([0-9a-fA-F]{2})?$"
			}
		},
		"typography": {
			"type": "object",
			"properties": {
				"baseSizePx": {"type": "number", "minimum": 8, "maximum": 32},
				"scaleRatio": {"type": "number", "minimum": 1, "maximum": 2},
				"fontFamily": {"type": "string", "minLength": 1}
			},
			"additionalProperties": true
		},
		"spacing": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0, "maximum": 128}
		},
		"radii": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0, "maximum": 64}
		}
	},
	"additionalProperties": true
}`

var compiledTokenSchema = jsonschema.MustCompileString("theme-tokens.json", tokenSchema)

// validateTokens checks a token document against the design token schema.
func validateTokens(tokens json.RawMessage) error {
	var document any
	if err := json.Unmarshal(tokens, &document); err != nil {
		return &TokenValidationError{Detail: "tokens must be a JSON document"}
	}
	if _, ok := document.(map[string]any); !ok {
		return &TokenValidationError{Detail: "tokens must be a JSON object"}
	}

	if err := compiledTokenSchema.Validate(document); err != nil {
		var validationErr *jsonschema.ValidationError
		detail := err.Error()
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			validationErr = ve
			detail = flattenSchemaError(validationErr)
		}
		return &TokenValidationError{Detail: detail}
	}
	return nil
}

func flattenSchemaError(err *jsonschema.ValidationError) string {
	leaves := err.Causes
	if len(leaves) == 0 {
		return fmt.Sprintf("%s: %s", err.InstanceLocation, err.Message)
	}
	parts := make([]string, 0, len(leaves))
	for _, cause := range leaves {
		parts = append(parts, flattenSchemaError(cause))
	}
	return strings.Join(parts, "; ")
}
