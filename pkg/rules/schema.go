package rules

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
)

// ruleSchema is the wire contract for rule creation. Structural validation
// happens here so the registry only sees well-formed payloads; range checks
// that depend on policy stay in validateRule.
const ruleSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "entityType", "conditions", "priorityModifier"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"entityType": {"type": "string", "enum": ["ASSESSMENT", "RESPONSE", "MEDIA"]},
		"priorityModifier": {"type": "integer", "minimum": -100, "maximum": 100},
		"isActive": {"type": "boolean"},
		"createdBy": {"type": "string", "minLength": 1},
		"conditions": {
			"type": "array",
			"minItems": 1,
			"maxItems": 5,
			"items": {
				"type": "object",
				"required": ["field", "operator", "value"],
				"properties": {
					"field": {"type": "string", "minLength": 1},
					"operator": {"type": "string", "enum": ["EQUALS", "GREATER_THAN", "CONTAINS", "IN_ARRAY"]},
					"modifier": {"type": "integer", "minimum": -100, "maximum": 100}
				}
			}
		}
	},
	"additionalProperties": false
}`

var compiledRuleSchema = gojsonschema.NewStringLoader(ruleSchema)

// ValidateRulePayload checks a raw rule-creation body against the schema
func ValidateRulePayload(body []byte) error {
	result, err := gojsonschema.Validate(compiledRuleSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.Wrap(err, "failed to validate rule payload")
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return services.ValidationError{Field: "body", Message: strings.Join(problems, "; ")}
}
