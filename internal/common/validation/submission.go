// Package validation checks inbound submission payloads against a JSON
// schema before they enter the workflow.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// submissionSchema describes the minimum shape a work-permit request must
// have. Presentation-layer fields are free-form under "details".
var submissionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"workTitle": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"workLocation": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"startDate": map[string]interface{}{
			"type": "string",
		},
		"endDate": map[string]interface{}{
			"type": "string",
		},
		"details": map[string]interface{}{
			"type": "object",
		},
	},
	"required": []interface{}{"workTitle", "workLocation", "startDate", "endDate"},
}

// ValidateSubmissionPayload validates the submission payload. Returns a
// descriptive error listing every failed field.
func ValidateSubmissionPayload(payload map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(submissionSchema)
	documentLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("payload invalid: %s", strings.Join(msgs, "; "))
	}

	return nil
}
