package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// schemaJSON is the Draft 7 JSON Schema an envelope is validated
// against. Validation is explicit: it is never run as a side effect
// of Build.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "demon.envelope.v1",
  "type": "object",
  "required": ["result", "diagnostics", "suggestions"],
  "properties": {
    "result": {
      "type": "object",
      "required": ["success"],
      "properties": {
        "success": {"type": "boolean"},
        "data": {},
        "error": {
          "type": "object",
          "required": ["message"],
          "properties": {
            "message": {"type": "string"},
            "code": {"type": "string"}
          }
        }
      }
    },
    "diagnostics": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["severity", "message"],
        "properties": {
          "severity": {"enum": ["info", "warning", "error"]},
          "message": {"type": "string"}
        }
      }
    },
    "suggestions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["priority", "message"],
        "properties": {
          "priority": {"enum": ["low", "medium", "high"]},
          "message": {"type": "string"},
          "rationale": {"type": "string"},
          "patch": {"type": "array"}
        }
      }
    },
    "metrics": {"type": "object"},
    "provenance": {
      "type": "object",
      "required": ["source", "version", "instance"],
      "properties": {
        "source": {"type": "string"},
        "version": {"type": "string"},
        "instance": {"type": "string"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// Validate checks e against the Draft 7 envelope schema, returning a
// combined error describing every violation found.
func Validate(e Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("envelope: marshaling for validation: %w", err)
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("envelope: running schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("envelope: schema validation failed: %s", strings.Join(msgs, "; "))
}
