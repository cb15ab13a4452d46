package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// logEventSchema validates the wire shape of a log-event request before it
// reaches the domain layer, so malformed payloads fail with a field-level
// message instead of a zero-value struct.
const logEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["org_id", "agent_id", "action_type"],
  "properties": {
    "org_id": {"type": "string", "minLength": 1},
    "agent_id": {"type": "string", "minLength": 1},
    "action_type": {"type": "string", "minLength": 1},
    "model": {"type": "string"},
    "input": {"type": "string"},
    "output": {"type": "string"},
    "tools_called": {"type": "array", "items": {"type": "string"}},
    "redactions": {"type": "array", "items": {"type": "string"}},
    "epi": {
      "type": "object",
      "properties": {
        "profitability": {"type": "number", "minimum": 0, "maximum": 1},
        "ethics": {"type": "number", "minimum": 0, "maximum": 1},
        "violations": {"type": "array", "items": {"type": "number", "minimum": 0, "maximum": 1}}
      }
    },
    "risk": {
      "type": "object",
      "properties": {
        "impact": {"type": "number", "minimum": 0, "maximum": 1},
        "autonomy": {"type": "number", "minimum": 0, "maximum": 1},
        "sensitivity": {"type": "number", "minimum": 0, "maximum": 1},
        "reversibility": {"type": "number", "minimum": 0, "maximum": 1},
        "regulatory": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://trustcore.schemas.local/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}
