package aigrade

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// entrySchemaJSON describes one per-question entry of the model's reply.
// Points may arrive as a numeric string; coercion happens after validation.
const entrySchemaJSON = `{
  "type": "object",
  "required": ["points"],
  "properties": {
    "points": {"type": ["number", "string"]},
    "reason": {"type": ["string", "null"]},
    "perCriterion": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": ["string", "null"]},
          "points": {"type": ["number", "string", "null"]},
          "reason": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var entrySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(entrySchemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("parse entry schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const url = "schema://ai-grade-entry.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	return c.Compile(url)
})

func validateEntry(raw json.RawMessage) error {
	schema, err := entrySchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
