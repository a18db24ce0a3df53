package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaJSON is a discriminated-union JSON schema over the "type" field,
// grounded on the compile-once-validate-many pattern in
// githubnext-gh-aw/pkg/parser/schema.go (compileSchema/validateWithSchema).
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "wuId", "timestamp"],
  "properties": {
    "type": {"enum": ["create", "claim", "release", "block", "unblock", "complete", "checkpoint", "spawn"]},
    "wuId": {"type": "string", "pattern": "^WU-[1-9][0-9]*$"},
    "timestamp": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "block"}}, "required": ["type"]},
      "then": {"required": ["reason"]}
    },
    {
      "if": {"properties": {"type": {"const": "checkpoint"}}, "required": ["type"]},
      "then": {"required": ["note"]}
    },
    {
      "if": {"properties": {"type": {"const": "spawn"}}, "required": ["type"]},
      "then": {"required": ["parentWuId", "spawnId"]}
    }
  ]
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		var doc any
		if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("parsing event schema: %w", err)
			return
		}
		const schemaURL = "https://lumenflow.internal/schemas/wu-event.json"
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("adding event schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// Validate marshals ev to JSON and checks it against the discriminated
// event schema (spec.md §3: "validated by the discriminated schema").
func Validate(ev Event) error {
	schema, err := compiledEventSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("re-decoding event for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("event %s for %s failed schema validation: %w", ev.Type, ev.WuID, err)
	}
	return nil
}
