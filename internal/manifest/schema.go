package manifest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// structuralSchema is the JSON-shaped manifest schema from the external
// interface: version, metadata, nodes, connections. It catches shape errors
// (wrong types, missing required fields) before the semantic validator in
// validate.go runs the graph-level checks (acyclicity, id uniqueness, edge
// resolution) that a generic schema can't express.
const structuralSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "metadata", "nodes", "connections"],
  "properties": {
    "version": { "type": "string" },
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string" },
        "description": { "type": "string" },
        "created_at": { "type": "string" }
      }
    },
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "node_type"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "node_type": { "type": "string", "minLength": 1 },
          "params": {},
          "is_streaming": { "type": "boolean" },
          "placement": { "enum": ["auto", "local", "remote"] },
          "runtime_hint": { "type": "string" },
          "fan_in": { "enum": ["round_robin", "synchronized_tuple"] },
          "critical": { "type": "boolean" },
          "speculative": { "type": "boolean" },
          "vad_node_type": { "type": "string" },
          "capabilities": {
            "type": "object",
            "properties": {
              "gpu": { "type": "boolean" },
              "gpu_kind": { "type": "string" },
              "cpu_cores": { "type": "integer", "minimum": 0 },
              "memory_gb": { "type": "integer", "minimum": 0 }
            }
          }
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": { "type": "string", "minLength": 1 },
          "to": { "type": "string", "minLength": 1 }
        }
      }
    }
  }
}`

var (
	schemaOnce    sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr     error
)

func compileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(structuralSchemaDoc), &doc); err != nil {
			schemaErr = fmt.Errorf("unmarshal manifest schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.json", doc); err != nil {
			schemaErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		s, err := c.Compile("manifest.json")
		if err != nil {
			schemaErr = fmt.Errorf("compile manifest schema: %w", err)
			return
		}
		compiledSchema = s
	})
	return compiledSchema, schemaErr
}

// ValidateStructure checks raw manifest JSON against the structural schema,
// independent of any graph-level semantics.
func ValidateStructure(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal manifest: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return nil
}
