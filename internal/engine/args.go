package engine

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Typed arguments for the built-in tools. Each decode goes through the
// tool's schema first, so these structs never see shapes the schema
// rejects.
type commandArgs struct {
	Command    string `json:"command"`
	Background bool   `json:"background"`
}

type readFileArgs struct {
	Path string `json:"path"`
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type editFileArgs struct {
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

type terminalOutputArgs struct {
	MaxBytes int `json:"max_bytes"`
}

type waitTaskArgs struct {
	TaskID string `json:"task_id"`
}

type loadSkillArgs struct {
	Name string `json:"name"`
}

type createSkillArgs struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

var (
	schemaOnce      sync.Once
	compiledSchemas map[string]*jsonschema.Schema
)

func compiledSchema(tool string) *jsonschema.Schema {
	schemaOnce.Do(func() {
		compiledSchemas = make(map[string]*jsonschema.Schema, len(builtinToolSchemas))
		for name, src := range builtinToolSchemas {
			compiledSchemas[name] = jsonschema.MustCompileString(name+".schema.json", src)
		}
	})
	return compiledSchemas[tool]
}

// normalizeRawArgs treats absent or empty input as the empty object.
// Models routinely omit arguments entirely for no-argument tools.
func normalizeRawArgs(raw json.RawMessage) json.RawMessage {
	trimmed := string(raw)
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage("{}")
	}
	return raw
}

// validateArgs checks a built-in tool call's arguments against its schema.
// The error comes back as a value; argument problems become that call's
// tool result, never a run failure. External tool arguments are validated
// by their servers and pass through untouched.
func validateArgs(tool string, raw json.RawMessage) *ValidationError {
	schema := compiledSchema(tool)
	if schema == nil {
		return &ValidationError{Tool: tool, Reason: "unknown tool"}
	}
	var loose any
	if err := json.Unmarshal(normalizeRawArgs(raw), &loose); err != nil {
		return &ValidationError{Tool: tool, Reason: "arguments are not valid JSON: " + err.Error()}
	}
	if err := schema.Validate(loose); err != nil {
		return &ValidationError{Tool: tool, Reason: err.Error()}
	}
	return nil
}

// decodeArgs validates and decodes a built-in tool call's arguments.
func decodeArgs[T any](tool string, raw json.RawMessage) (T, *ValidationError) {
	var args T
	if verr := validateArgs(tool, raw); verr != nil {
		return args, verr
	}
	if err := json.Unmarshal(normalizeRawArgs(raw), &args); err != nil {
		return args, &ValidationError{Tool: tool, Reason: err.Error()}
	}
	return args, nil
}
