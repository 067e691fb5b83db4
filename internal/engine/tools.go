package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/tether/internal/mcp"
	"github.com/haasonsaas/tether/internal/provider"
)

// Built-in tool names. External tools carry the mcp: prefix and are
// routed through the MCP bridge instead.
const (
	ToolRunCommand        = "run_command"
	ToolReadFile          = "read_file"
	ToolWriteFile         = "write_file"
	ToolEditFile          = "edit_file"
	ToolGetTerminalOutput = "get_terminal_output"
	ToolWaitForTask       = "wait_for_task"
	ToolLoadSkill         = "load_skill"
	ToolCreateSkill       = "create_skill"
	ToolListSkills        = "list_skills"
)

// builtinToolSchemas holds the JSON schema for each built-in tool's
// arguments. The same schema drives model binding and argument
// validation.
var builtinToolSchemas = map[string]string{
	ToolRunCommand: `{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute"},
			"background": {"type": "boolean", "description": "Start without waiting for completion"}
		},
		"required": ["command"],
		"additionalProperties": false
	}`,
	ToolReadFile: `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to read"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`,
	ToolWriteFile: `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to write"},
			"content": {"type": "string", "description": "Full file content"}
		},
		"required": ["path", "content"],
		"additionalProperties": false
	}`,
	ToolEditFile: `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to edit"},
			"old_text": {"type": "string", "description": "Exact text to replace"},
			"new_text": {"type": "string", "description": "Replacement text"}
		},
		"required": ["path", "old_text", "new_text"],
		"additionalProperties": false
	}`,
	ToolGetTerminalOutput: `{
		"type": "object",
		"properties": {
			"max_bytes": {"type": "integer", "minimum": 1, "description": "Tail size in bytes"}
		},
		"additionalProperties": false
	}`,
	ToolWaitForTask: `{
		"type": "object",
		"properties": {
			"task_id": {"type": "string", "description": "Background task to wait for"}
		},
		"required": ["task_id"],
		"additionalProperties": false
	}`,
	ToolLoadSkill: `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Skill name to load"}
		},
		"required": ["name"],
		"additionalProperties": false
	}`,
	ToolCreateSkill: `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Lowercase hyphenated skill name"},
			"description": {"type": "string", "description": "When to use the skill"},
			"content": {"type": "string", "description": "Markdown instructions"}
		},
		"required": ["name", "description", "content"],
		"additionalProperties": false
	}`,
	ToolListSkills: `{
		"type": "object",
		"additionalProperties": false
	}`,
}

var builtinToolDescriptions = map[string]string{
	ToolRunCommand:        "Execute a shell command in the bound terminal. Blocking commands run in the foreground; long-lived processes are started in the background and return a task ID.",
	ToolReadFile:          "Read a file from the terminal's working directory.",
	ToolWriteFile:         "Create or overwrite a file.",
	ToolEditFile:          "Replace one exact text occurrence in a file.",
	ToolGetTerminalOutput: "Fetch the tail of recent terminal output.",
	ToolWaitForTask:       "Wait for a background task started earlier to finish.",
	ToolLoadSkill:         "Load a skill's full instructions into the conversation.",
	ToolCreateSkill:       "Save a new reusable skill for later sessions.",
	ToolListSkills:        "List available skills with their descriptions.",
}

// isForegroundExec reports whether a call runs a blocking terminal
// command. Foreground commands never share a turn with other calls.
func isForegroundExec(name string, input json.RawMessage) bool {
	if name != ToolRunCommand {
		return false
	}
	var args struct {
		Background bool `json:"background"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		// Unparseable args are settled by validation later; plan
		// conservatively as foreground.
		return true
	}
	return !args.Background
}

// boundTools assembles the tool set offered to the model for a turn:
// built-ins, plus one load_skill choice per discovered skill folded into
// the description, plus active MCP tools.
func (e *Engine) boundTools() []provider.ToolSpec {
	names := make([]string, 0, len(builtinToolSchemas))
	for name := range builtinToolSchemas {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]provider.ToolSpec, 0, len(names))
	for _, name := range names {
		desc := builtinToolDescriptions[name]
		if name == ToolLoadSkill && e.skills != nil {
			if skillList := e.skills.List(); len(skillList) > 0 {
				var b strings.Builder
				b.WriteString(desc)
				b.WriteString(" Available skills:")
				for _, s := range skillList {
					fmt.Fprintf(&b, "\n- %s: %s", s.Name, s.Description)
				}
				desc = b.String()
			}
		}
		specs = append(specs, provider.ToolSpec{
			Name:        name,
			Description: desc,
			InputSchema: json.RawMessage(builtinToolSchemas[name]),
		})
	}

	if e.external != nil {
		for _, tool := range e.external.ActiveTools() {
			specs = append(specs, provider.ToolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}
	return specs
}

// isExternalTool reports whether a name routes to the MCP bridge.
func isExternalTool(name string) bool {
	return mcp.IsExternalToolName(name)
}
