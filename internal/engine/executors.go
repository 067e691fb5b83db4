package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/tether/internal/cmdpolicy"
	"github.com/haasonsaas/tether/internal/skills"
	"github.com/haasonsaas/tether/internal/terminal"
	"github.com/haasonsaas/tether/pkg/models"
)

const (
	// maxToolResultChars caps a single tool result. Larger outputs are
	// middle-truncated; pruning later reclaims old results wholesale.
	maxToolResultChars = 50000

	defaultOutputTail = 10000
	maxReadFileBytes  = 262144
)

// executeCall runs one tool call and returns its result. Failures of any
// kind land in the result, never in the run's error path: the model reads
// the failure and decides what to do next.
func (e *Engine) executeCall(ctx context.Context, rs *runState, call models.ToolCall) models.ToolResult {
	start := time.Now()
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	rs.emit(ctx, models.EngineEvent{
		Type: models.EventToolStarted,
		Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.Input},
	})

	content, code := e.invoke(ctx, rs, call)
	content = truncateResult(content)
	elapsed := time.Since(start)
	e.tracer.SetAttributes(span, "tool.code", string(code))

	rs.emit(ctx, models.EngineEvent{
		Type: models.EventToolFinished,
		Tool: &models.ToolEventPayload{
			CallID:  call.ID,
			Name:    call.Name,
			Code:    code,
			Result:  content,
			Elapsed: elapsed,
		},
	})
	if e.metrics != nil {
		e.metrics.RecordToolExecution(call.Name, string(code), elapsed.Seconds())
	}
	if e.logger != nil {
		e.logger.Debug(ctx, "tool finished",
			"tool", call.Name, "code", string(code), "elapsed_ms", elapsed.Milliseconds())
	}

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    content,
		Code:       code,
		IsError:    code == models.ResultError || code == models.ResultCanceled,
	}
}

func (e *Engine) invoke(ctx context.Context, rs *runState, call models.ToolCall) (string, models.ResultCode) {
	if isExternalTool(call.Name) {
		return e.invokeExternal(ctx, call)
	}

	switch call.Name {
	case ToolRunCommand:
		return e.execRunCommand(ctx, rs, call.Input)
	case ToolReadFile:
		return e.execReadFile(rs, call.Input)
	case ToolWriteFile:
		return e.execWriteFile(rs, call.Input)
	case ToolEditFile:
		return e.execEditFile(rs, call.Input)
	case ToolGetTerminalOutput:
		return e.execTerminalOutput(rs, call.Input)
	case ToolWaitForTask:
		return e.execWaitForTask(ctx, rs, call.Input)
	case ToolLoadSkill:
		return e.execLoadSkill(call.Input)
	case ToolCreateSkill:
		return e.execCreateSkill(call.Input)
	case ToolListSkills:
		return e.execListSkills()
	default:
		verr := &ValidationError{Tool: call.Name, Reason: "tool is not available"}
		return verr.Error(), models.ResultError
	}
}

func (e *Engine) invokeExternal(ctx context.Context, call models.ToolCall) (string, models.ResultCode) {
	if e.external == nil {
		return "External tools are not configured.", models.ResultError
	}
	text, isErr, err := e.external.InvokeTool(ctx, call.Name, normalizeRawArgs(call.Input))
	if err != nil {
		if IsCancellation(err) {
			return "Tool execution canceled.", models.ResultCanceled
		}
		texecErr := &ToolExecutionError{Tool: call.Name, Err: err}
		return texecErr.Error(), models.ResultError
	}
	if isErr {
		return text, models.ResultError
	}
	return text, models.ResultOK
}

func (e *Engine) execRunCommand(ctx context.Context, rs *runState, input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[commandArgs](ToolRunCommand, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}

	switch e.policy.Evaluate(args.Command) {
	case cmdpolicy.VerdictDeny:
		return "Command denied by policy: " + args.Command, models.ResultError
	case cmdpolicy.VerdictAsk:
		if e.approver == nil {
			return "Command requires approval and no approver is configured: " + args.Command, models.ResultError
		}
		approved, err := e.approver.RequestApproval(ctx, args.Command)
		if err != nil {
			if IsCancellation(err) {
				return "Approval canceled.", models.ResultCanceled
			}
			return "Approval failed: " + err.Error(), models.ResultError
		}
		if !approved {
			return "Command was not approved: " + args.Command, models.ResultError
		}
	}

	background := args.Background
	if !background && e.decider != nil {
		// The model asked for a foreground run; a command that never
		// exits (server, watcher) would hang the turn, so a secondary
		// model judges it first.
		verdict := e.decider.WillBlock(ctx, rs.session.ID, args.Command, rs.working)
		background = !verdict.Blocks
	}

	if background {
		taskID, err := rs.term.RunCommandNoWait(args.Command)
		if err != nil {
			texecErr := &ToolExecutionError{Tool: ToolRunCommand, Err: err}
			return texecErr.Error(), models.ResultError
		}
		return fmt.Sprintf("Started background task %s: %s\nUse wait_for_task to await it or get_terminal_output to inspect it.", taskID, args.Command), models.ResultOK
	}

	result, err := rs.term.RunCommandAndWait(ctx, args.Command)
	if err != nil {
		if IsCancellation(err) {
			return "Command canceled.", models.ResultCanceled
		}
		if errors.Is(err, terminal.ErrForegroundBusy) {
			return "The terminal foreground is busy with another command. Wait for it with wait_for_task or run this one with background=true.", models.ResultError
		}
		texecErr := &ToolExecutionError{Tool: ToolRunCommand, Err: err}
		return texecErr.Error(), models.ResultError
	}
	return formatCommandResult(result), models.ResultOK
}

func (e *Engine) execReadFile(rs *runState, input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[readFileArgs](ToolReadFile, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}
	info, err := rs.term.StatFile(args.Path)
	if err != nil {
		return fmt.Sprintf("Cannot read %s: %v", args.Path, err), models.ResultError
	}
	if info.IsDir {
		return fmt.Sprintf("%s is a directory.", args.Path), models.ResultError
	}
	if info.Size > maxReadFileBytes {
		return fmt.Sprintf("%s is %d bytes, larger than the %d byte read limit. Read a portion with a command instead.", args.Path, info.Size, maxReadFileBytes), models.ResultError
	}
	content, err := rs.term.ReadFile(args.Path)
	if err != nil {
		return fmt.Sprintf("Cannot read %s: %v", args.Path, err), models.ResultError
	}
	return content, models.ResultOK
}

func (e *Engine) execWriteFile(rs *runState, input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[writeFileArgs](ToolWriteFile, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}
	if err := rs.term.WriteFile(args.Path, args.Content); err != nil {
		return fmt.Sprintf("Cannot write %s: %v", args.Path, err), models.ResultError
	}
	return fmt.Sprintf("Wrote %d bytes to %s.", len(args.Content), args.Path), models.ResultOK
}

func (e *Engine) execEditFile(rs *runState, input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[editFileArgs](ToolEditFile, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}
	if args.OldText == "" {
		return "old_text must not be empty.", models.ResultError
	}
	content, err := rs.term.ReadFile(args.Path)
	if err != nil {
		return fmt.Sprintf("Cannot read %s: %v", args.Path, err), models.ResultError
	}
	switch n := strings.Count(content, args.OldText); {
	case n == 0:
		return fmt.Sprintf("old_text not found in %s.", args.Path), models.ResultError
	case n > 1:
		return fmt.Sprintf("old_text matches %d locations in %s; provide more surrounding context to make it unique.", n, args.Path), models.ResultError
	}
	updated := strings.Replace(content, args.OldText, args.NewText, 1)
	if err := rs.term.WriteFile(args.Path, updated); err != nil {
		return fmt.Sprintf("Cannot write %s: %v", args.Path, err), models.ResultError
	}
	return fmt.Sprintf("Edited %s.", args.Path), models.ResultOK
}

func (e *Engine) execTerminalOutput(rs *runState, input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[terminalOutputArgs](ToolGetTerminalOutput, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}
	maxBytes := args.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultOutputTail
	}
	out := rs.term.RecentOutput(maxBytes)
	if out == "" {
		return "No recent terminal output.", models.ResultOK
	}
	return out, models.ResultOK
}

func (e *Engine) execWaitForTask(ctx context.Context, rs *runState, input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[waitTaskArgs](ToolWaitForTask, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}

	result, skipped, err := rs.term.WaitForTask(ctx, args.TaskID, rs.skip.Load)
	if err != nil {
		if IsCancellation(err) {
			return "Wait canceled.", models.ResultCanceled
		}
		if errors.Is(err, terminal.ErrTaskNotFound) {
			return fmt.Sprintf("No background task %s.", args.TaskID), models.ResultError
		}
		texecErr := &ToolExecutionError{Tool: ToolWaitForTask, Err: err}
		return texecErr.Error(), models.ResultError
	}
	if skipped {
		return fmt.Sprintf("Wait for task %s was skipped; the task keeps running. Check it later with get_terminal_output.", args.TaskID), models.ResultSkipped
	}
	return formatCommandResult(result), models.ResultOK
}

func (e *Engine) execLoadSkill(input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[loadSkillArgs](ToolLoadSkill, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}
	if e.skills == nil {
		return "No skill library is configured.", models.ResultError
	}
	skill, ok := e.skills.Get(args.Name)
	if !ok {
		return fmt.Sprintf("Skill %q not found. Use list_skills to see what is available.", args.Name), models.ResultError
	}
	content := skills.ExpandBaseDir(skill.Content, skill.Path)
	return fmt.Sprintf("Loaded skill %q.\n\n%s", skill.Name, content), models.ResultOK
}

func (e *Engine) execCreateSkill(input []byte) (string, models.ResultCode) {
	args, verr := decodeArgs[createSkillArgs](ToolCreateSkill, input)
	if verr != nil {
		return verr.Error(), models.ResultError
	}
	if e.skills == nil {
		return "No skill library is configured.", models.ResultError
	}
	skill, err := e.skills.Create(args.Name, args.Description, args.Content)
	if err != nil {
		return "Cannot create skill: " + err.Error(), models.ResultError
	}
	return fmt.Sprintf("Created skill %q in %s.", skill.Name, skill.Path), models.ResultOK
}

func (e *Engine) execListSkills() (string, models.ResultCode) {
	if e.skills == nil {
		return "No skill library is configured.", models.ResultError
	}
	list := e.skills.List()
	if len(list) == 0 {
		return "No skills are available yet. Use create_skill to save one.", models.ResultOK
	}
	names := make([]string, 0, len(list))
	for _, s := range list {
		names = append(names, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}
	sort.Strings(names)
	return "Available skills:\n" + strings.Join(names, "\n"), models.ResultOK
}

func formatCommandResult(result terminal.CommandResult) string {
	out := strings.TrimRight(result.Output, "\n")
	if out == "" {
		out = "(no output)"
	}
	return fmt.Sprintf("%s\n\nexit code %d in %s", out, result.ExitCode, result.Duration.Round(time.Millisecond))
}

// truncateResult middle-truncates oversized tool output, keeping the head
// for context and the tail for the part that usually matters.
func truncateResult(s string) string {
	if len(s) <= maxToolResultChars {
		return s
	}
	head := maxToolResultChars * 2 / 5
	tail := maxToolResultChars*3/5 - 100
	omitted := len(s) - head - tail
	return s[:head] + fmt.Sprintf("\n\n[... %d characters truncated ...]\n\n", omitted) + s[len(s)-tail:]
}
