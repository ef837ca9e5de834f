package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/llm"
	"github.com/LevitateOS/installer/pkg/plan"
	"github.com/LevitateOS/installer/pkg/session"
)

type handlers struct {
	sess *session.Session
}

// Probe implements levitate/probe.
func (h *handlers) Probe(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.sess.Snapshot())
}

// Status implements levitate/status.
func (h *handlers) Status(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := map[string]any{
		"session": h.sess.ID(),
		"stage":   h.sess.Stage().String(),
	}
	var completed []string
	for _, s := range h.sess.Completed() {
		completed = append(completed, s.String())
	}
	status["completed"] = completed
	if p, ok := h.sess.Pending(); ok {
		status["pending"] = planPayload(p, nil)
	}
	return jsonResult(status)
}

// Schema implements levitate/schema.
func (h *handlers) Schema(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := llm.ActionSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// Submit implements levitate/submit.
func (h *handlers) Submit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, _ := req.GetArguments()["action"].(string)
	if raw == "" {
		return errorResult("action argument is required"), nil
	}

	a, err := llm.ParseAction([]byte(raw), h.sess.Snapshot())
	if err != nil {
		return errorResult(err.Error()), nil
	}
	turn, err := h.sess.SubmitAction(ctx, a)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(planPayload(turn.Plan, turn.Result))
}

// Confirm implements levitate/confirm.
func (h *handlers) Confirm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accept, _ := req.GetArguments()["accept"].(bool)
	turn, err := h.sess.Confirm(ctx, accept)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if turn.Result == nil {
		return jsonResult(map[string]any{"status": "declined"})
	}
	return jsonResult(turn.Result)
}

// planPayload flattens a turn for agents.
func planPayload(p plan.Plan, res *exec.Result) map[string]any {
	out := map[string]any{"variant": string(p.Variant)}
	if p.Kind != "" {
		out["kind"] = string(p.Kind)
	}
	if len(p.Warnings) > 0 {
		out["warnings"] = p.Warnings
	}
	if p.Summary != "" {
		out["summary"] = p.Summary
	}
	if p.Question != "" {
		out["question"] = p.Question
	}
	if p.Reason != "" {
		out["reason"] = p.Reason
		out["detail"] = p.Detail
	}
	if res != nil {
		out["result"] = res
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode response: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

func errorResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultError(text)
}
