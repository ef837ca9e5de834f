// Package mcp exposes the installer engine to agent front ends over the
// Model Context Protocol. The tools speak structured actions, not free
// text: an agent brings its own language model and submits the JSON
// envelope directly, going through exactly the same validation,
// confirmation, and execution path as the interactive installer.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/LevitateOS/installer/pkg/session"
)

// NewServer creates an MCP server bound to one installer session.
func NewServer(version string, sess *session.Session) *server.MCPServer {
	s := server.NewMCPServer(
		"levitate",
		version,
		server.WithToolCapabilities(true),
	)
	h := &handlers{sess: sess}

	s.AddTool(
		mcp.NewTool("levitate/probe",
			mcp.WithDescription("Return the current system snapshot: disks, partitions, mounts, boot mode"),
		),
		h.Probe,
	)

	s.AddTool(
		mcp.NewTool("levitate/status",
			mcp.WithDescription("Return installation progress: current stage, completed stages, pending confirmation"),
		),
		h.Status,
	)

	s.AddTool(
		mcp.NewTool("levitate/schema",
			mcp.WithDescription("Export the JSON Schema for action envelopes accepted by levitate/submit"),
		),
		h.Schema,
	)

	s.AddTool(
		mcp.NewTool("levitate/submit",
			mcp.WithDescription("Submit one action envelope. Destructive actions return a summary and wait for levitate/confirm"),
			mcp.WithString("action", mcp.Required(), mcp.Description("The action envelope as a JSON string")),
		),
		h.Submit,
	)

	s.AddTool(
		mcp.NewTool("levitate/confirm",
			mcp.WithDescription("Resolve the pending destructive plan. Only accept=true executes it"),
			mcp.WithBoolean("accept", mcp.Required(), mcp.Description("true executes the pending plan, false discards it")),
		),
		h.Confirm,
	)

	return s
}
