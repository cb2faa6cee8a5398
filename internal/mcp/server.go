// Package mcp exposes a stepped-mode control surface over the Model Context
// Protocol. Operators inspect run progress and release the advance gate; the
// server never mutates scenarios.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ensemble/internal/orchestrator"
	"github.com/louisbranch/ensemble/internal/report"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "Ensemble Control"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
)

// Server hosts the MCP control server for one run.
type Server struct {
	mcpServer *mcp.Server
}

// New creates a control server bound to a tracker and the run's advance gate.
func New(tracker *Tracker, advancer *orchestrator.ChannelAdvancer) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	registerControlTools(mcpServer, tracker, advancer)
	return &Server{mcpServer: mcpServer}
}

// Run serves MCP over stdio until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}

func registerControlTools(mcpServer *mcp.Server, tracker *Tracker, advancer *orchestrator.ChannelAdvancer) {
	mcp.AddTool(mcpServer, RunStatusTool(), RunStatusHandler(tracker))
	mcp.AddTool(mcpServer, AdvanceTool(), AdvanceHandler(tracker, advancer))
	mcp.AddTool(mcpServer, LastReportTool(), LastReportHandler(tracker))
}

// RunStatusInput has no fields; run_status takes no arguments.
type RunStatusInput struct{}

// RunStatusTool defines the MCP tool schema for inspecting run progress.
func RunStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "run_status",
		Description: "Get the current scenario run status: the next step to run and every step's status",
	}
}

// RunStatusHandler returns the tracker's snapshot.
func RunStatusHandler(tracker *Tracker) mcp.ToolHandlerFor[RunStatusInput, RunStatus] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ RunStatusInput) (*mcp.CallToolResult, RunStatus, error) {
		return nil, tracker.Status(), nil
	}
}

// AdvanceInput has no fields; advance takes no arguments.
type AdvanceInput struct{}

// AdvanceResult reports the step the advance signal released.
type AdvanceResult struct {
	Released int  `json:"released" jsonschema:"index of the step the signal releases, -1 when the run is over"`
	Done     bool `json:"done" jsonschema:"whether the run had already finished"`
}

// AdvanceTool defines the MCP tool schema for releasing the next step.
func AdvanceTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "advance",
		Description: "Release the stepped-mode gate so the orchestrator runs the next step",
	}
}

// AdvanceHandler queues one advance signal.
func AdvanceHandler(tracker *Tracker, advancer *orchestrator.ChannelAdvancer) mcp.ToolHandlerFor[AdvanceInput, AdvanceResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ AdvanceInput) (*mcp.CallToolResult, AdvanceResult, error) {
		status := tracker.Status()
		if status.Done {
			return nil, AdvanceResult{Released: -1, Done: true}, nil
		}
		advancer.Release()
		return nil, AdvanceResult{Released: status.Current}, nil
	}
}

// LastReportInput has no fields; last_report takes no arguments.
type LastReportInput struct{}

// LastReportTool defines the MCP tool schema for reading the finished run's
// report.
func LastReportTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "last_report",
		Description: "Get the finished run's report with totals, per-step results and metrics",
	}
}

// LastReportHandler returns the published report once the run is over.
func LastReportHandler(tracker *Tracker) mcp.ToolHandlerFor[LastReportInput, report.Report] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ LastReportInput) (*mcp.CallToolResult, report.Report, error) {
		published := tracker.Report()
		if published == nil {
			return nil, report.Report{}, fmt.Errorf("no report yet: the run has not finished")
		}
		return nil, *published, nil
	}
}
