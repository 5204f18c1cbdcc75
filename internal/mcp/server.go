package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/crhan/planaudit/internal/audit"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/store"
)

// Server exposes plan audits as MCP tools.
type Server struct {
	runner  *audit.Runner
	store   store.Store
	version string
}

// NewServer creates the MCP server wrapper. st may be nil when history is disabled.
func NewServer(runner *audit.Runner, st store.Store, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{runner: runner, store: st, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("planaudit", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.planAuditTool())
	srv.AddTool(s.historyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// plan_audit
func (s *Server) planAuditTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("plan_audit",
		mcp.WithDescription("Send an implementation plan to two independent reviewer models and return the merged APPROVE, CONCERNS or REJECT decision with reason and feedback. Treat anything other than APPROVE as a reason to revise the plan."),
		mcp.WithString("plan", mcp.Required(), mcp.Description("Full plan text (Markdown)")),
		mcp.WithString("plan_path", mcp.Description("Path of the plan file; enables <plan>-review-notes.md lookup")),
		mcp.WithString("session_id", mcp.Description("Conversation session id, used to recall the previous audit")),
		mcp.WithString("cwd", mcp.Description("Project working directory for CLAUDE.md and transcript discovery")),
		mcp.WithString("transcript_path", mcp.Description("Conversation transcript (JSONL) to include recent dialogue from")),
	)
	return tool, s.handlePlanAudit
}

type auditOut struct {
	AuditID      string           `json:"audit_id"`
	Decision     models.Decision  `json:"decision"`
	Reason       string           `json:"reason"`
	Feedback     string           `json:"feedback,omitempty"`
	AttributedTo string           `json:"attributed_to"`
	Reviewers    []reviewerOutput `json:"reviewers"`
}

type reviewerOutput struct {
	Role     models.Role     `json:"role"`
	Name     string          `json:"name"`
	Model    string          `json:"model"`
	Outcome  string          `json:"outcome"`
	Decision models.Decision `json:"decision,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) handlePlanAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan, err := request.RequireString("plan")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: plan"), nil
	}

	res, err := s.runner.Run(ctx, audit.Request{
		Plan:           plan,
		PlanPath:       request.GetString("plan_path", ""),
		SessionID:      request.GetString("session_id", ""),
		Cwd:            request.GetString("cwd", ""),
		TranscriptPath: request.GetString("transcript_path", ""),
	})
	if errors.Is(err, audit.ErrNoReviewers) {
		return mcp.NewToolResultError("no reviewers configured: set an API key with `planaudit config set-key`"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("audit failed: %v", err)), nil
	}

	out := auditOut{
		AuditID:      res.AuditID,
		Decision:     res.Merged.Decision,
		Reason:       res.Merged.Reason,
		Feedback:     res.Merged.Feedback,
		AttributedTo: string(res.Merged.AttributedTo),
	}
	for _, role := range models.Roles {
		r := res.Reviewer(role)
		if r == nil {
			continue
		}
		ro := reviewerOutput{Role: r.Role, Name: r.Name, Model: r.Model, Outcome: r.Outcome.Class()}
		if r.Verdict != nil {
			ro.Decision = r.Verdict.Decision
			ro.Reason = r.Verdict.Reason
		}
		if r.Outcome.Failure != nil {
			ro.Error = r.Outcome.Failure.Error()
		}
		out.Reviewers = append(out.Reviewers, ro)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal audit: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// plan_audit_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("plan_audit_history",
		mcp.WithDescription("List recent plan audits, newest first. Returns a JSON array with id, session_id, decision, reason and created_at."),
		mcp.WithString("session_id", mcp.Description("Only audits from this session")),
		mcp.WithString("decision", mcp.Description("Filter by decision: APPROVE, CONCERNS or REJECT")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of audits (default 20)")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("audit history is disabled"), nil
	}

	filter := store.AuditListFilter{
		SessionID: request.GetString("session_id", ""),
		Limit:     request.GetInt("limit", 20),
	}
	if d := request.GetString("decision", ""); d != "" {
		dec, ok := models.ParseDecision(d)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid decision: %s", d)), nil
		}
		filter.Decision = dec
	}

	recs, err := s.store.ListAudits(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list audits: %v", err)), nil
	}

	type auditSummary struct {
		ID        string          `json:"id"`
		SessionID string          `json:"session_id,omitempty"`
		Decision  models.Decision `json:"decision"`
		Reason    string          `json:"reason"`
		CreatedAt time.Time       `json:"created_at"`
	}

	out := make([]auditSummary, len(recs))
	for i, r := range recs {
		out[i] = auditSummary{
			ID:        r.ID,
			SessionID: r.SessionID,
			Decision:  r.Decision,
			Reason:    r.Reason,
			CreatedAt: r.CreatedAt,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal audits: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
