// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Berkano tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/berkano/internal/content"
	"github.com/starford/berkano/internal/dispatch"
	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/reconcile"
	"github.com/starford/berkano/internal/store"
)

// Server wraps the MCP server with Berkano tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *content.Service
	engine *reconcile.Engine
	disp   *dispatch.Dispatcher
	db     *store.Store
}

// New creates a new MCP server with all Berkano tools registered.
func New(svc *content.Service, engine *reconcile.Engine, disp *dispatch.Dispatcher, db *store.Store) *Server {
	s := &Server{svc: svc, engine: engine, disp: disp, db: db}

	s.mcp = server.NewMCPServer(
		"Berkano",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_records",
		mcp.WithDescription("Full-text search through record titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchRecords)

	s.mcp.AddTool(mcp.NewTool("read_record",
		mcp.WithDescription("Read a record by id: its index row, tags, and full file content."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id (e.g. note-0001)")),
	), s.readRecord)

	s.mcp.AddTool(mcp.NewTool("create_record",
		mcp.WithDescription("Create a new record. The engine allocates the id and derives "+
			"the file path; never invent either. Read the contract first via the "+
			"get_record_contract tool or the berkano://record-format resource."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Record type: note, task, or reference")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Record title")),
		mcp.WithString("body", mcp.Description("Markdown body")),
		mcp.WithString("status", mcp.Description("Initial status (defaults to the type's first lifecycle stage)")),
		mcp.WithString("topic", mcp.Description("Optional topic subdirectory")),
	), s.createRecord)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List record ids and titles, optionally filtered by type."),
		mcp.WithString("type", mcp.Description("Optional type filter: note, task, or reference")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the canonical Berkano record format contract. "+
			"Call this before creating or updating records to ensure correct structure."),
	), s.getRecordContract)

	s.mcp.AddTool(mcp.NewTool("garden_check",
		mcp.WithDescription("Run the read-only reconciliation passes and report findings."),
	), s.gardenCheck)

	s.mcp.AddTool(mcp.NewTool("garden_fix",
		mcp.WithDescription("Back up the store and repair detected inconsistencies."),
		mcp.WithString("level", mcp.Description("Repair level: safe (default) or aggressive")),
	), s.gardenFix)

	s.mcp.AddTool(mcp.NewTool("drain_events",
		mcp.WithDescription("Retry every pending or failed event in the durable dispatch log."),
	), s.drainEvents)

	// Resource: record format contract.
	s.mcp.AddResource(
		mcp.NewResource("berkano://record-format", "Record Format Contract",
			mcp.WithResourceDescription("Canonical Markdown record format that all records must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.db.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeStr, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := models.ParseType(typeStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p := content.CreateParams{Type: t, Title: title}
	if body, err := req.RequireString("body"); err == nil {
		p.Body = body
	}
	if status, err := req.RequireString("status"); err == nil {
		p.Status = status
	}
	if topic, err := req.RequireString("topic"); err == nil {
		p.Topic = topic
	}

	rec, err := s.svc.Create(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s at %s", rec.ID, rec.Path)), nil
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeFilter := ""
	if f, err := req.RequireString("type"); err == nil {
		typeFilter = f
	}

	records, err := store.AllRecords(s.db.Conn())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var lines []string
	for _, rec := range records {
		if typeFilter != "" && string(rec.Type) != typeFilter {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", rec.ID, rec.Status, rec.Title))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no records"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getRecordContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) gardenCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := s.engine.Check(ctx)
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) gardenFix(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level := reconcile.LevelSafe
	if l, err := req.RequireString("level"); err == nil && l != "" {
		level = l
	}
	res := s.engine.Fix(ctx, level)
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) drainEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	drained, err := s.disp.Drain(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(drained) == 0 {
		return mcp.NewToolResultText("nothing to drain"), nil
	}
	out, _ := json.MarshalIndent(drained, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "berkano://record-format",
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
