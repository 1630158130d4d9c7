// Package mcp exposes the field extractor and the ledger as MCP tools, so an
// operator can check layouts and case state against real documents.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/a3tai/dispatch-sync/internal/config"
	"github.com/a3tai/dispatch-sync/internal/descriptions"
	"github.com/a3tai/dispatch-sync/internal/extract"
	"github.com/a3tai/dispatch-sync/internal/ledger"
	"github.com/a3tai/dispatch-sync/internal/pdf"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is announced to MCP clients.
const ServerName = "dispatch-inspect"

// LedgerReader is the read side of the record ledger.
type LedgerReader interface {
	Get(ctx context.Context, caseID string, ns ledger.Namespace, v any) (bool, error)
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	validator *pdf.Validator
	extractor *extract.Extractor
	ledger    LedgerReader
	mcpServer *server.MCPServer
	tools     []string
	logger    *slog.Logger

	stdin  io.Reader
	stdout io.Writer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, validator *pdf.Validator, extractor *extract.Extractor, led LedgerReader, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if validator == nil || extractor == nil || led == nil {
		return nil, fmt.Errorf("validator, extractor and ledger are required")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		validator: validator,
		extractor: extractor,
		ledger:    led,
		mcpServer: mcpServer,
		logger:    logger.With("component", "mcp"),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}

	s.registerTools()

	return s, nil
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	kinds := []string{
		extract.InitialDispatch.String(),
		extract.StatusUpdate.String(),
		extract.ClosingProtocol.String(),
		extract.ScannedReport.String(),
	}

	s.addTool(mcp.NewTool(
		"validate_pdf",
		mcp.WithDescription(descriptions.GetToolDescription("validate_pdf")),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
	), s.handleValidatePDF)

	s.addTool(mcp.NewTool(
		"extract_fields",
		mcp.WithDescription(descriptions.GetToolDescription("extract_fields")),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Document kind"),
			mcp.Enum(kinds...),
		),
		mcp.WithString("case_id",
			mcp.Required(),
			mcp.Description("Case id the document must belong to, e.g. F20230001"),
		),
	), s.handleExtractFields)

	s.addTool(mcp.NewTool(
		"read_region",
		mcp.WithDescription(descriptions.GetToolDescription("read_region")),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
		mcp.WithNumber("page", mcp.Description("1-based page number"), mcp.DefaultNumber(1)),
		mcp.WithNumber("left", mcp.Required(), mcp.Description("Left edge in points")),
		mcp.WithNumber("top", mcp.Required(), mcp.Description("Top edge in points, measured from the top of the page")),
		mcp.WithNumber("width", mcp.Required(), mcp.Description("Width in points")),
		mcp.WithNumber("height", mcp.Required(), mcp.Description("Height in points")),
	), s.handleReadRegion)

	s.addTool(mcp.NewTool(
		"show_layout",
		mcp.WithDescription(descriptions.GetToolDescription("show_layout")),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Document kind"),
			mcp.Enum(kinds...),
		),
	), s.handleShowLayout)

	s.addTool(mcp.NewTool(
		"ledger_get",
		mcp.WithDescription(descriptions.GetToolDescription("ledger_get")),
		mcp.WithString("case_id",
			mcp.Required(),
			mcp.Description("Case id, e.g. F20230001"),
		),
		mcp.WithString("namespace",
			mcp.Description("Ledger namespace"),
			mcp.Enum(string(ledger.NamespaceRegistry), string(ledger.NamespacePDF)),
		),
	), s.handleLedgerGet)
}

// Tools returns the names of the registered tools in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Handler functions
func (s *Server) handleValidatePDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.validator.ValidateFile(path)
	if !result.Valid {
		return mcp.NewToolResultText(fmt.Sprintf("PDF validation failed for %s: %s", result.Path, result.Message)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("PDF file %s is valid and readable (%d pages)", result.Path, result.Pages)), nil
}

func (s *Server) handleExtractFields(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kindName, err := request.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caseID, err := request.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := extract.ParseKind(kindName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fields, err := s.extractor.Extract(ctx, kind, path, caseID)
	if err != nil {
		var extractErr *extract.Error
		if errors.As(err, &extractErr) {
			return mcp.NewToolResultError(fmt.Sprintf("Extraction failed (%s): %s", extractErr.Type, extractErr.Error())), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatFields(kind, caseID, fields)), nil
}

func (s *Server) handleReadRegion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var dims [4]float64
	for i, name := range []string{"left", "top", "width", "height"} {
		if dims[i], err = request.RequireFloat(name); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	rect := pdf.Rect{Left: dims[0], Top: dims[1], Right: dims[0] + dims[2], Bottom: dims[1] + dims[3]}
	if err := rect.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	page := request.GetInt("page", 1)

	if err := s.validator.Validate(path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	glyphs, err := pdf.PageGlyphs(path, page)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := pdf.RegionText(glyphs, rect)
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultText(fmt.Sprintf("No text in region %+v on page %d", rect, page)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Text in region %+v on page %d:\n%s", rect, page, text)), nil
}

func (s *Server) handleShowLayout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kindName, err := request.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := extract.ParseKind(kindName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	layout, ok := s.extractor.Layout(kind)
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("No layout configured for %s; documents of this kind are not parsed", kind)), nil
	}
	return mcp.NewToolResultText(formatLayout(kind, layout)), nil
}

func (s *Server) handleLedgerGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := request.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns := ledger.Namespace(request.GetString("namespace", string(ledger.NamespaceRegistry)))

	var entry map[string]string
	found, err := s.ledger.Get(ctx, caseID, ns, &entry)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !found {
		return mcp.NewToolResultText(fmt.Sprintf("No %s entry for case %s", ns, caseID)), nil
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Ledger %s entry for case %s:\n%s", ns, caseID, data)), nil
}

// Formatting functions
func formatFields(kind extract.Kind, caseID string, fields extract.Fields) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	text := fmt.Sprintf("Extracted %d field(s) from %s document of case %s\n", len(fields), kind, caseID)
	for _, name := range names {
		text += fmt.Sprintf("• %s: %s\n", name, strings.ReplaceAll(fields[name], "\n", " / "))
	}
	return text
}

func formatLayout(kind extract.Kind, layout extract.Layout) string {
	text := fmt.Sprintf("Layout for %s (page %d)\n", kind, layout.Page)
	text += fmt.Sprintf("Identity %s: %s\n", layout.Identity.Name, formatRect(layout.Identity.Rect))
	text += "Fields:\n"
	for _, f := range layout.Fields {
		text += fmt.Sprintf("• %s: %s", f.Name, formatRect(f.Rect))
		if f.Transform != "" {
			text += fmt.Sprintf(" [%s]", f.Transform)
		}
		text += "\n"
	}
	return text
}

func formatRect(r pdf.Rect) string {
	return fmt.Sprintf("x=%g y=%g w=%g h=%g", r.Left, r.Top, r.Right-r.Left, r.Bottom-r.Top)
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server over standard I/O until ctx is done or the
// client closes stdin
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Debug("starting MCP server in stdio mode")

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))
	if err := stdio.Listen(ctx, s.stdin, s.stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves streamable HTTP on the configured address until ctx
// is done
func (s *Server) runServerMode(ctx context.Context) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.logger.Info("starting MCP server", "address", s.config.Address())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start(s.config.Address())
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down MCP server")
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	}
}
