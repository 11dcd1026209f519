package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

const (
	serverName    = "doc-qa-assistant"
	serverVersion = "1.0.0"

	askDocumentsTool = "ask_documents"
)

// AskResult is the structured body returned by ask_documents.
type AskResult struct {
	Answer    string            `json:"answer"`
	QueryType domain.QueryType  `json:"query_type"`
	Citations []domain.Citation `json:"citations"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

type Server struct {
	answers ports.AnswerService
	mcp     *server.MCPServer
	logger  *slog.Logger
}

func NewServer(answers ports.AnswerService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		answers: answers,
		logger:  logger,
		mcp: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(false),
			server.WithInstructions("Grounded question answering over the indexed document corpus, with live web fallback."),
		),
	}

	s.mcp.AddTool(
		mcp.NewTool(askDocumentsTool,
			mcp.WithDescription("Answer a question from the indexed documents and return the answer with its citations"),
			mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language question")),
			mcp.WithArray("sources", mcp.Description("Optional source names to restrict retrieval to"), mcp.Items(map[string]any{"type": "string"})),
			mcp.WithArray("document_ids", mcp.Description("Optional document ids to restrict retrieval to"), mcp.Items(map[string]any{"type": "string"})),
		),
		s.handleAskDocuments,
	)
	return s
}

// HTTPHandler serves the MCP streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath("/mcp"), server.WithStateLess(true))
}

func (s *Server) handleAskDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := strings.TrimSpace(request.GetString("question", ""))
	if question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	req := domain.AnswerRequest{
		Query: domain.Query{
			Text: question,
			Scope: domain.Scope{
				Sources:     request.GetStringSlice("sources", nil),
				DocumentIDs: request.GetStringSlice("document_ids", nil),
			},
		},
	}

	result, err := s.collect(ctx, req)
	if err != nil {
		s.logger.Warn("mcp_ask_documents_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal ask result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// collect drains one answer stream into a single result.
func (s *Server) collect(ctx context.Context, req domain.AnswerRequest) (AskResult, error) {
	var (
		result AskResult
		text   strings.Builder
		ended  bool
	)
	for ev := range s.answers.Answer(ctx, req) {
		switch ev.Type {
		case domain.EventStart:
			result.QueryType = ev.Start.QueryType
		case domain.EventSources:
			result.Citations = ev.Sources.Citations
		case domain.EventContent:
			text.WriteString(ev.Content.Delta)
		case domain.EventEnd:
			result.ElapsedMS = ev.End.ElapsedMS
			ended = true
		}
	}
	if !ended {
		if err := ctx.Err(); err != nil {
			return AskResult{}, fmt.Errorf("answer interrupted: %w", err)
		}
		return AskResult{}, fmt.Errorf("answer stream ended without completion")
	}
	if result.Citations == nil {
		result.Citations = []domain.Citation{}
	}
	result.Answer = text.String()
	return result, nil
}
