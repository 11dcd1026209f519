package mcpadapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type answerServiceFake struct {
	last     domain.AnswerRequest
	deltas   []string
	truncate bool
}

func (f *answerServiceFake) Answer(_ context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent {
	f.last = req
	out := make(chan domain.StreamEvent, len(f.deltas)+3)
	out <- domain.StartEvent(domain.QueryTypeDocumentQuestion, req.Query.Scope, domain.StreamCounts{})
	out <- domain.SourcesEvent([]domain.Citation{{Index: 1, Source: "sql-guide.pdf", Provenance: domain.ProvenanceDocument}})
	for _, d := range f.deltas {
		out <- domain.ContentEvent(d)
	}
	if !f.truncate {
		out <- domain.EndEvent(15, domain.QueryTypeDocumentQuestion)
	}
	close(out)
	return out
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = askDocumentsTool
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected tool result content, got %+v", res)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestAskDocumentsCollectsAnswer(t *testing.T) {
	answers := &answerServiceFake{deltas: []string{"GROUP BY ", "gom nhóm các dòng."}}
	srv := NewServer(answers, nil)

	res, err := srv.handleAskDocuments(context.Background(), callRequest(map[string]any{
		"question": " GROUP BY là gì? ",
		"sources":  []any{"sql-guide.pdf"},
	}))
	if err != nil {
		t.Fatalf("ask documents: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	var body AskResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if body.Answer != "GROUP BY gom nhóm các dòng." || body.QueryType != domain.QueryTypeDocumentQuestion || body.ElapsedMS != 15 {
		t.Fatalf("unexpected result: %+v", body)
	}
	if len(body.Citations) != 1 || body.Citations[0].Source != "sql-guide.pdf" {
		t.Fatalf("unexpected citations: %+v", body.Citations)
	}

	if answers.last.Query.Text != "GROUP BY là gì?" {
		t.Fatalf("expected trimmed question, got %q", answers.last.Query.Text)
	}
	if sources := answers.last.Query.Scope.Sources; len(sources) != 1 || sources[0] != "sql-guide.pdf" {
		t.Fatalf("unexpected scope sources: %v", sources)
	}
}

func TestAskDocumentsRequiresQuestion(t *testing.T) {
	answers := &answerServiceFake{}
	srv := NewServer(answers, nil)

	res, err := srv.handleAskDocuments(context.Background(), callRequest(map[string]any{"question": "  "}))
	if err != nil {
		t.Fatalf("ask documents: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result for blank question")
	}
	if answers.last.Query.Text != "" {
		t.Fatalf("answer service must not be called, got %q", answers.last.Query.Text)
	}
}

func TestAskDocumentsReportsIncompleteStream(t *testing.T) {
	srv := NewServer(&answerServiceFake{deltas: []string{"partial"}, truncate: true}, nil)

	res, err := srv.handleAskDocuments(context.Background(), callRequest(map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("ask documents: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "without completion") {
		t.Fatalf("expected incomplete stream error, got %+v", res)
	}
}

func TestHTTPHandlerIsMountable(t *testing.T) {
	if NewServer(&answerServiceFake{}, nil).HTTPHandler() == nil {
		t.Fatalf("expected an http handler")
	}
}
