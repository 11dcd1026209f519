package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

const defaultClassifierHistoryTurns = 6

// LLMIntentClassifier expands and classifies a query with one structured
// generation call.
type LLMIntentClassifier struct {
	normalizer   *QueryNormalizer
	generator    ports.Generator
	historyTurns int
	logger       *slog.Logger
}

func NewLLMIntentClassifier(
	normalizer *QueryNormalizer,
	generator ports.Generator,
	historyTurns int,
	logger *slog.Logger,
) *LLMIntentClassifier {
	if normalizer == nil {
		normalizer = NewQueryNormalizer(nil)
	}
	if historyTurns <= 0 {
		historyTurns = defaultClassifierHistoryTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMIntentClassifier{
		normalizer:   normalizer,
		generator:    newQuotaAwareGenerator(generator, logger),
		historyTurns: historyTurns,
		logger:       logger,
	}
}

type classifierResponse struct {
	ExpandedQuery   string          `json:"expanded_query"`
	QueryType       string          `json:"query_type"`
	CorrectionsMade json.RawMessage `json:"corrections_made"`
}

func (c *LLMIntentClassifier) Classify(ctx context.Context, query string, history []domain.Turn) (domain.ExpandedQuery, domain.QueryType) {
	normalized, corrections := c.normalizer.NormalizeWithCorrections(strings.TrimSpace(query))
	if len(corrections) > 0 {
		c.logger.Debug("normalizer_corrections", "count", len(corrections), "corrections", corrections)
	}

	expanded := domain.ExpandedQuery{
		Original:    query,
		Normalized:  normalized,
		Expanded:    normalized,
		Corrections: corrections,
	}

	raw, err := c.generator.Invoke(ctx, buildClassifierPrompt(normalized, trimHistory(history, c.historyTurns)))
	if err != nil {
		c.logger.Warn("intent_classify_failed", "error", err)
		return expanded, domain.QueryTypeDocumentQuestion
	}

	resp, err := parseClassifierResponse(raw)
	if err != nil {
		c.logger.Warn("intent_parse_failed", "error", err)
		return expanded, domain.QueryTypeDocumentQuestion
	}

	// An unknown label discards the whole response, rewrite included.
	queryType, ok := domain.ParseQueryType(resp.QueryType)
	if !ok {
		c.logger.Warn("intent_unknown_type", "query_type", resp.QueryType)
		return expanded, domain.QueryTypeDocumentQuestion
	}

	if text := strings.TrimSpace(resp.ExpandedQuery); text != "" {
		expanded.Expanded = text
	}
	expanded.Corrections = mergeCorrections(expanded.Corrections, parseModelCorrections(resp.CorrectionsMade))
	return expanded, queryType
}

func parseClassifierResponse(raw string) (classifierResponse, error) {
	block, ok := extractFirstJSONObject(raw)
	if !ok {
		return classifierResponse{}, fmt.Errorf("no json object in classifier output")
	}
	var resp classifierResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return classifierResponse{}, fmt.Errorf("decode classifier json: %w", err)
	}
	if strings.TrimSpace(resp.QueryType) == "" {
		return classifierResponse{}, fmt.Errorf("classifier json missing query_type")
	}
	return resp, nil
}

// extractFirstJSONObject returns the first balanced {...} block, ignoring
// braces inside JSON strings.
func extractFirstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// parseModelCorrections accepts either [{"wrong":..,"correct":..}] or a
// {"wrong":"correct"} object.
func parseModelCorrections(raw json.RawMessage) []domain.Correction {
	if len(raw) == 0 {
		return nil
	}
	var list []domain.Correction
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err == nil {
		out := make([]domain.Correction, 0, len(mapping))
		for wrong, correct := range mapping {
			out = append(out, domain.Correction{Wrong: wrong, Correct: correct})
		}
		return out
	}
	return nil
}

func mergeCorrections(base, extra []domain.Correction) []domain.Correction {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]domain.Correction, 0, len(base)+len(extra))
	for _, c := range append(append([]domain.Correction{}, base...), extra...) {
		if strings.TrimSpace(c.Wrong) == "" || strings.TrimSpace(c.Correct) == "" {
			continue
		}
		key := strings.ToLower(c.Wrong) + "\x00" + strings.ToLower(c.Correct)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func trimHistory(history []domain.Turn, limit int) []domain.Turn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
