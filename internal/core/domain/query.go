package domain

import "strings"

type QueryType string

const (
	QueryTypeOffTopic         QueryType = "off_topic"
	QueryTypeSQLCodeTask      QueryType = "sql_code_task"
	QueryTypeRealtimeQuestion QueryType = "realtime_question"
	QueryTypeDocumentQuestion QueryType = "document_question"
)

// ParseQueryType maps a classifier label onto the closed QueryType set.
// Unknown labels report ok=false.
func ParseQueryType(raw string) (QueryType, bool) {
	switch QueryType(strings.ToLower(strings.TrimSpace(raw))) {
	case QueryTypeOffTopic:
		return QueryTypeOffTopic, true
	case QueryTypeSQLCodeTask:
		return QueryTypeSQLCodeTask, true
	case QueryTypeRealtimeQuestion:
		return QueryTypeRealtimeQuestion, true
	case QueryTypeDocumentQuestion:
		return QueryTypeDocumentQuestion, true
	default:
		return "", false
	}
}

// RequiresRetrieval reports whether the branch for this type may touch the
// vector index.
func (t QueryType) RequiresRetrieval() bool {
	return t == QueryTypeDocumentQuestion
}

type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Scope narrows retrieval to specific documents or source names.
type Scope struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

func (s Scope) IsEmpty() bool {
	return len(s.DocumentIDs) == 0 && len(s.Sources) == 0
}

type Query struct {
	Text    string `json:"text"`
	History []Turn `json:"history,omitempty"`
	Scope   Scope  `json:"scope"`
}

type Correction struct {
	Wrong   string `json:"wrong"`
	Correct string `json:"correct"`
}

type ExpandedQuery struct {
	Original    string       `json:"original"`
	Normalized  string       `json:"normalized"`
	Expanded    string       `json:"expanded"`
	Corrections []Correction `json:"corrections,omitempty"`
}

// SearchText is the text sent to retrieval: the expansion when present,
// otherwise the normalized input.
func (q ExpandedQuery) SearchText() string {
	if strings.TrimSpace(q.Expanded) != "" {
		return q.Expanded
	}
	if strings.TrimSpace(q.Normalized) != "" {
		return q.Normalized
	}
	return q.Original
}
