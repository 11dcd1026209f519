package domain

import "time"

type Provenance string

const (
	ProvenanceDocument    Provenance = "document"
	ProvenanceWebFallback Provenance = "web_fallback"
)

// Metadata keys read from vector payloads and set on synthetic passages.
const (
	MetaSource             = "source"
	MetaDocumentID         = "doc_id"
	MetaPage               = "page"
	MetaSection            = "section"
	MetaURLs               = "urls"
	MetaHasDefinition      = "has_definition"
	MetaHasSQLSyntax       = "has_sql_syntax"
	MetaHasExample         = "has_example"
	MetaHasComparison      = "has_comparison"
	MetaHasTroubleshooting = "has_troubleshooting"
	MetaSQLClauses         = "sql_clauses"
)

type Passage struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	BaseScore    float64        `json:"base_score"`
	RerankScore  float64        `json:"rerank_score"`
	BoostedScore float64        `json:"boosted_score"`
	Provenance   Provenance     `json:"provenance"`
}

// Facet is the coarse shape of what a search query asks for. It only tunes
// rerank boosts.
type Facet string

const (
	FacetDefinition      Facet = "definition"
	FacetSyntax          Facet = "syntax"
	FacetExample         Facet = "example"
	FacetComparison      Facet = "comparison"
	FacetTroubleshooting Facet = "troubleshooting"
	FacetGeneral         Facet = "general"
)

type Citation struct {
	Index      int        `json:"index"`
	Provenance Provenance `json:"provenance"`
	Source     string     `json:"source,omitempty"`
	Page       string     `json:"page,omitempty"`
	Section    string     `json:"section,omitempty"`
	URLs       []string   `json:"urls,omitempty"`
	Score      float64    `json:"score"`
}

type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type FallbackResult struct {
	Content    string   `json:"content"`
	SourceURLs []string `json:"source_urls"`
	Found      bool     `json:"found"`
	CacheHit   bool     `json:"cache_hit"`
}

type CacheEntry struct {
	Content    string    `json:"content"`
	SourceURLs []string  `json:"source_urls"`
	StoredAt   time.Time `json:"stored_at"`
}
