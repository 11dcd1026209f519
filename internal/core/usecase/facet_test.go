package usecase

import (
	"sort"
	"testing"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

func TestClassifyFacet(t *testing.T) {
	cases := []struct {
		query string
		want  domain.Facet
	}{
		{query: "Khóa chính là gì?", want: domain.FacetDefinition},
		{query: "What is a foreign key", want: domain.FacetDefinition},
		{query: "cú pháp GROUP BY", want: domain.FacetSyntax},
		{query: "cho ví dụ về INNER JOIN", want: domain.FacetExample},
		{query: "so sánh WHERE và HAVING", want: domain.FacetComparison},
		{query: "tại sao truy vấn của tôi bị lỗi", want: domain.FacetTroubleshooting},
		{query: "primary key", want: domain.FacetGeneral},
		{query: "syntaxes", want: domain.FacetGeneral},
	}
	for _, tc := range cases {
		if got := ClassifyFacet(tc.query); got != tc.want {
			t.Fatalf("ClassifyFacet(%q) = %s, want %s", tc.query, got, tc.want)
		}
	}
}

func TestDetectSQLClauses(t *testing.T) {
	got := detectSQLClauses("ví dụ LEFT JOIN kết hợp group   by")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "group by" || got[1] != "join" {
		t.Fatalf("unexpected clauses: %v", got)
	}
	if clauses := detectSQLClauses("selection of indexes"); len(clauses) != 0 {
		t.Fatalf("expected no clause inside longer words, got %v", clauses)
	}
}
