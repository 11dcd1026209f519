package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type facetFamily struct {
	facet    domain.Facet
	patterns []*regexp.Regexp
}

// facetFamilies are checked in order; the first family with a matching
// pattern decides the facet.
var facetFamilies = []facetFamily{
	{
		facet: domain.FacetDefinition,
		patterns: compilePatterns(
			`là gì`, `là sao`, `định nghĩa`, `khái niệm`, `nghĩa là`,
			`what (is|are)`, `defin(e|ition)`, `meaning of`,
		),
	},
	{
		facet: domain.FacetSyntax,
		patterns: compilePatterns(
			`cú pháp`, `cách viết`, `câu lệnh`, `viết lệnh`,
			`syntax`, `how to write`, `statement`,
		),
	},
	{
		facet: domain.FacetExample,
		patterns: compilePatterns(
			`ví dụ`, `minh họa`, `minh hoạ`, `mẫu`,
			`examples?`, `sample`, `demo`,
		),
	},
	{
		facet: domain.FacetComparison,
		patterns: compilePatterns(
			`so sánh`, `khác nhau`, `khác gì`, `giống nhau`, `phân biệt`,
			`compare`, `comparison`, `difference`, `vs\.?`, `versus`,
		),
	},
	{
		facet: domain.FacetTroubleshooting,
		patterns: compilePatterns(
			`lỗi`, `sửa`, `không chạy`, `bị sai`, `tại sao`, `khắc phục`,
			`error`, `fix`, `debug`, `fails?`, `not working`, `why`,
		),
	},
}

// sqlClausePatterns detects SQL clauses named in a query; keys match the
// values stored in passage metadata under sql_clauses.
var sqlClausePatterns = map[string]*regexp.Regexp{
	"select":   wordPattern(`select`),
	"join":     wordPattern(`(inner |left |right |full |cross )?join`),
	"where":    wordPattern(`where`),
	"group by": wordPattern(`group\s+by`),
	"having":   wordPattern(`having`),
	"order by": wordPattern(`order\s+by`),
	"insert":   wordPattern(`insert`),
	"update":   wordPattern(`update`),
	"delete":   wordPattern(`delete`),
	"create":   wordPattern(`create`),
	"alter":    wordPattern(`alter`),
	"union":    wordPattern(`union`),
	"subquery": wordPattern(`(subquery|truy vấn con)`),
	"index":    wordPattern(`index`),
	"trigger":  wordPattern(`trigger`),
	"view":     wordPattern(`view`),
}

// wordPattern matches expr as a whole phrase. regexp's \b only knows ASCII
// word characters, which breaks on Vietnamese letters.
func wordPattern(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + expr + `)(?:[^\p{L}\p{N}_]|$)`)
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, wordPattern(expr))
	}
	return out
}

// ClassifyFacet picks the facet of a search query.
func ClassifyFacet(query string) domain.Facet {
	q := strings.ToLower(query)
	for _, family := range facetFamilies {
		for _, pattern := range family.patterns {
			if pattern.MatchString(q) {
				return family.facet
			}
		}
	}
	return domain.FacetGeneral
}

func detectSQLClauses(query string) []string {
	out := make([]string, 0, 2)
	for clause, pattern := range sqlClausePatterns {
		if pattern.MatchString(query) {
			out = append(out, clause)
		}
	}
	return out
}
