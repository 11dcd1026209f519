package usecase

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// DefaultNormalizerDictionary maps frequent misspellings and abbreviations
// seen in user questions onto canonical terms.
func DefaultNormalizerDictionary() map[string]string {
	return map[string]string{
		"pk":          "primary key",
		"fk":          "foreign key",
		"db":          "database",
		"csdl":        "cơ sở dữ liệu",
		"sql sever":   "sql server",
		"sqlsever":    "sql server",
		"sql sv":      "sql server",
		"mssql":       "sql server",
		"mysq":        "mysql",
		"postgre":     "postgresql",
		"postgres":    "postgresql",
		"khoa chinh":  "khóa chính",
		"khoá chính":  "khóa chính",
		"khoa ngoai":  "khóa ngoại",
		"khoá ngoại":  "khóa ngoại",
		"truy van":    "truy vấn",
		"la gi":       "là gì",
		"ko":          "không",
		"hok":         "không",
		"dc":          "được",
		"đc":          "được",
		"idx":         "index",
		"tbl":         "table",
		"proc":        "procedure",
		"sp":          "stored procedure",
		"trigerr":     "trigger",
		"tigger":      "trigger",
		"slect":       "select",
		"selct":       "select",
		"inner joim":  "inner join",
		"group by by": "group by",
	}
}

type normalizerEntry struct {
	term      string
	canonical string
	pattern   *regexp.Regexp
}

// QueryNormalizer applies whole-word, case-insensitive substitutions. All
// matches are located on the original text and applied in one pass, so the
// result does not depend on dictionary order.
type QueryNormalizer struct {
	entries []normalizerEntry
}

func NewQueryNormalizer(dictionary map[string]string) *QueryNormalizer {
	if dictionary == nil {
		dictionary = DefaultNormalizerDictionary()
	}

	terms := make([]string, 0, len(dictionary))
	for term := range dictionary {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	seen := make(map[string]struct{}, len(terms))
	entries := make([]normalizerEntry, 0, len(terms))
	for _, term := range terms {
		key := strings.ToLower(strings.TrimSpace(term))
		canonical := strings.TrimSpace(dictionary[term])
		if key == "" || canonical == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, normalizerEntry{
			term:      key,
			canonical: canonical,
			pattern:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(key)),
		})
	}
	return &QueryNormalizer{entries: entries}
}

func (n *QueryNormalizer) Normalize(text string) string {
	out, _ := n.NormalizeWithCorrections(text)
	return out
}

type normalizerMatch struct {
	start, end int
	entry      *normalizerEntry
}

// NormalizeWithCorrections returns the normalized text and the substitutions
// that fired.
func (n *QueryNormalizer) NormalizeWithCorrections(text string) (string, []domain.Correction) {
	if n == nil || text == "" || len(n.entries) == 0 {
		return text, nil
	}

	matches := make([]normalizerMatch, 0)
	for i := range n.entries {
		entry := &n.entries[i]
		for _, loc := range entry.pattern.FindAllStringIndex(text, -1) {
			if !isWordBoundary(text, loc[0], loc[1]) {
				continue
			}
			matches = append(matches, normalizerMatch{start: loc[0], end: loc[1], entry: entry})
		}
	}
	if len(matches) == 0 {
		return text, nil
	}

	// Longest match wins an overlap, then leftmost.
	sort.SliceStable(matches, func(i, j int) bool {
		li := matches[i].end - matches[i].start
		lj := matches[j].end - matches[j].start
		if li != lj {
			return li > lj
		}
		return matches[i].start < matches[j].start
	})
	chosen := make([]normalizerMatch, 0, len(matches))
	for _, m := range matches {
		overlaps := false
		for _, c := range chosen {
			if m.start < c.end && c.start < m.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			chosen = append(chosen, m)
		}
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].start < chosen[j].start })

	var b strings.Builder
	b.Grow(len(text) + 16)
	corrections := make([]domain.Correction, 0, len(chosen))
	prev := 0
	for _, m := range chosen {
		b.WriteString(text[prev:m.start])
		original := text[m.start:m.end]
		if strings.EqualFold(original, m.entry.canonical) {
			b.WriteString(original)
		} else {
			b.WriteString(m.entry.canonical)
			corrections = append(corrections, domain.Correction{Wrong: original, Correct: m.entry.canonical})
		}
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String(), corrections
}

func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
