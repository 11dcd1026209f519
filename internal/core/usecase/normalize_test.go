package usecase

import (
	"testing"
)

func TestNormalizerReplacesWholeWordsCaseInsensitive(t *testing.T) {
	n := NewQueryNormalizer(map[string]string{"pk": "primary key", "db": "database"})

	got, corrections := n.NormalizeWithCorrections("What is a PK in a DB?")
	if got != "What is a primary key in a database?" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
	if len(corrections) != 2 {
		t.Fatalf("expected 2 corrections, got %d", len(corrections))
	}
	if corrections[0].Wrong != "PK" || corrections[0].Correct != "primary key" {
		t.Fatalf("unexpected first correction: %+v", corrections[0])
	}
}

func TestNormalizerRespectsWordBoundaries(t *testing.T) {
	n := NewQueryNormalizer(map[string]string{"postgres": "postgresql", "sp": "stored procedure"})

	got := n.Normalize("postgresql special spx sp_who")
	if got != "postgresql special spx sp_who" {
		t.Fatalf("expected no substitution inside words, got %q", got)
	}
}

func TestNormalizerHandlesVietnameseBoundaries(t *testing.T) {
	n := NewQueryNormalizer(map[string]string{"khoa chinh": "khóa chính", "ko": "không"})

	got := n.Normalize("Khoa chinh ko được trùng, kos vẫn giữ")
	if got != "khóa chính không được trùng, kos vẫn giữ" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}

func TestNormalizerIsOrderIndependent(t *testing.T) {
	a := NewQueryNormalizer(map[string]string{"sql": "SQL", "sql sever": "sql server"})
	b := NewQueryNormalizer(map[string]string{"sql sever": "sql server", "sql": "SQL"})

	input := "cài sql sever và học sql"
	if a.Normalize(input) != b.Normalize(input) {
		t.Fatalf("normalization depends on dictionary order: %q vs %q", a.Normalize(input), b.Normalize(input))
	}
	if got := a.Normalize(input); got != "cài sql server và học sql" {
		t.Fatalf("expected longest match to win, got %q", got)
	}
}

func TestNormalizerPassesThroughUnmatchedText(t *testing.T) {
	n := NewQueryNormalizer(nil)
	input := "Khóa chính là gì?"
	got, corrections := n.NormalizeWithCorrections(input)
	if got != input {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if len(corrections) != 0 {
		t.Fatalf("expected no corrections, got %+v", corrections)
	}
}
