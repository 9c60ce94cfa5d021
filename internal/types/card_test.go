package types

import (
	"strings"
	"testing"
)

func TestCanonicalizeDefaults(t *testing.T) {
	card := &MemoryCard{Type: TypeNote, Content: "remember this"}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if card.Source != SourceManual {
		t.Errorf("expected default source %q, got %q", SourceManual, card.Source)
	}
}

func TestCanonicalizeRejectsUnknownType(t *testing.T) {
	card := &MemoryCard{Type: "poem", Content: "x"}
	err := card.Canonicalize()
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "type" {
		t.Errorf("expected field 'type', got %q", ve.Field)
	}
}

func TestCanonicalizeRejectsUnknownSource(t *testing.T) {
	card := &MemoryCard{Type: TypeNote, Source: "carrier-pigeon", Content: "x"}
	if err := card.Canonicalize(); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestCanonicalizeEmptyContent(t *testing.T) {
	for _, content := range []string{"", "   ", "\t\n"} {
		card := &MemoryCard{Type: TypeNote, Content: content}
		if err := card.Canonicalize(); err == nil {
			t.Errorf("content %q: expected error", content)
		}
	}
}

func TestCanonicalizeContentLimit(t *testing.T) {
	card := &MemoryCard{Type: TypeNote, Content: strings.Repeat("a", MaxContentLen+1)}
	if err := card.Canonicalize(); err == nil {
		t.Fatal("expected error for oversized content")
	}
	card = &MemoryCard{Type: TypeNote, Content: strings.Repeat("a", MaxContentLen)}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("content at the limit should pass: %v", err)
	}
}

func TestCanonicalizeCountsCharactersNotBytes(t *testing.T) {
	// Two-byte runes: at the limit by character count the byte length is
	// double, and the card must still pass.
	card := &MemoryCard{Type: TypeNote, Content: strings.Repeat("é", MaxContentLen)}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("multibyte content at the limit should pass: %v", err)
	}
	card = &MemoryCard{Type: TypeNote, Content: strings.Repeat("é", MaxContentLen+1)}
	if err := card.Canonicalize(); err == nil {
		t.Fatal("expected error one character over the limit")
	}

	card = &MemoryCard{Type: TypeNote, Content: "x", Title: strings.Repeat("é", MaxTitleLen)}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("multibyte title at the limit should pass: %v", err)
	}

	card = &MemoryCard{Type: TypeNote, Content: "x", Tags: []string{strings.Repeat("é", MaxTagLen)}}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("multibyte tag at the limit should pass: %v", err)
	}
	card = &MemoryCard{Type: TypeNote, Content: "x", Tags: []string{strings.Repeat("é", MaxTagLen+1)}}
	if err := card.Canonicalize(); err == nil {
		t.Fatal("expected error for tag one character over the limit")
	}
}

func TestCanonicalizeTags(t *testing.T) {
	card := &MemoryCard{
		Type:    TypeNote,
		Content: "x",
		Tags:    []string{"Go", "go", " API ", "", "api"},
	}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	want := []string{"go", "api"}
	if len(card.Tags) != len(want) {
		t.Fatalf("expected tags %v, got %v", want, card.Tags)
	}
	for i := range want {
		if card.Tags[i] != want[i] {
			t.Errorf("tag[%d]: expected %q, got %q", i, want[i], card.Tags[i])
		}
	}
}

func TestCanonicalizeTooManyTags(t *testing.T) {
	tags := make([]string, MaxTagsPerCard+1)
	for i := range tags {
		tags[i] = strings.Repeat("t", 3) + string(rune('a'+i))
	}
	card := &MemoryCard{Type: TypeNote, Content: "x", Tags: tags}
	if err := card.Canonicalize(); err == nil {
		t.Fatal("expected error for too many tags")
	}
}

func TestCanonicalizeMetadata(t *testing.T) {
	card := &MemoryCard{
		Type:     TypeNote,
		Content:  "x",
		Metadata: map[string]string{"url": "https://example.com", "language": "  "},
	}
	if err := card.Canonicalize(); err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if _, ok := card.Metadata["language"]; ok {
		t.Error("empty metadata value should be dropped")
	}
	if card.Metadata["url"] != "https://example.com" {
		t.Errorf("url metadata lost: %v", card.Metadata)
	}

	card = &MemoryCard{Type: TypeNote, Content: "x", Metadata: map[string]string{"mood": "great"}}
	if err := card.Canonicalize(); err == nil {
		t.Fatal("expected error for unrecognized metadata key")
	}
}

func TestContentHashStableUnderWhitespaceAndNFKC(t *testing.T) {
	// NFKC folds the fullwidth 'Ａ' to 'A'; trimming removes the padding.
	a := ComputeContentHash("  use WAL mode  ")
	b := ComputeContentHash("use WAL mode ")
	if a != b {
		t.Error("hash should ignore leading/trailing whitespace")
	}
	c := ComputeContentHash("ＡBC")
	d := ComputeContentHash("ABC")
	if c != d {
		t.Error("hash should be NFKC-normalized")
	}
	if ComputeContentHash("abc") == ComputeContentHash("abd") {
		t.Error("different content must hash differently")
	}
}
