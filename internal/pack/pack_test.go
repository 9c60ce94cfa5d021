package pack

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/contextcache/contextcache/internal/types"
)

func mem(id string, typ types.MemoryType, title, content string, day int) *types.Memory {
	return &types.Memory{
		ID:        id,
		Type:      typ,
		Title:     title,
		Content:   content,
		CreatedAt: time.Date(2026, 2, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestAssembleEmpty(t *testing.T) {
	out, truncated := New(0).Assemble(nil, FormatText)
	if out != "" || truncated {
		t.Errorf("empty input: got %q truncated=%v", out, truncated)
	}
}

func TestRenderTextGroupsByType(t *testing.T) {
	memories := []*types.Memory{
		mem("1", types.TypeNote, "", "a note", 2),
		mem("2", types.TypeDecision, "WAL", "use WAL mode", 1),
		mem("3", types.TypeDecision, "", "pin Go version", 3),
	}
	out, truncated := New(0).Assemble(memories, FormatText)
	if truncated {
		t.Fatal("tiny pack should not be truncated")
	}

	// Decisions come before notes in the canonical order regardless of the
	// ranked input order.
	di := strings.Index(out, "## Decisions")
	ni := strings.Index(out, "## Notes")
	if di == -1 || ni == -1 || di > ni {
		t.Fatalf("bad group layout:\n%s", out)
	}
	if !strings.Contains(out, "- [2026-02-01] WAL: use WAL mode") {
		t.Errorf("missing titled bullet:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("text pack must end with a newline")
	}
}

func TestRenderTextUntitledUsesSnippet(t *testing.T) {
	long := strings.Repeat("x", 200)
	out, _ := New(0).Assemble([]*types.Memory{mem("1", types.TypeNote, "", long, 1)}, FormatText)
	if !strings.Contains(out, long[:80]+": ") {
		t.Errorf("label should be the first 80 chars of content:\n%s", out)
	}
}

func TestRenderTextSnippetIsRuneSafe(t *testing.T) {
	long := strings.Repeat("é", 200)
	out, _ := New(0).Assemble([]*types.Memory{mem("1", types.TypeNote, "", long, 1)}, FormatText)
	if !utf8.ValidString(out) {
		t.Fatalf("pack contains invalid UTF-8:\n%q", out)
	}
	want := string([]rune(long)[:80]) + ": "
	if !strings.Contains(out, want) {
		t.Errorf("label should be the first 80 characters of content:\n%s", out)
	}
}

func TestAssembleDeterministic(t *testing.T) {
	memories := []*types.Memory{
		mem("1", types.TypeDecision, "A", "alpha", 1),
		mem("2", types.TypeNote, "B", "beta", 2),
	}
	a, _ := New(0).Assemble(memories, FormatText)
	b, _ := New(0).Assemble(memories, FormatText)
	if a != b {
		t.Error("identical inputs must produce byte-identical packs")
	}
}

func TestAssembleTruncation(t *testing.T) {
	var memories []*types.Memory
	for i := 0; i < 10; i++ {
		memories = append(memories, mem(string(rune('a'+i)), types.TypeNote, "", strings.Repeat("y", 100), 1))
	}
	out, truncated := New(300).Assemble(memories, FormatText)
	if !truncated {
		t.Fatal("expected truncation under a 300-byte budget")
	}
	if len(out) > 300 {
		t.Errorf("pack exceeds budget: %d bytes", len(out))
	}
	// Items drop from the end: whatever survives must be the prefix.
	if out != "" && !strings.HasPrefix(out, "## Notes\n") {
		t.Errorf("unexpected pack shape:\n%s", out)
	}
}

func TestRenderToon(t *testing.T) {
	memories := []*types.Memory{
		mem("1", types.TypeDecision, "", "use WAL; always", 1),
		mem("2", types.TypeNote, "", "line1\nline2", 2),
	}
	out, truncated := New(0).Assemble(memories, FormatToon)
	if truncated {
		t.Fatal("unexpected truncation")
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), out)
	}
	if lines[0] != `T=decision;D=2026-02-01;C=use WAL\; always` {
		t.Errorf("bad toon line: %q", lines[0])
	}
	if lines[1] != `T=note;D=2026-02-02;C=line1\nline2` {
		t.Errorf("bad toon escaping: %q", lines[1])
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("toon pack must not end with trailing whitespace")
	}
}
