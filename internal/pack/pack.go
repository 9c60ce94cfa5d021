// Package pack renders ranked memories into a paste-ready memory pack.
//
// Two formats are supported: "text" (type-grouped, human-readable) and
// "toon" (compact line-oriented key=value encoding targeting ~40% fewer
// tokens). Both are deterministic: identical inputs produce byte-identical
// output.
package pack

import (
	"strings"
	"unicode/utf8"

	"github.com/contextcache/contextcache/internal/types"
)

// Format selects the pack rendering.
type Format string

const (
	FormatText Format = "text"
	FormatToon Format = "toon"
)

// IsValid reports whether f is a supported format.
func (f Format) IsValid() bool { return f == FormatText || f == FormatToon }

// DefaultByteBudget caps the pack size unless configured otherwise.
const DefaultByteBudget = 32 * 1024

// snippetLen is the title fallback length taken from content.
const snippetLen = 80

// Assembler renders memory packs under a byte budget.
type Assembler struct {
	budget int
}

// New builds an assembler. budget <= 0 takes the default 32 KiB.
func New(budget int) *Assembler {
	if budget <= 0 {
		budget = DefaultByteBudget
	}
	return &Assembler{budget: budget}
}

// Assemble renders the memories in ranked order. When the byte budget would
// be exceeded, items are dropped from the end and truncated is true.
func (a *Assembler) Assemble(memories []*types.Memory, format Format) (pack string, truncated bool) {
	if format == "" {
		format = FormatText
	}
	for n := len(memories); n >= 0; n-- {
		var out string
		switch format {
		case FormatToon:
			out = renderToon(memories[:n])
		default:
			out = renderText(memories[:n])
		}
		if len(out) <= a.budget {
			return out, n < len(memories)
		}
	}
	return "", true
}

// renderText groups items by type in the canonical order. Each non-empty
// group gets a "## <TypeTitle>s" header and one bullet per item; groups are
// separated by a blank line and the output ends with a newline.
func renderText(memories []*types.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	groups := make(map[types.MemoryType][]*types.Memory)
	for _, m := range memories {
		groups[m.Type] = append(groups[m.Type], m)
	}

	var b strings.Builder
	first := true
	for _, t := range types.MemoryTypeOrder {
		items := groups[t]
		if len(items) == 0 {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		b.WriteString("## ")
		b.WriteString(t.Title())
		b.WriteString("s\n")
		for _, m := range items {
			b.WriteString("- [")
			b.WriteString(m.CreatedAt.UTC().Format("2006-01-02"))
			b.WriteString("] ")
			b.WriteString(itemLabel(m))
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// itemLabel is the title, or the first 80 characters of content when the
// card has no title. The cut is by rune so multibyte content never yields
// invalid UTF-8.
func itemLabel(m *types.Memory) string {
	if m.Title != "" {
		return m.Title
	}
	if utf8.RuneCountInString(m.Content) <= snippetLen {
		return m.Content
	}
	return string([]rune(m.Content)[:snippetLen])
}

// renderToon emits one memory per line: T=<type>;D=<date>;C=<content>,
// with ';' and newlines escaped. No headers, no grouping, no trailing
// whitespace; order matches the ranked input order.
func renderToon(memories []*types.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range memories {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("T=")
		b.WriteString(string(m.Type))
		b.WriteString(";D=")
		b.WriteString(m.CreatedAt.UTC().Format("2006-01-02"))
		b.WriteString(";C=")
		b.WriteString(escapeToon(m.Content))
	}
	return b.String()
}

var toonEscaper = strings.NewReplacer(
	"\\", "\\\\",
	";", "\\;",
	"\n", "\\n",
	"\r", "",
)

func escapeToon(s string) string {
	return toonEscaper.Replace(s)
}
