// Package recall builds ranked candidate lists from full-text search with a
// recency fallback, and assembles the resulting memory pack.
package recall

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/contextcache/contextcache/internal/pack"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// Limit bounds for recall requests.
const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// Result is a recall response before HTTP shaping.
type Result struct {
	Items     []*types.Memory
	Pack      string
	Truncated bool
}

// Engine runs the recall pipeline against the store.
type Engine struct {
	store     storage.Storage
	assembler *pack.Assembler
}

// NewEngine builds a recall engine. assembler may be nil for the default
// byte budget.
func NewEngine(store storage.Storage, assembler *pack.Assembler) *Engine {
	if assembler == nil {
		assembler = pack.New(0)
	}
	return &Engine{store: store, assembler: assembler}
}

// ClampLimit coerces a requested limit into [1, MaxLimit]. Zero takes the
// default.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Recall returns up to limit memories for the project ranked by relevance,
// plus the assembled pack.
//
// Empty or stopword-only queries skip FTS entirely and return recency-
// ordered rows with nil rank scores. Otherwise FTS-ranked rows come first;
// if they fall short of limit, recency-ordered rows not already present top
// up the tail, also with nil rank scores.
func (e *Engine) Recall(ctx context.Context, projectID, query string, limit int, format pack.Format) (*Result, error) {
	limit = ClampLimit(limit)

	matchExpr := BuildMatchExpression(query)
	var items []*types.Memory

	if matchExpr == "" {
		recent, err := e.store.RecentMemories(ctx, projectID, limit, nil)
		if err != nil {
			return nil, err
		}
		items = recent
	} else {
		scored, err := e.store.RankMemories(ctx, projectID, matchExpr, limit)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(scored))
		for _, sm := range scored {
			sm.Memory.RankScore = sm.Score
			items = append(items, sm.Memory)
			seen[sm.Memory.ID] = true
		}
		if len(items) < limit {
			exclude := make([]string, 0, len(seen))
			for id := range seen {
				exclude = append(exclude, id)
			}
			sort.Strings(exclude)
			recent, err := e.store.RecentMemories(ctx, projectID, limit-len(items), exclude)
			if err != nil {
				return nil, err
			}
			items = append(items, recent...)
		}
	}

	sortItems(items)
	if len(items) > limit {
		items = items[:limit]
	}

	packed, truncated := e.assembler.Assemble(items, format)
	return &Result{Items: items, Pack: packed, Truncated: truncated}, nil
}

// sortItems applies the deterministic ordering: rank desc with nils last,
// then created_at desc, then id asc.
func sortItems(items []*types.Memory) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.RankScore != nil && b.RankScore == nil:
			return true
		case a.RankScore == nil && b.RankScore != nil:
			return false
		case a.RankScore != nil && b.RankScore != nil && *a.RankScore != *b.RankScore:
			return *a.RankScore > *b.RankScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// BuildMatchExpression tokenizes the query (NFKC, lowercase, alphanumeric
// runs) into a disjunctive FTS5 match expression of quoted tokens. Returns
// "" when nothing indexable remains, which routes the caller to the
// recency fallback.
func BuildMatchExpression(query string) string {
	query = norm.NFKC.String(strings.TrimSpace(query))
	if query == "" {
		return ""
	}
	tokens := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}
