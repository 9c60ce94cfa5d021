// Package contextcache provides a minimal public API for embedding the
// ContextCache storage and recall layers in other Go programs.
//
// Most integrations should talk to a running ccd over HTTP. This package
// exports only the types and constructors needed to use the store and the
// recall engine programmatically, for tooling that runs next to the
// database.
package contextcache

import (
	"context"

	"github.com/contextcache/contextcache/internal/pack"
	"github.com/contextcache/contextcache/internal/recall"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

// Core types for working with memories.
type (
	Memory     = types.Memory
	MemoryCard = types.MemoryCard
	MemoryType = types.MemoryType
	Project    = types.Project
)

// MemoryType constants.
const (
	TypeDecision   = types.TypeDecision
	TypeFinding    = types.TypeFinding
	TypeDefinition = types.TypeDefinition
	TypeNote       = types.TypeNote
	TypeLink       = types.TypeLink
	TypeTodo       = types.TypeTodo
	TypeChat       = types.TypeChat
	TypeDoc        = types.TypeDoc
	TypeCode       = types.TypeCode
)

// Pack formats.
const (
	FormatText = pack.FormatText
	FormatToon = pack.FormatToon
)

// Storage is the persistence interface backing the service.
type Storage = storage.Storage

// RecallResult is the outcome of a recall: ranked items plus the rendered
// pack.
type RecallResult = recall.Result

// NewSQLiteStorage opens (or creates) a ContextCache SQLite database, applies
// schema and migrations, and returns it behind the Storage interface.
func NewSQLiteStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath, sqlite.Options{})
}

// NewRecallEngine builds a recall engine over a store with the default pack
// byte budget.
func NewRecallEngine(store Storage) *recall.Engine {
	return recall.NewEngine(store, pack.New(0))
}
