// Package store generalizes the event-sourced Store primitives the
// coordination engine depends on (spec root §6): commit an event, query a
// table's current rows, or subscribe to a table's live result set. It is
// the agent's only boundary onto durable, shared state — the rest of the
// replicated store (schema, sync transport, persistence) is someone else's
// concern; this package only needs a reference implementation good enough
// to run the agent standalone against a local notebook.
package store

import (
	"context"
	"errors"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// ErrNotFound is returned when a query or lookup addresses a record that
// does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrClosed names the error for a call made after Close. FSStore does not
// return it: after Close its Commit and Query still work on the files, and
// a Subscribe delivers its initial snapshot but is not registered for
// later updates.
var ErrClosed = errors.New("store: closed")

// Table names one of the notebook's projected tables. The concrete Go type
// materialized for a row is fixed per table (see decodeRow in fsstore.go).
type Table string

const (
	TableNotebooks Table = "notebooks"
	TableCells     Table = "cells"
	TableQueue     Table = "queue"
	TableSessions  Table = "sessions"
	TableOutputs   Table = "outputs"
)

// Selector scopes a Query or Subscribe call to one notebook's table, with
// an optional post-load filter and ordering. Where/OrderBy operate on the
// table's row type boxed as any; use the WhereX helpers in selectors.go
// (or QueryTyped/SubscribeTyped) to keep call sites type-safe.
type Selector struct {
	NotebookID string
	Table      Table
	Where      func(row any) bool
	OrderBy    func(a, b any) bool // reports whether a sorts before b
}

// UpdateFunc receives a subscribed query's full current result set whenever
// it changes, per spec root §6's "live delivery of the query's current
// result set".
type UpdateFunc func(rows []any)

// Store is the coordination engine's sole dependency on durable state.
// Implementations must linearize commits against a given notebook so that
// at-most-one-claim-per-observation holds for concurrent agents racing to
// claim the same pending queue entry.
type Store interface {
	// Commit appends event to notebookID's event log and applies it to the
	// corresponding projected table before returning, so a Query issued
	// immediately after a successful Commit observes its effect.
	Commit(ctx context.Context, notebookID string, event types.Event) error

	// Query returns a point-in-time snapshot of sel.Table, filtered and
	// ordered per sel.
	Query(ctx context.Context, sel Selector) ([]any, error)

	// Subscribe delivers sel's result set to onUpdate once immediately and
	// again every time a Commit changes it, until the returned unsubscribe
	// func is called.
	Subscribe(ctx context.Context, sel Selector, onUpdate UpdateFunc) (unsubscribe func(), err error)

	Close() error
}

// QueryTyped runs sel and type-asserts every row to T, returning an error
// naming the table if a row does not carry the expected Go type — which
// would indicate a mismatched Table/T pairing, not a caller bug the engine
// should ever observe once the five subscriptions in §4.1 are wired.
func QueryTyped[T any](ctx context.Context, s Store, sel Selector) ([]T, error) {
	rows, err := s.Query(ctx, sel)
	if err != nil {
		return nil, err
	}
	return assertRows[T](sel.Table, rows)
}

// SubscribeTyped is Subscribe with the delivered rows already asserted to
// T; a type mismatch is reported once via onErr and the subscription is
// left installed (later updates are attempted again the same way).
func SubscribeTyped[T any](ctx context.Context, s Store, sel Selector, onUpdate func([]T), onErr func(error)) (func(), error) {
	return s.Subscribe(ctx, sel, func(rows []any) {
		typed, err := assertRows[T](sel.Table, rows)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		onUpdate(typed)
	})
}

func assertRows[T any](table Table, rows []any) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		t, ok := r.(T)
		if !ok {
			return nil, errWrongRowType(table, r)
		}
		out = append(out, t)
	}
	return out, nil
}
