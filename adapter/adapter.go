// Package adapter translates host framework callbacks into decision
// lifecycle calls. Three incompatible calling conventions are supported —
// object-identity hooks (CrewObserver), UUID-run-keyed hooks
// (RunHandler), and wrap-around middleware (WrapMiddleware) — all built
// on the same Hooks capability so every unit of work yields exactly one
// proposed decision and at most one terminal transition.
package adapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	contextgraph "github.com/contextgraph/contextgraph-go"
	"github.com/contextgraph/contextgraph-go/correlate"
)

// Hooks is the abstract host adapter surface: one start event per unit of
// work, followed by exactly one end or error event carrying the key the
// start returned. All operations are total; a failed proposal simply
// makes the later end or error a no-op.
type Hooks interface {
	Start(ctx context.Context, typ contextgraph.DecisionType, action string, fields map[string]any) (key string)
	End(ctx context.Context, key string, output any)
	Error(ctx context.Context, key string, err error)
}

// Recorder pairs a lifecycle client with an active decision table. It is
// the canonical Hooks implementation and the base every binding in this
// package delegates to.
type Recorder struct {
	client *contextgraph.Client
	table  *correlate.Table
}

// NewRecorder creates a Recorder. The table defaults to a fresh
// overwrite-policy table when omitted.
func NewRecorder(client *contextgraph.Client, table ...*correlate.Table) *Recorder {
	t := (*correlate.Table)(nil)
	if len(table) > 0 {
		t = table[0]
	}
	if t == nil {
		t = correlate.NewTable()
	}
	return &Recorder{client: client, table: t}
}

// Client returns the underlying lifecycle client.
func (r *Recorder) Client() *contextgraph.Client { return r.client }

// Table returns the active decision table.
func (r *Recorder) Table() *correlate.Table { return r.table }

// Start proposes a decision under a fresh correlation key and returns the
// key for the host to retain.
func (r *Recorder) Start(ctx context.Context, typ contextgraph.DecisionType, action string, fields map[string]any) string {
	return r.StartWithKey(ctx, uuid.NewString(), typ, action, fields)
}

// StartWithKey proposes a decision under a host-derived correlation key.
// When the proposal fails no entry is stored, so the matching end or
// error event degrades to a no-op.
func (r *Recorder) StartWithKey(ctx context.Context, key string, typ contextgraph.DecisionType, action string, fields map[string]any) string {
	if id, ok := r.client.Propose(ctx, typ, action, fields); ok {
		r.table.Put(key, id)
	}
	return key
}

// End consumes the key and issues the executed transition. At most one of
// End and Error takes effect per key; the table's destructive Take
// guarantees it even under concurrent duplicate events.
func (r *Recorder) End(ctx context.Context, key string, output any) {
	r.Finish(ctx, key, contextgraph.StatusExecuted, map[string]any{"output": output})
}

// Error consumes the key and issues the failed transition.
func (r *Recorder) Error(ctx context.Context, key string, err error) {
	r.Finish(ctx, key, contextgraph.StatusFailed, map[string]any{"error": errMessage(err)})
}

// Finish is the generic terminal transition for bindings that shape their
// own result mapping.
func (r *Recorder) Finish(ctx context.Context, key string, status contextgraph.Status, result map[string]any) {
	id, ok := r.table.Take(key)
	if !ok {
		return
	}
	r.client.Transition(ctx, id, status, result)
}

var _ Hooks = (*Recorder)(nil)

// Described lets host objects attach structured context to the decisions
// recorded for them.
type Described interface {
	AuditContext() map[string]any
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// displayName resolves a human-readable name for a host object, in the
// order the conventions expose one.
func displayName(v any, fallback string) string {
	switch n := v.(type) {
	case interface{ Name() string }:
		return n.Name()
	case interface{ Role() string }:
		return n.Role()
	case interface{ ID() string }:
		return n.ID()
	case fmt.Stringer:
		return n.String()
	}
	return fallback
}
