package correlate

import "sync"

// Policy decides what Put does when a key is already occupied. Hosts that
// reuse a key namespace across nested operations (observed with tool and
// chain events sharing one run id space) pick the behavior they intend.
type Policy int

const (
	// Overwrite replaces the existing entry. The replaced decision is
	// leaked: it will never see its terminal transition.
	Overwrite Policy = iota

	// RejectOnConflict keeps the existing entry and discards the new one.
	RejectOnConflict
)

// Table is the active decision table: a concurrency-safe map from
// correlation key to remote decision id, scoped to one client instance.
// All operations are safe without external locking.
type Table struct {
	mu      sync.Mutex
	entries map[string]string
	policy  Policy
}

// NewTable creates a Table. Policy defaults to Overwrite.
func NewTable(policy ...Policy) *Table {
	p := Overwrite
	if len(policy) > 0 {
		p = policy[0]
	}
	return &Table{
		entries: make(map[string]string),
		policy:  p,
	}
}

// Put associates key with a decision id and reports whether the entry was
// stored. Under RejectOnConflict an occupied key keeps its existing entry
// and Put returns false.
func (t *Table) Put(key, decisionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.policy == RejectOnConflict {
		if _, occupied := t.entries[key]; occupied {
			return false
		}
	}
	t.entries[key] = decisionID
	return true
}

// Take atomically removes and returns the entry for key. Exactly one
// concurrent caller observes the value; later calls report absence, which
// callers treat as "nothing to transition", not as an error.
func (t *Table) Take(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return id, ok
}

// Peek returns the entry for key without removing it.
func (t *Table) Peek(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.entries[key]
	return id, ok
}

// Len returns the number of live entries. Entries that never saw a
// terminal event accumulate here; hosts can watch this for leaks.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
