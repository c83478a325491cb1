// Package core declares the contracts the call core consumes: the shared
// document store, local media, and the UI notification sink. Implementations
// live under internal/adapters.
package core

import (
	"context"
	"encoding/json"
	"sort"
)

// Snapshot is the JSON value read from one store location. A nil or
// JSON-null snapshot means the location is absent.
type Snapshot []byte

func (s Snapshot) Exists() bool {
	return len(s) > 0 && string(s) != "null"
}

func (s Snapshot) Unmarshal(v any) error {
	return json.Unmarshal(s, v)
}

// Child is one direct child of a subtree snapshot.
type Child struct {
	Key   string
	Value Snapshot
}

// Children decomposes an object snapshot into its direct children, ordered
// by key. Push keys sort in creation order, so this yields append order for
// the candidate lists.
func (s Snapshot) Children() []Child {
	if !s.Exists() {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(s, &m); err != nil {
		return nil
	}
	out := make([]Child, 0, len(m))
	for k, v := range m {
		out = append(out, Child{Key: k, Value: Snapshot(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WatchFunc receives the current value at the watched location: once when
// the watch is armed, then after every committed change under it.
type WatchFunc func(Snapshot)

// TxnFunc inspects the current value at a key and returns the value to
// commit. commit=false aborts without writing. Returning next=nil with
// commit=true deletes the key.
type TxnFunc func(cur Snapshot) (next any, commit bool)

// Store is the shared mutable document store: last-write-wins per key,
// change notification per subtree, and a true single-key compare-and-set
// via Transact. Per-key writes reach a key's watchers in commit order; no
// ordering holds across different keys. A backend that cannot offer CAS
// semantics on Transact breaks identifier allocation uniqueness and must
// not be wired in.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into the object at path, leaving others intact.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Push appends value under path with a generated, creation-ordered key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Watch subscribes fn to path and everything under it. The returned
	// func cancels the subscription; callers re-subscribing a logical
	// channel must cancel the old watch first.
	Watch(ctx context.Context, path string, fn WatchFunc) (func(), error)
	Transact(ctx context.Context, path string, fn TxnFunc) (bool, error)
}
