// Package memory is the in-process reference backend for core.Store: a
// watchable document tree with last-write-wins keys and single-key CAS.
// The websocket gateway serves one of these to remote peers; tests drive
// two call managers against one directly.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	storeadapter "github.com/dkeye/dial/internal/adapters/store"
	"github.com/dkeye/dial/internal/core"
)

type node struct {
	leaf     json.RawMessage
	children map[string]*node
}

// snapshot assembles the JSON value rooted at n. Children overlay the leaf
// so a record written whole and then extended child-by-child reads back as
// one object.
func (n *node) snapshot() core.Snapshot {
	if n == nil {
		return nil
	}
	if len(n.children) == 0 {
		if len(n.leaf) == 0 {
			return nil
		}
		return core.Snapshot(n.leaf)
	}
	m := map[string]json.RawMessage{}
	if len(n.leaf) > 0 {
		_ = json.Unmarshal(n.leaf, &m)
	}
	for k, c := range n.children {
		if s := c.snapshot(); s.Exists() {
			m[k] = json.RawMessage(s)
		}
	}
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

type watcher struct {
	path  []string
	queue *storeadapter.EventQueue
}

// Store implements core.Store. One mutex guards the whole tree, which is
// what makes Transact a true compare-and-set.
type Store struct {
	mu        sync.Mutex
	root      *node
	watchers  map[int]*watcher
	nextWatch int
	pushSeq   uint64
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		root:     &node{},
		watchers: make(map[int]*watcher),
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (s *Store) lookup(segs []string) *node {
	n := s.root
	for _, seg := range segs {
		if n == nil {
			return nil
		}
		n = n.children[seg]
	}
	return n
}

func (s *Store) ensure(segs []string) *node {
	n := s.root
	for _, seg := range segs {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[seg]
		if !ok {
			child = &node{}
			n.children[seg] = child
		}
		n = child
	}
	return n
}

func (s *Store) removeAt(segs []string) {
	if len(segs) == 0 {
		s.root = &node{}
		return
	}
	parent := s.lookup(segs[:len(segs)-1])
	if parent != nil {
		delete(parent.children, segs[len(segs)-1])
	}
}

// notify fans the change at segs out to every watcher whose subtree
// overlaps it. Snapshots are taken under the lock, so each watcher sees
// changes to its key in commit order.
func (s *Store) notify(segs []string) {
	for _, w := range s.watchers {
		if !overlaps(w.path, segs) {
			continue
		}
		w.queue.Enqueue(s.lookup(w.path).snapshot())
	}
}

func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Store) Get(_ context.Context, path string) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(splitPath(path)).snapshot(), nil
}

func (s *Store) Set(_ context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := splitPath(path)
	if value == nil {
		s.removeAt(segs)
	} else {
		n := s.ensure(segs)
		n.leaf = raw
		n.children = nil
	}
	s.notify(segs)
	return nil
}

func (s *Store) Update(_ context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := splitPath(path)
	n := s.ensure(segs)

	m := map[string]json.RawMessage{}
	if cur := n.snapshot(); cur.Exists() {
		_ = json.Unmarshal(cur, &m)
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s.%s: %w", path, k, err)
		}
		m[k] = raw
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	n.leaf = raw
	n.children = nil
	s.notify(segs)
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := splitPath(path)
	s.removeAt(segs)
	s.notify(segs)
	return nil
}

func (s *Store) Push(_ context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushSeq++
	// Zero-padded so lexicographic key order is creation order.
	key := fmt.Sprintf("p%012d", s.pushSeq)
	segs := append(splitPath(path), key)
	n := s.ensure(segs)
	n.leaf = raw
	n.children = nil
	s.notify(segs)
	return key, nil
}

func (s *Store) Watch(_ context.Context, path string, fn core.WatchFunc) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatch
	s.nextWatch++
	w := &watcher{path: splitPath(path), queue: storeadapter.NewEventQueue(fn)}
	s.watchers[id] = w
	// A fresh watch fires once with the current value.
	w.queue.Enqueue(s.lookup(w.path).snapshot())
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			w.queue.Close()
		}
	}, nil
}

// Transact runs fn against the current value at path and commits its result
// atomically. fn runs under the store lock and must not call back into the
// store.
func (s *Store) Transact(_ context.Context, path string, fn core.TxnFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := splitPath(path)
	next, commit := fn(s.lookup(segs).snapshot())
	if !commit {
		return false, nil
	}
	if next == nil {
		s.removeAt(segs)
	} else {
		raw, err := json.Marshal(next)
		if err != nil {
			return false, fmt.Errorf("marshal %s: %w", path, err)
		}
		n := s.ensure(segs)
		n.leaf = raw
		n.children = nil
	}
	s.notify(segs)
	return true, nil
}
