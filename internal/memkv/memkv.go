// Package memkv is an in-process reference implementation of the host KV
// contract (spec §6): an ordered B-tree keyed by the engine's tuple-encoded
// bytes, guarded by a single mutex, versionstamped with a UUID per write.
// It exists so the engine is runnable and testable without a production
// KV store; it is not itself part of the document-store engine's core.
//
// Grounded on the asaidimu/go-store example's use of github.com/google/btree
// for an ordered index and github.com/google/uuid for document identity;
// here the same two libraries back the store's own key space instead of a
// secondary index layer.
package memkv

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/kinfkong/kvdoc"
)

// Store implements kvdoc.KV over an in-process B-tree.
type Store struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// New returns an empty, ready-to-use Store.
func New() *Store {
	return &Store{tree: btree.New(32)}
}

type item struct {
	key     []byte
	value   []byte
	version string
}

func (a item) Less(other btree.Item) bool {
	b := other.(item)
	return bytes.Compare(a.key, b.key) < 0
}

func (s *Store) get(key []byte) (item, bool) {
	found := s.tree.Get(item{key: key})
	if found == nil {
		return item{}, false
	}
	return found.(item), true
}

// Get fetches the current value and version for key.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, kvdoc.Version, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.get(key)
	if !ok {
		return nil, nil, false, nil
	}
	return it.value, it.version, true, nil
}

// Set writes key unconditionally, outside of any atomic batch.
func (s *Store) Set(ctx context.Context, key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(item{key: key, value: value, version: newVersion()})
	return nil
}

// Delete removes key unconditionally, outside of any atomic batch.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(item{key: key})
	return nil
}

// List iterates entries with key >= start and key < end (end == nil means
// "to the end of the keyspace"), in ascending key order.
func (s *Store) List(ctx context.Context, start, end []byte, fn func(kvdoc.Entry) (bool, error)) error {
	s.mu.Lock()
	items := make([]item, 0)
	collect := func(i btree.Item) bool {
		it := i.(item)
		if end != nil && bytes.Compare(it.key, end) >= 0 {
			return false
		}
		items = append(items, it)
		return true
	}
	s.tree.AscendGreaterOrEqual(item{key: start}, collect)
	s.mu.Unlock()

	for _, it := range items {
		cont, err := fn(kvdoc.Entry{Key: it.key, Value: it.value, Version: it.version})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// Atomic commits checks+ops as a single all-or-nothing batch under the
// store's mutex: every check is evaluated against the current tree state
// before any op is applied, so a failing check never leaves a partial
// write behind.
func (s *Store) Atomic(ctx context.Context, checks []kvdoc.Check, ops []kvdoc.Op) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range checks {
		it, exists := s.get(c.Key)
		if c.Absent {
			if exists {
				return false, nil
			}
			continue
		}
		if !exists {
			return false, nil
		}
		if it.version != c.Version {
			return false, nil
		}
	}

	for _, op := range ops {
		if op.Delete {
			s.tree.Delete(item{key: op.Key})
			continue
		}
		s.tree.ReplaceOrInsert(item{key: op.Key, value: op.Value, version: newVersion()})
	}
	return true, nil
}

func newVersion() string {
	return uuid.Must(uuid.NewV7()).String()
}
