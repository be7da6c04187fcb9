package remote

import (
	"fmt"
	"sync"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
)

// OpList is a Mutation kept in client memory. Store adapters share it.
type OpList struct {
	mu    sync.Mutex
	ops   []model.EntryOp
	freed bool
}

// NewMutation returns an empty in-memory mutation.
func NewMutation() *OpList { return &OpList{} }

func (m *OpList) add(op model.EntryOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.freed {
		return fmt.Errorf("mutation: use after free")
	}
	m.ops = append(m.ops, op)
	return nil
}

// Insert adds an insert of a new key.
func (m *OpList) Insert(key string, value []byte) error {
	return m.add(model.EntryOp{Kind: model.OpInsert, Key: []byte(key), Value: value})
}

// Update adds a versioned update.
func (m *OpList) Update(key string, value []byte, version uint64) error {
	return m.add(model.EntryOp{Kind: model.OpUpdate, Key: []byte(key), Value: value, Version: version})
}

// Ops returns a copy of the collected operations.
func (m *OpList) Ops() []model.EntryOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.EntryOp(nil), m.ops...)
}

// Free drops the collected operations.
func (m *OpList) Free() {
	m.mu.Lock()
	m.ops, m.freed = nil, true
	m.mu.Unlock()
}

// PermSet is a PermissionSet kept in client memory.
type PermSet struct {
	allow []model.Permission
}

// NewPermSet returns an empty permission set.
func NewPermSet() *PermSet { return &PermSet{} }

// SetAllow adds p to the set.
func (s *PermSet) SetAllow(p model.Permission) error {
	if !p.Valid() {
		return fmt.Errorf("permission %q: unknown", p)
	}
	for _, a := range s.allow {
		if a == p {
			return nil
		}
	}
	s.allow = append(s.allow, p)
	return nil
}

// Allowed returns the allowed permissions in insertion order.
func (s *PermSet) Allowed() []model.Permission { return append([]model.Permission(nil), s.allow...) }

// Free is a no-op; the set holds no remote resources.
func (s *PermSet) Free() {}

// EntrySnapshot is an Entries implementation over fetched entries.
type EntrySnapshot struct {
	entries map[string]model.Value
}

// NewEntrySnapshot indexes fetched entries by key.
func NewEntrySnapshot(list []model.Entry) *EntrySnapshot {
	m := make(map[string]model.Value, len(list))
	for _, e := range list {
		m[string(e.Key)] = e.Value
	}
	return &EntrySnapshot{entries: m}
}

// Len returns the number of entries.
func (e *EntrySnapshot) Len() int { return len(e.entries) }

// Get returns the value for key or an error wrapping errs.ErrNotFound.
func (e *EntrySnapshot) Get(key string) (model.Value, error) {
	v, ok := e.entries[key]
	if !ok {
		return model.Value{}, fmt.Errorf("entry %q: %w", key, errs.ErrNotFound)
	}
	return v, nil
}

// Mutate starts a new mutation.
func (e *EntrySnapshot) Mutate() Mutation { return NewMutation() }

// Free drops the snapshot.
func (e *EntrySnapshot) Free() { e.entries = nil }

// KeySnapshot is a Keys implementation over fetched keys.
type KeySnapshot struct {
	keys [][]byte
}

// NewKeySnapshot wraps fetched keys.
func NewKeySnapshot(keys [][]byte) *KeySnapshot { return &KeySnapshot{keys: keys} }

// Len returns the number of keys.
func (k *KeySnapshot) Len() int { return len(k.keys) }

// ForEach calls fn for every key in store order.
func (k *KeySnapshot) ForEach(fn func(key []byte)) {
	for _, key := range k.keys {
		fn(key)
	}
}

// Free drops the snapshot.
func (k *KeySnapshot) Free() { k.keys = nil }
