package core

import "sort"

// MemStore is an in-memory Store implementation used by tests and by
// callers that have not wired a persistent embedded database. It mirrors
// the teacher's InMemoryIterator/KVStore pair in core/cross_chain.go,
// generalized to the column-scoped contract this package requires.
type MemStore struct {
	cols map[Column]map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{cols: make(map[Column]map[string][]byte)}
}

func (s *MemStore) col(c Column) map[string][]byte {
	m, ok := s.cols[c]
	if !ok {
		m = make(map[string][]byte)
		s.cols[c] = m
	}
	return m
}

// Get implements Store.
func (s *MemStore) Get(col Column, key []byte) ([]byte, error) {
	v, ok := s.col(col)[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Put implements Store.
func (s *MemStore) Put(col Column, key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.col(col)[string(key)] = cp
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(col Column, key []byte) error {
	delete(s.col(col), string(key))
	return nil
}

// Iterate implements Store, returning keys in sorted order for
// deterministic iteration during tests.
func (s *MemStore) Iterate(col Column) StoreIterator {
	m := s.col(col)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memIterator{store: s, col: col, keys: keys, index: -1}
}

type memIterator struct {
	store *MemStore
	col   Column
	keys  []string
	index int
}

func (it *memIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *memIterator) Key() []byte {
	return []byte(it.keys[it.index])
}

func (it *memIterator) Value() []byte {
	return it.store.col(it.col)[it.keys[it.index]]
}

func (it *memIterator) Err() error { return nil }

// NewBatch implements Store.
func (s *MemStore) NewBatch() StoreBatch {
	return &memBatch{store: s}
}

type memOp struct {
	col    Column
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	store *MemStore
	ops   []memOp
}

func (b *memBatch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, memOp{col: col, key: key, value: value})
}

func (b *memBatch) Delete(col Column, key []byte) {
	b.ops = append(b.ops, memOp{col: col, key: key, delete: true})
}

func (b *memBatch) Commit() error {
	for _, op := range b.ops {
		if op.delete {
			_ = b.store.Delete(op.col, op.key)
			continue
		}
		_ = b.store.Put(op.col, op.key, op.value)
	}
	return nil
}
