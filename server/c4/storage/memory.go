package storage

import (
	"sync"

	"github.com/bloom-lang/c4/server/c4/tuple"
)

// Memory is a set of tuples keyed by content hash + equality, matching the
// source's mem_table.c. It is the default storage kind for any table
// without a persistent annotation in the program source.
type Memory struct {
	mu      sync.RWMutex
	buckets map[uint64][]*tuple.Tuple
	count   int
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[uint64][]*tuple.Tuple)}
}

func (m *Memory) Insert(t *tuple.Tuple) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := tuple.Hash(t)
	for _, existing := range m.buckets[h] {
		if tuple.Equal(existing, t) {
			return false, nil
		}
	}
	t.Pin()
	m.buckets[h] = append(m.buckets[h], t)
	m.count++
	return true, nil
}

func (m *Memory) Delete(t *tuple.Tuple) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := tuple.Hash(t)
	bucket := m.buckets[h]
	for i, existing := range bucket {
		if tuple.Equal(existing, t) {
			bucket[i] = bucket[len(bucket)-1]
			m.buckets[h] = bucket[:len(bucket)-1]
			existing.Unpin()
			m.count--
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bucket := range m.buckets {
		for _, t := range bucket {
			t.Unpin()
		}
	}
	m.buckets = nil
	m.count = 0
	return nil
}

func (m *Memory) Scan() (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]*tuple.Tuple, 0, m.count)
	for _, bucket := range m.buckets {
		snapshot = append(snapshot, bucket...)
	}
	return &memCursor{tuples: snapshot}, nil
}

type memCursor struct {
	tuples []*tuple.Tuple
	pos    int
}

func (c *memCursor) Next() (*tuple.Tuple, bool) {
	if c.pos >= len(c.tuples) {
		return nil, false
	}
	t := c.tuples[c.pos]
	c.pos++
	return t, true
}

func (c *memCursor) Close() error { return nil }
