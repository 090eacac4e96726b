// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package kv

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is a single-process Store: one RWMutex stands in for the
// single logical writer a replicated log would otherwise serialize
// through. It is meant for tests and for running a single partition
// replica without a real storage backend, not for production use.
type MemoryStore struct {
	mu     sync.RWMutex
	maps   map[string]map[string][]byte
	queues map[string]*list.List
}

func OpenMemoryStore() *MemoryStore {
	return &MemoryStore{
		maps:   make(map[string]map[string][]byte),
		queues: make(map[string]*list.List),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) OpenMap(name string) (Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.maps[name]; !ok {
		s.maps[name] = make(map[string][]byte)
	}
	return &memoryMap{store: s, name: name}, nil
}

func (s *MemoryStore) OpenQueue(name string) (Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		s.queues[name] = list.New()
	}
	return &memoryQueue{store: s, name: name}, nil
}

func (s *MemoryStore) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if writable {
		s.mu.Lock()
	} else {
		s.mu.RLock()
	}
	return &memoryTx{store: s, ctx: ctx, writable: writable}, nil
}

type memoryTx struct {
	store    *MemoryStore
	ctx      context.Context
	writable bool
	done     bool
}

func (t *memoryTx) Context() context.Context { return t.ctx }
func (t *memoryTx) Writable() bool            { return t.writable }

func (t *memoryTx) Commit() error {
	return t.end()
}

func (t *memoryTx) Rollback() error {
	// The in-memory backend applies mutations immediately under the
	// transaction's exclusive lock rather than buffering them, so there
	// is nothing to undo; Rollback only releases the lock, and any write
	// made earlier in the transaction stays in place.
	return t.end()
}

func (t *memoryTx) end() error {
	if t.done {
		return fmt.Errorf("%w: tx already closed", ErrObjectClosed)
	}
	t.done = true
	if t.writable {
		t.store.mu.Unlock()
	} else {
		t.store.mu.RUnlock()
	}
	return nil
}

type memoryMap struct {
	store *MemoryStore
	name  string
}

func (m *memoryMap) Name() string { return m.name }

func (m *memoryMap) data() map[string][]byte {
	d, ok := m.store.maps[m.name]
	if !ok {
		d = make(map[string][]byte)
		m.store.maps[m.name] = d
	}
	return d
}

func (m *memoryMap) TryGet(_ Tx, key []byte, _ LockMode) ([]byte, bool, error) {
	v, ok := m.data()[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *memoryMap) Add(_ Tx, key, value []byte) error {
	d := m.data()
	if _, ok := d[string(key)]; ok {
		return ErrAlreadyExists
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	d[string(key)] = cp
	return nil
}

func (m *memoryMap) TryUpdate(_ Tx, key, newValue, expected []byte) (bool, error) {
	d := m.data()
	current, ok := d[string(key)]
	if !ok {
		current = nil
	}
	if !bytes.Equal(current, expected) {
		return false, nil
	}
	cp := make([]byte, len(newValue))
	copy(cp, newValue)
	d[string(key)] = cp
	return true, nil
}

func (m *memoryMap) AddOrUpdate(_ Tx, key []byte, merge func([]byte, bool) []byte) error {
	d := m.data()
	existing, exists := d[string(key)]
	var prev []byte
	if exists {
		prev = make([]byte, len(existing))
		copy(prev, existing)
	}
	next := merge(prev, exists)
	cp := make([]byte, len(next))
	copy(cp, next)
	d[string(key)] = cp
	return nil
}

func (m *memoryMap) TryRemove(_ Tx, key []byte) (bool, error) {
	d := m.data()
	if _, ok := d[string(key)]; !ok {
		return false, nil
	}
	delete(d, string(key))
	return true, nil
}

func (m *memoryMap) Count(_ Tx) (uint64, error) {
	return uint64(len(m.data())), nil
}

func (m *memoryMap) Enumerate(_ Tx, order Order, fn func(key, value []byte) (bool, error)) error {
	d := m.data()
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	if order == OrderAscending {
		sort.Strings(keys)
	}
	for _, k := range keys {
		cont, err := fn([]byte(k), d[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

type memoryQueue struct {
	store *MemoryStore
	name  string
}

func (q *memoryQueue) Name() string { return q.name }

func (q *memoryQueue) data() *list.List {
	l, ok := q.store.queues[q.name]
	if !ok {
		l = list.New()
		q.store.queues[q.name] = l
	}
	return l
}

func (q *memoryQueue) Enqueue(_ Tx, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	q.data().PushBack(cp)
	return nil
}

func (q *memoryQueue) TryDequeue(_ Tx) ([]byte, bool, error) {
	l := q.data()
	front := l.Front()
	if front == nil {
		return nil, false, nil
	}
	l.Remove(front)
	return front.Value.([]byte), true, nil
}

func (q *memoryQueue) TryPeek(_ Tx) ([]byte, bool, error) {
	l := q.data()
	front := l.Front()
	if front == nil {
		return nil, false, nil
	}
	return front.Value.([]byte), true, nil
}

func (q *memoryQueue) Count(_ Tx) (uint64, error) {
	return uint64(q.data().Len()), nil
}

func (q *memoryQueue) Enumerate(_ Tx, fn func(value []byte) (bool, error)) error {
	l := q.data()
	for e := l.Front(); e != nil; e = e.Next() {
		cont, err := fn(e.Value.([]byte))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
