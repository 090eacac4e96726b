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
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

// BboltStore backs Store with a single bbolt database file. bbolt's
// single-writer-many-readers model already gives any writable
// transaction UPDATE-strength exclusivity across every bucket it
// touches, so LockMode is accepted for interface symmetry and ignored.
type BboltStore struct {
	db *bbolt.DB
}

func OpenBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open bbolt store %q: %w", path, err)
	}
	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kv: close bbolt store: %w", err)
	}
	return nil
}

func (s *BboltStore) OpenMap(name string) (Map, error) {
	return &bboltMap{name: name}, nil
}

func (s *BboltStore) OpenQueue(name string) (Queue, error) {
	return &bboltQueue{name: name}, nil
}

func (s *BboltStore) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	btx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("%w: begin bbolt tx: %v", ErrTransient, err)
	}
	return &bboltTx{tx: btx, ctx: ctx}, nil
}

type bboltTx struct {
	tx *bbolt.Tx
	ctx context.Context
}

func (t *bboltTx) Context() context.Context { return t.ctx }
func (t *bboltTx) Writable() bool           { return t.tx.Writable() }

func (t *bboltTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransient, err)
	}
	return nil
}

func (t *bboltTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != bbolt.ErrTxClosed {
		return fmt.Errorf("%w: rollback: %v", ErrTransient, err)
	}
	return nil
}

func asBboltTx(tx Tx) (*bbolt.Tx, error) {
	bt, ok := tx.(*bboltTx)
	if !ok {
		return nil, fmt.Errorf("kv: tx is not a bbolt transaction")
	}
	return bt.tx, nil
}

type bboltMap struct{ name string }

func (m *bboltMap) Name() string { return m.name }

func (m *bboltMap) bucket(tx Tx) (*bbolt.Bucket, error) {
	btx, err := asBboltTx(tx)
	if err != nil {
		return nil, err
	}
	if btx.Writable() {
		b, err := btx.CreateBucketIfNotExists([]byte(m.name))
		if err != nil {
			return nil, fmt.Errorf("%w: create bucket %s: %v", ErrTransient, m.name, err)
		}
		return b, nil
	}
	return btx.Bucket([]byte(m.name)), nil
}

func (m *bboltMap) TryGet(tx Tx, key []byte, _ LockMode) ([]byte, bool, error) {
	b, err := m.bucket(tx)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *bboltMap) Add(tx Tx, key, value []byte) error {
	b, err := m.bucket(tx)
	if err != nil {
		return err
	}
	if b.Get(key) != nil {
		return ErrAlreadyExists
	}
	if err := b.Put(key, value); err != nil {
		return fmt.Errorf("%w: put into %s: %v", ErrTransient, m.name, err)
	}
	return nil
}

func (m *bboltMap) TryUpdate(tx Tx, key, newValue, expected []byte) (bool, error) {
	b, err := m.bucket(tx)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	current := b.Get(key)
	if !bytes.Equal(current, expected) {
		return false, nil
	}
	if err := b.Put(key, newValue); err != nil {
		return false, fmt.Errorf("%w: update in %s: %v", ErrTransient, m.name, err)
	}
	return true, nil
}

func (m *bboltMap) AddOrUpdate(tx Tx, key []byte, merge func([]byte, bool) []byte) error {
	b, err := m.bucket(tx)
	if err != nil {
		return err
	}
	existing := b.Get(key)
	exists := existing != nil
	var prev []byte
	if exists {
		prev = make([]byte, len(existing))
		copy(prev, existing)
	}
	next := merge(prev, exists)
	if err := b.Put(key, next); err != nil {
		return fmt.Errorf("%w: add-or-update in %s: %v", ErrTransient, m.name, err)
	}
	return nil
}

func (m *bboltMap) TryRemove(tx Tx, key []byte) (bool, error) {
	b, err := m.bucket(tx)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	existed := b.Get(key) != nil
	if !existed {
		return false, nil
	}
	if err := b.Delete(key); err != nil {
		return false, fmt.Errorf("%w: delete from %s: %v", ErrTransient, m.name, err)
	}
	return true, nil
}

func (m *bboltMap) Count(tx Tx) (uint64, error) {
	b, err := m.bucket(tx)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, nil
	}
	var n uint64
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

func (m *bboltMap) Enumerate(tx Tx, _ Order, fn func(key, value []byte) (bool, error)) error {
	b, err := m.bucket(tx)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// bboltQueue implements a FIFO using a bucket keyed by an
// auto-incrementing sequence number, so cursor order is always
// insertion order.
type bboltQueue struct{ name string }

func (q *bboltQueue) Name() string { return q.name }

func (q *bboltQueue) bucket(tx Tx) (*bbolt.Bucket, error) {
	btx, err := asBboltTx(tx)
	if err != nil {
		return nil, err
	}
	if btx.Writable() {
		b, err := btx.CreateBucketIfNotExists([]byte(q.name))
		if err != nil {
			return nil, fmt.Errorf("%w: create queue bucket %s: %v", ErrTransient, q.name, err)
		}
		return b, nil
	}
	return btx.Bucket([]byte(q.name)), nil
}

func (q *bboltQueue) Enqueue(tx Tx, value []byte) error {
	b, err := q.bucket(tx)
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("%w: sequence for %s: %v", ErrTransient, q.name, err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	if err := b.Put(key, value); err != nil {
		return fmt.Errorf("%w: enqueue into %s: %v", ErrTransient, q.name, err)
	}
	return nil
}

func (q *bboltQueue) TryDequeue(tx Tx) ([]byte, bool, error) {
	b, err := q.bucket(tx)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	c := b.Cursor()
	k, v := c.First()
	if k == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	if err := b.Delete(k); err != nil {
		return nil, false, fmt.Errorf("%w: dequeue from %s: %v", ErrTransient, q.name, err)
	}
	return out, true, nil
}

func (q *bboltQueue) TryPeek(tx Tx) ([]byte, bool, error) {
	b, err := q.bucket(tx)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	k, v := b.Cursor().First()
	if k == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (q *bboltQueue) Count(tx Tx) (uint64, error) {
	b, err := q.bucket(tx)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, nil
	}
	var n uint64
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

func (q *bboltQueue) Enumerate(tx Tx, fn func(value []byte) (bool, error)) error {
	b, err := q.bucket(tx)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		cont, err := fn(v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
