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

// Package kv is the partition state store adapter contract: ordered
// key/value maps and FIFO queues behind multi-collection ACID
// transactions. The replicated-log / state-machine-replication layer
// that actually makes commit linearizable across replicas lives
// outside this package — Store is the seam a real replication backend
// would be wired in behind; BboltStore and MemoryStore are
// single-process stand-ins good enough to run and test a partition
// replica against.
package kv

import (
	"context"
	"errors"
)

// LockMode is a hint accompanying a Get: whether the caller intends to
// write the row back inside the same transaction. Backends that don't
// need explicit row locking (a single-writer engine like bbolt) may
// treat it as a no-op; it exists so the adapter contract matches a
// true multi-writer store where UPDATE must actually take a lock.
type LockMode int

const (
	ReadLock LockMode = iota
	UpdateLock
)

// Order hints how Enumerate should walk a Map. Backends that only
// offer one order (e.g. a B+tree naturally ordered by key) may ignore
// Unordered; producing key order for an Unordered enumeration is
// always a valid implementation of "no ordering guaranteed".
type Order int

const (
	OrderAscending Order = iota
	OrderUnordered
)

// Errors a caller classifies and maps to its own error taxonomy.
// Concrete backends wrap these with errors.Join or
// fmt.Errorf("...: %w", ...) so errors.Is still matches.
var (
	// ErrTransient covers timeouts, temporary unavailability, or a
	// closed handle that a retry policy should retry.
	ErrTransient = errors.New("kv: transient store error")
	// ErrNotPrimary means the call landed on a non-primary replica.
	ErrNotPrimary = errors.New("kv: not primary")
	// ErrObjectClosed means the Tx/Map/Queue handle was already closed;
	// treated as transient after the caller refreshes its handle.
	ErrObjectClosed = errors.New("kv: object closed")
	// ErrTimeout means an individual store call exceeded
	// FabricOperationTimeout.
	ErrTimeout = errors.New("kv: operation timed out")
	// ErrNotFound is a typed "absent" signal for callers that want one.
	// TryUpdate does not return it: a mismatched expected value is
	// reported as false, nil.
	ErrNotFound = errors.New("kv: key not found")
	// ErrAlreadyExists is returned by Add when the key is already present.
	ErrAlreadyExists = errors.New("kv: key already exists")
)

// Tx is one multi-collection transaction. Commit is linearizable
// across replicas in a real deployment. Rollback discards all writes on
// BboltStore; MemoryStore applies writes as they are made, so its
// Rollback only releases the lock and earlier writes stay in place.
type Tx interface {
	Context() context.Context
	Writable() bool
	Commit() error
	Rollback() error
}

// Store opens (lazily, deterministically by name) the named maps and
// queues, and begins transactions spanning any combination of them.
type Store interface {
	OpenMap(name string) (Map, error)
	OpenQueue(name string) (Queue, error)
	Begin(ctx context.Context, writable bool) (Tx, error)
	Close() error
}

// Map is an ordered key/value collection.
type Map interface {
	Name() string
	TryGet(tx Tx, key []byte, lock LockMode) (value []byte, ok bool, err error)
	Add(tx Tx, key, value []byte) error
	// TryUpdate replaces key's value with newValue iff the current value
	// equals expected (byte-for-byte). Returns false, nil if the
	// precondition failed (not an error — the caller lost a race).
	TryUpdate(tx Tx, key, newValue, expected []byte) (bool, error)
	// AddOrUpdate upserts key. merge receives (existing, true) if present
	// or (nil, false) if absent, and returns the value to store.
	AddOrUpdate(tx Tx, key []byte, merge func(existing []byte, exists bool) []byte) error
	TryRemove(tx Tx, key []byte) (existed bool, err error)
	Count(tx Tx) (uint64, error)
	// Enumerate calls fn for each (key, value) until fn returns false or
	// an error. order is a hint only (see Order).
	Enumerate(tx Tx, order Order, fn func(key, value []byte) (bool, error)) error
}

// Queue is a FIFO collection of opaque keys (no payload of its own —
// a priority band holds item keys only, never the items themselves).
type Queue interface {
	Name() string
	Enqueue(tx Tx, value []byte) error
	TryDequeue(tx Tx) (value []byte, ok bool, err error)
	TryPeek(tx Tx) (value []byte, ok bool, err error)
	Count(tx Tx) (uint64, error)
	Enumerate(tx Tx, fn func(value []byte) (bool, error)) error
}
