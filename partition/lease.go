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

package partition

import (
	"context"
	"time"

	"github.com/erigontech/pqservice/pkg/kv"
)

// ExtendLease renews a single leased item's leased_until to
// now+duration, or acknowledges it if duration is zero. It is a thin
// wrapper over ExtendLeases for callers with exactly one key.
func (p *Partition) ExtendLease(ctx context.Context, key ItemKey, duration time.Duration) (bool, error) {
	results, err := p.ExtendLeases(ctx, []ItemKey{key}, duration)
	if err != nil {
		return false, err
	}
	return results[0], nil
}

// ExtendLeases renews or releases a whole batch of keys' leases in a
// single transaction, committed once at the end, matching the wire
// format's array-in/array-out shape. A duration of exactly zero means
// release (acknowledge and remove), not "use the configured default" —
// this is the opposite of what a zero duration means to Enqueue. A key
// that does not name a live item reports false in its slot rather than
// failing the whole batch; any other failure aborts the transaction
// and is returned as an error for the whole call.
func (p *Partition) ExtendLeases(ctx context.Context, keys []ItemKey, duration time.Duration) ([]bool, error) {
	if err := p.checkPartition(keys); err != nil {
		return nil, err
	}
	if duration == 0 {
		return p.releaseLeases(ctx, keys)
	}

	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()

	results := make([]bool, len(keys))
	leasedUntil := addDuration(nowMillis(), duration)
	for i, key := range keys {
		ok, err := extendOneLease(tx, p.coll, key, leasedUntil)
		if err != nil {
			abort(tx)
			return nil, err
		}
		results[i] = ok
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	p.lowerNextExpiration(leasedUntil)
	return results, nil
}

func extendOneLease(tx kv.Tx, coll *collections, key ItemKey, leasedUntil uint64) (bool, error) {
	raw, found, err := coll.items.TryGet(tx, key.Bytes(), kv.UpdateLock)
	if err != nil {
		return false, classifyStoreErr(err, "try_get item")
	}
	if !found {
		return false, nil
	}
	item, err := decodeItem(raw)
	if err != nil {
		return false, err
	}

	item.LeasedUntil = leasedUntil
	enc, err := item.encode()
	if err != nil {
		return false, err
	}
	if _, err := coll.items.TryUpdate(tx, key.Bytes(), enc, raw); err != nil {
		return false, classifyStoreErr(err, "update item on extend")
	}
	if err := coll.lease.AddOrUpdate(tx, key.Bytes(), func([]byte, bool) []byte {
		return encodeLeasedUntil(leasedUntil)
	}); err != nil {
		return false, wrapErr(KindFatal, err, "upsert lease entry")
	}
	return true, nil
}

// ReleaseLease acknowledges a single key, completing it: the lease row
// is dropped and the item row is removed outright, the same as
// Delete. It is a thin wrapper over ReleaseLeases for callers with
// exactly one key, and is not "unlease back onto the queue" — a caller
// that wants the item redelivered should let the lease expire and
// demote through the sweeper instead of releasing it.
func (p *Partition) ReleaseLease(ctx context.Context, key ItemKey) (bool, error) {
	results, err := p.ReleaseLeases(ctx, []ItemKey{key})
	if err != nil {
		return false, err
	}
	return results[0], nil
}

// ReleaseLeases acknowledges a whole batch of keys in a single
// transaction, committed once at the end.
func (p *Partition) ReleaseLeases(ctx context.Context, keys []ItemKey) ([]bool, error) {
	if err := p.checkPartition(keys); err != nil {
		return nil, err
	}
	return p.releaseLeases(ctx, keys)
}

func (p *Partition) releaseLeases(ctx context.Context, keys []ItemKey) ([]bool, error) {
	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()

	results := make([]bool, len(keys))
	for i, key := range keys {
		ok, err := releaseOneLease(tx, p.coll, key)
		if err != nil {
			abort(tx)
			return nil, err
		}
		results[i] = ok
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	return results, nil
}

// releaseOneLease follows the sequence release is specified by: remove
// the lease row first, and only if it was actually present remove the
// item row too. A key with no outstanding lease (never dequeued, or
// already released/expired/demoted) reports false without touching the
// items table.
func releaseOneLease(tx kv.Tx, coll *collections, key ItemKey) (bool, error) {
	leasePresent, err := coll.lease.TryRemove(tx, key.Bytes())
	if err != nil {
		return false, classifyStoreErr(err, "remove lease entry on release")
	}
	if !leasePresent {
		return false, nil
	}
	if _, err := coll.items.TryRemove(tx, key.Bytes()); err != nil {
		return false, classifyStoreErr(err, "remove item on release")
	}
	return true, nil
}
