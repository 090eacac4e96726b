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

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/erigontech/pqservice/pkg/kv"
)

// Delete removes key from the items table and, if present, the lease
// table, in a single transaction, returning the item row as it stood
// right before removal. If key is not in the items table it also tries
// the expired table, since that is the only path that ever purges an
// exhausted item once the sweeper has moved it there. It tolerates key
// still sitting in its priority band's queue — Dequeue and Peek both
// recognize and drain that orphan case on their own. Deleting an
// already-deleted or never-enqueued key is not an error; found is
// simply false.
func (p *Partition) Delete(ctx context.Context, key ItemKey) (item QueueItem, found bool, err error) {
	if err := p.checkPartition([]ItemKey{key}); err != nil {
		return QueueItem{}, false, err
	}

	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return QueueItem{}, false, err
	}
	defer cancel()

	raw, found, err := p.coll.items.TryGet(tx, key.Bytes(), kv.UpdateLock)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, classifyStoreErr(err, "try_get item")
	}
	if !found {
		expiredRaw, expiredFound, err := p.coll.expired.TryGet(tx, key.Bytes(), kv.UpdateLock)
		if err != nil {
			abort(tx)
			return QueueItem{}, false, classifyStoreErr(err, "try_get expired item")
		}
		if !expiredFound {
			abort(tx)
			log.Debug("[partition] delete on absent key", "partition", p.cfg.PartitionID, "key", key.Hex())
			return QueueItem{}, false, nil
		}
		expiredItem, err := decodeItem(expiredRaw)
		if err != nil {
			abort(tx)
			return QueueItem{}, false, err
		}
		if _, err := p.coll.expired.TryRemove(tx, key.Bytes()); err != nil {
			abort(tx)
			return QueueItem{}, false, classifyStoreErr(err, "remove expired item")
		}
		if err := commit(tx); err != nil {
			return QueueItem{}, false, err
		}
		return expiredItem, true, nil
	}
	item, err = decodeItem(raw)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, err
	}

	if _, err := p.coll.items.TryRemove(tx, key.Bytes()); err != nil {
		abort(tx)
		return QueueItem{}, false, classifyStoreErr(err, "remove item")
	}
	if _, err := p.coll.lease.TryRemove(tx, key.Bytes()); err != nil {
		abort(tx)
		return QueueItem{}, false, classifyStoreErr(err, "remove lease entry")
	}

	if err := commit(tx); err != nil {
		return QueueItem{}, false, err
	}
	return item, true, nil
}
