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

// Peek returns, without leasing it, the item at the head of the first
// band in [startBand, endBand] (endBand == -1 meaning the last band)
// that holds a live item. It returns at most one item; a count above
// one does not return further items, and count <= 0 returns none. Unlike
// Dequeue, a peeked item's lease and dequeue count are untouched.
// Orphan queue entries and items that have crossed their absolute
// expiry are still garbage-collected along the way, using the same
// try_dequeue-then-reconcile shape as Dequeue.
func (p *Partition) Peek(ctx context.Context, count int, startBand, endBand int32) ([]QueueItem, error) {
	start, end, err := p.normalizeBandRange(startBand, endBand)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	out := make([]QueueItem, 0, count)
	band := start
	iterationErrors := 0

	for len(out) < count && band <= end && iterationErrors < maxDequeueIterationErrors {
		if err := ctx.Err(); err != nil {
			return out, wrapErr(KindCancellation, err, "peek")
		}
		item, gotOne, advance, err := p.peekOnce(ctx, band)
		if err != nil {
			iterationErrors++
			log.Warn("[partition] peek iteration failed, retrying", "partition", p.cfg.PartitionID, "band", band, "err", err)
			continue
		}
		if advance {
			band++
			continue
		}
		if gotOne {
			out = append(out, item)
			break
		}
	}
	return out, nil
}

// PeekKeys is Peek with only the item keys, avoiding the payload
// round trip when a caller just wants to know what's queued.
func (p *Partition) PeekKeys(ctx context.Context, count int, startBand, endBand int32) ([]ItemKey, error) {
	items, err := p.Peek(ctx, count, startBand, endBand)
	if err != nil {
		return nil, err
	}
	keys := make([]ItemKey, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys, nil
}

func (p *Partition) peekOnce(ctx context.Context, band int32) (QueueItem, bool, bool, error) {
	q, err := p.coll.band(band)
	if err != nil {
		return QueueItem{}, false, false, err
	}

	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return QueueItem{}, false, false, err
	}
	defer cancel()

	keyBytes, ok, err := q.TryPeek(tx)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, classifyStoreErr(err, "try_peek")
	}
	if !ok {
		abort(tx)
		return QueueItem{}, false, true, nil
	}
	key, err := ParseItemKeyBytes(keyBytes)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, err
	}

	raw, found, err := p.coll.items.TryGet(tx, key.Bytes(), kv.ReadLock)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, classifyStoreErr(err, "try_get item")
	}
	if !found {
		// The head of the band is an orphan; drain it via try_dequeue
		// in this same transaction rather than leaving it for the next
		// caller to trip over.
		if _, _, err := q.TryDequeue(tx); err != nil {
			abort(tx)
			return QueueItem{}, false, false, classifyStoreErr(err, "drain orphan")
		}
		if err := commit(tx); err != nil {
			return QueueItem{}, false, false, err
		}
		log.Info("[partition] peek drained orphan key", "partition", p.cfg.PartitionID, "band", band, "key", key.Hex())
		return QueueItem{}, false, false, nil
	}

	item, err := decodeItem(raw)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, err
	}

	if item.ExpiresAt < nowMillis() {
		if _, _, err := q.TryDequeue(tx); err != nil {
			abort(tx)
			return QueueItem{}, false, false, classifyStoreErr(err, "drain expired head")
		}
		if _, err := p.coll.items.TryRemove(tx, key.Bytes()); err != nil {
			abort(tx)
			return QueueItem{}, false, false, classifyStoreErr(err, "remove expired item")
		}
		if err := p.coll.expired.Add(tx, key.Bytes(), raw); err != nil {
			abort(tx)
			return QueueItem{}, false, false, wrapErr(KindFatal, err, "insert into expired table")
		}
		if err := commit(tx); err != nil {
			return QueueItem{}, false, false, err
		}
		log.Info("[partition] item crossed absolute expiry at peek", "partition", p.cfg.PartitionID, "key", key.Hex())
		return QueueItem{}, false, false, nil
	}

	abort(tx) // read-only except for the GC paths above
	return item, true, false, nil
}
