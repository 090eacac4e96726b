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

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/erigontech/pqservice/pkg/kv"
)

// maxDequeueIterationErrors bounds how many transient per-iteration
// failures Dequeue tolerates before giving up.
const maxDequeueIterationErrors = 5

// Dequeue drains count items across [startBand, endBand] in strict
// priority order, leasing each one. endBand == -1 means "the last
// band". The returned slice may be shorter than count if the bands are
// exhausted or the iteration error budget runs out.
func (p *Partition) Dequeue(ctx context.Context, count int, startBand, endBand int32) ([]QueueItem, error) {
	start, end, err := p.normalizeBandRange(startBand, endBand)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	started := time.Now()
	defer func() { p.counters.recordLatency(started) }()

	returned := make([]QueueItem, 0, count)
	band := start
	iterationErrors := 0

	for len(returned) < count && band <= end && iterationErrors < maxDequeueIterationErrors {
		if err := ctx.Err(); err != nil {
			return returned, wrapErr(KindCancellation, err, "dequeue")
		}
		item, gotOne, advance, err := p.dequeueOnce(ctx, band)
		if err != nil {
			iterationErrors++
			log.Warn("[partition] dequeue iteration failed, retrying", "partition", p.cfg.PartitionID, "band", band, "err", err)
			continue
		}
		if advance {
			band++
			continue
		}
		if gotOne {
			returned = append(returned, item)
		}
	}
	p.counters.recordOps(len(returned))
	return returned, nil
}

func (p *Partition) normalizeBandRange(startBand, endBand int32) (int32, int32, error) {
	start := startBand
	end := endBand
	if end == -1 {
		end = p.cfg.NumberOfQueues - 1
	}
	if start < 0 || start >= p.cfg.NumberOfQueues {
		return 0, 0, newErr(KindArgumentInvalid, "startBand %d out of range [0,%d)", start, p.cfg.NumberOfQueues)
	}
	if end < start || end >= p.cfg.NumberOfQueues {
		return 0, 0, newErr(KindArgumentInvalid, "endBand %d out of range [%d,%d)", end, start, p.cfg.NumberOfQueues)
	}
	return start, end, nil
}

// dequeueOnce runs one transaction against a single band: (item, gotOne,
// advanceToNextBand, error). advanceToNextBand is true when the band
// was empty and the caller should move on without counting an error.
func (p *Partition) dequeueOnce(ctx context.Context, band int32) (QueueItem, bool, bool, error) {
	q, err := p.coll.band(band)
	if err != nil {
		return QueueItem{}, false, false, err
	}

	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return QueueItem{}, false, false, err
	}
	defer cancel()

	keyBytes, ok, err := q.TryDequeue(tx)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, classifyStoreErr(err, "try_dequeue")
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

	raw, found, err := p.coll.items.TryGet(tx, key.Bytes(), kv.UpdateLock)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, classifyStoreErr(err, "try_get item")
	}
	if !found {
		// Orphan key: a delete ran while the key was still sitting in
		// its band. Commit anyway — the queue has already advanced
		// past it — and log, since this is the one tolerated
		// inconsistency in the system.
		if err := commit(tx); err != nil {
			return QueueItem{}, false, false, err
		}
		log.Info("[partition] dequeue drained orphan key", "partition", p.cfg.PartitionID, "band", band, "key", key.Hex())
		return QueueItem{}, false, false, nil
	}

	item, err := decodeItem(raw)
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, err
	}

	now := nowMillis()
	if item.ExpiresAt < now {
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
		log.Info("[partition] item crossed absolute expiry at dequeue", "partition", p.cfg.PartitionID, "key", key.Hex())
		return QueueItem{}, false, false, nil
	}

	if item.LeaseDuration == 0 {
		// Fire-and-forget dequeue: the item is consumed without ever
		// being leased, and never returned to the caller.
		if err := commit(tx); err != nil {
			return QueueItem{}, false, false, err
		}
		return QueueItem{}, false, false, nil
	}

	leasedUntil := addDuration(now, leaseDurationFromMillis(item.LeaseDuration))
	item.LeasedUntil = leasedUntil
	item.DequeueCount++
	enc, err := item.encode()
	if err != nil {
		abort(tx)
		return QueueItem{}, false, false, err
	}
	if _, err := p.coll.items.TryUpdate(tx, key.Bytes(), enc, raw); err != nil {
		abort(tx)
		return QueueItem{}, false, false, classifyStoreErr(err, "update item on dequeue")
	}
	if err := p.coll.lease.AddOrUpdate(tx, key.Bytes(), func([]byte, bool) []byte {
		return encodeLeasedUntil(leasedUntil)
	}); err != nil {
		abort(tx)
		return QueueItem{}, false, false, wrapErr(KindFatal, err, "upsert lease entry")
	}
	if err := commit(tx); err != nil {
		return QueueItem{}, false, false, err
	}
	p.lowerNextExpiration(leasedUntil)
	return item, true, false, nil
}

// lowerNextExpiration installs candidate as the new cursor iff it is
// earlier than the current one, matching the monotone-min cursor the
// sweeper relies on.
func (p *Partition) lowerNextExpiration(candidate uint64) {
	for {
		cur := p.nextExpiration.Load()
		if candidate >= cur {
			return
		}
		if p.nextExpiration.CompareAndSwap(cur, candidate) {
			return
		}
	}
}
