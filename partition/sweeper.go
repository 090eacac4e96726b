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

// sweepBatchSize bounds how many expired leases one sweep pass
// reconciles before yielding back to the ticker, so a sweeper catching
// up after a long gap doesn't hold a single long-running transaction.
const sweepBatchSize = 256

// LeaseExpired reports whether key currently has an outstanding lease
// that has passed its leased_until, without mutating anything.
func (p *Partition) LeaseExpired(ctx context.Context, key ItemKey) (bool, error) {
	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return false, err
	}
	defer cancel()
	defer abort(tx)

	raw, found, err := p.coll.lease.TryGet(tx, key.Bytes(), kv.ReadLock)
	if err != nil {
		return false, classifyStoreErr(err, "try_get lease")
	}
	if !found {
		return false, nil
	}
	leasedUntil, err := decodeLeasedUntil(raw)
	if err != nil {
		return false, err
	}
	return leasedUntil < nowMillis(), nil
}

// runSweeperLoop reconciles expired leases until ctx is cancelled. A
// tick that finds nextExpiration still in the future is a no-op; the
// cursor is intentionally allowed to run a little stale, since every
// sweep recomputes it from the lease table.
func (p *Partition) runSweeperLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.LeaseCheckStartDelay):
	}

	ticker := time.NewTicker(p.cfg.LeaseCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.nextExpiration.Load() > nowMillis() {
				continue
			}
			if err := p.sweepOnce(ctx); err != nil {
				log.Warn("[partition] lease sweep failed", "partition", p.cfg.PartitionID, "err", err)
			}
		}
	}
}

// sweepOnce collects up to sweepBatchSize expired lease keys in one
// read pass, reconciles each in its own transaction, and leaves
// nextExpiration pointing at the first lease still outstanding (or
// NoExpiry if the lease table is empty).
func (p *Partition) sweepOnce(ctx context.Context) error {
	candidates, next, err := p.collectExpiredLeases(ctx)
	if err != nil {
		return err
	}
	for _, key := range candidates {
		if err := ctx.Err(); err != nil {
			return wrapErr(KindCancellation, err, "sweep")
		}
		if err := p.reconcileExpiredLease(ctx, key); err != nil {
			log.Warn("[partition] failed reconciling expired lease", "partition", p.cfg.PartitionID, "key", key.Hex(), "err", err)
		}
	}
	p.nextExpiration.Store(next)
	return nil
}

// collectExpiredLeases does not stop at the first live lease it
// reaches: the keys are ItemKeys, so key order carries no relationship
// to leased_until order, and stopping there would silently skip any
// genuinely expired lease ordered after it. next is tracked as the
// minimum leased_until across every live lease seen, not just the
// first. The scan stops early once sweepBatchSize expired keys are
// collected; next is then 0 so the following tick sweeps again.
func (p *Partition) collectExpiredLeases(ctx context.Context) ([]ItemKey, uint64, error) {
	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return nil, NoExpiry, err
	}
	defer cancel()
	defer abort(tx)

	now := nowMillis()
	next := NoExpiry
	candidates := make([]ItemKey, 0, sweepBatchSize)

	err = p.coll.lease.Enumerate(tx, kv.OrderUnordered, func(k, v []byte) (bool, error) {
		leasedUntil, decErr := decodeLeasedUntil(v)
		if decErr != nil {
			return false, decErr
		}
		if leasedUntil >= now {
			if leasedUntil < next {
				next = leasedUntil
			}
			return true, nil
		}
		key, keyErr := ParseItemKeyBytes(k)
		if keyErr != nil {
			return false, keyErr
		}
		candidates = append(candidates, key)
		return len(candidates) < sweepBatchSize, nil
	})
	if err != nil {
		return nil, NoExpiry, classifyStoreErr(err, "enumerate lease table")
	}
	if len(candidates) >= sweepBatchSize {
		// More expired leases may remain past this batch; force the
		// next tick to look again immediately instead of trusting a
		// cursor we didn't get to.
		next = 0
	}
	return candidates, next, nil
}

// reconcileExpiredLease re-reads key's item and lease rows inside a
// fresh transaction (the collection pass above is read-only and can be
// stale) and either demotes it back into a lower-priority band or, once
// MaximumDequeueCount is exhausted, moves it to the expired table.
func (p *Partition) reconcileExpiredLease(ctx context.Context, key ItemKey) error {
	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return err
	}
	defer cancel()

	leaseRaw, found, err := p.coll.lease.TryGet(tx, key.Bytes(), kv.UpdateLock)
	if err != nil {
		abort(tx)
		return classifyStoreErr(err, "try_get lease")
	}
	if !found {
		// Raced with ExtendLease/ReleaseLease/Delete; nothing to do.
		abort(tx)
		return nil
	}
	leasedUntil, err := decodeLeasedUntil(leaseRaw)
	if err != nil {
		abort(tx)
		return err
	}
	if leasedUntil >= nowMillis() {
		abort(tx)
		return nil
	}

	raw, found, err := p.coll.items.TryGet(tx, key.Bytes(), kv.UpdateLock)
	if err != nil {
		abort(tx)
		return classifyStoreErr(err, "try_get item")
	}
	if !found {
		// Orphan lease row with no backing item; drop it.
		if _, err := p.coll.lease.TryRemove(tx, key.Bytes()); err != nil {
			abort(tx)
			return classifyStoreErr(err, "remove orphan lease row")
		}
		return commit(tx)
	}
	item, err := decodeItem(raw)
	if err != nil {
		abort(tx)
		return err
	}

	if item.DequeueCount >= p.cfg.MaximumDequeueCount {
		if _, err := p.coll.items.TryRemove(tx, key.Bytes()); err != nil {
			abort(tx)
			return classifyStoreErr(err, "remove exhausted item")
		}
		if _, err := p.coll.lease.TryRemove(tx, key.Bytes()); err != nil {
			abort(tx)
			return classifyStoreErr(err, "remove lease row")
		}
		if err := p.coll.expired.Add(tx, key.Bytes(), raw); err != nil {
			abort(tx)
			return wrapErr(KindFatal, err, "insert into expired table")
		}
		if err := commit(tx); err != nil {
			return err
		}
		log.Info("[partition] item exhausted its dequeue budget", "partition", p.cfg.PartitionID, "key", key.Hex(), "dequeueCount", item.DequeueCount)
		return nil
	}

	newBand := item.Band - 1
	if newBand < 0 {
		newBand = 0
	}
	item.Band = newBand
	item.LeasedUntil = NoExpiry
	enc, err := item.encode()
	if err != nil {
		abort(tx)
		return err
	}
	if _, err := p.coll.items.TryUpdate(tx, key.Bytes(), enc, raw); err != nil {
		abort(tx)
		return classifyStoreErr(err, "demote item")
	}
	if _, err := p.coll.lease.TryRemove(tx, key.Bytes()); err != nil {
		abort(tx)
		return classifyStoreErr(err, "remove lease row")
	}
	q, err := p.coll.band(newBand)
	if err != nil {
		abort(tx)
		return err
	}
	if err := q.Enqueue(tx, key.Bytes()); err != nil {
		abort(tx)
		return classifyStoreErr(err, "requeue demoted item")
	}

	return commit(tx)
}
