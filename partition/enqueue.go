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
	"encoding/json"
	"time"
)

// Enqueue inserts len(payloads) items into band, in one transaction.
// A zero leaseDuration falls back to the partition's configured
// default lease, and independently a zero absoluteExpiration falls
// back to the configured default expiration — the two defaults are
// resolved separately, not behind one shared "was anything specified"
// flag.
func (p *Partition) Enqueue(ctx context.Context, payloads []json.RawMessage, band int32, leaseDuration, absoluteExpiration time.Duration) ([]QueueItem, error) {
	if band < 0 || band >= p.cfg.NumberOfQueues {
		return nil, newErr(KindArgumentInvalid, "band %d out of range [0,%d)", band, p.cfg.NumberOfQueues)
	}
	if len(payloads) == 0 {
		return nil, nil
	}
	q, err := p.coll.band(band)
	if err != nil {
		return nil, err
	}

	resolvedLease := leaseDuration
	if resolvedLease == 0 {
		resolvedLease = p.cfg.LeaseDuration
	}
	resolvedExpiration := absoluteExpiration
	if resolvedExpiration == 0 {
		resolvedExpiration = p.cfg.ItemExpiration
	}

	tx, cancel, err := p.beginTx(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()

	enqueuedAt := nowMillis()
	expiresAt := addDuration(enqueuedAt, resolvedExpiration)

	out := make([]QueueItem, 0, len(payloads))
	for _, payload := range payloads {
		if ctx.Err() != nil {
			abort(tx)
			return nil, wrapErr(KindCancellation, ctx.Err(), "enqueue")
		}
		item := QueueItem{
			Key:           NewItemKey(p.cfg.PartitionID),
			Band:          band,
			Payload:       payload,
			LeaseDuration: int64(durationMillis(resolvedLease)),
			LeasedUntil:   NoExpiry,
			EnqueuedAt:    enqueuedAt,
			ExpiresAt:     expiresAt,
			DequeueCount:  0,
		}
		enc, err := item.encode()
		if err != nil {
			abort(tx)
			return nil, err
		}
		if err := p.coll.items.Add(tx, item.Key.Bytes(), enc); err != nil {
			abort(tx)
			return nil, wrapErr(KindFatal, err, "insert item %s", item.Key.Hex())
		}
		if err := q.Enqueue(tx, item.Key.Bytes()); err != nil {
			abort(tx)
			return nil, classifyStoreErr(err, "enqueue key into band")
		}
		out = append(out, item)
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	return out, nil
}
