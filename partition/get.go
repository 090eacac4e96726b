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

	"github.com/erigontech/pqservice/pkg/kv"
)

// Special selectors accepted by Count, besides a non-negative band
// index.
const (
	CountSelectorAllQueues = -1
	CountSelectorLease     = -2
	CountSelectorExpired   = -3
	CountSelectorItems     = -4
)

// Count resolves one of the `count` route's selectors: a non-negative
// band index counts that band alone; the negative selectors above
// count the lease table, the expired table, the item table, or every
// band summed together.
func (p *Partition) Count(ctx context.Context, selector int32) (uint64, error) {
	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer abort(tx)

	switch {
	case selector >= 0:
		q, err := p.coll.band(selector)
		if err != nil {
			return 0, err
		}
		n, err := q.Count(tx)
		if err != nil {
			return 0, classifyStoreErr(err, "count band")
		}
		return n, nil
	case selector == CountSelectorAllQueues:
		var total uint64
		for _, q := range p.coll.bands {
			n, err := q.Count(tx)
			if err != nil {
				return 0, classifyStoreErr(err, "count band")
			}
			total += n
		}
		return total, nil
	case selector == CountSelectorLease:
		n, err := p.coll.lease.Count(tx)
		if err != nil {
			return 0, classifyStoreErr(err, "count lease table")
		}
		return n, nil
	case selector == CountSelectorExpired:
		n, err := p.coll.expired.Count(tx)
		if err != nil {
			return 0, classifyStoreErr(err, "count expired table")
		}
		return n, nil
	case selector == CountSelectorItems:
		n, err := p.coll.items.Count(tx)
		if err != nil {
			return 0, classifyStoreErr(err, "count item table")
		}
		return n, nil
	default:
		return 0, newErr(KindArgumentInvalid, "unknown count selector %d", selector)
	}
}

// ListItems pages through the item table in key order, skipping skip
// rows and returning at most top of them.
func (p *Partition) ListItems(ctx context.Context, skip, top int) ([]QueueItem, error) {
	if top <= 0 {
		return nil, nil
	}
	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer abort(tx)

	out := make([]QueueItem, 0, top)
	skipped := 0
	err = p.coll.items.Enumerate(tx, kv.OrderAscending, func(_, v []byte) (bool, error) {
		if skipped < skip {
			skipped++
			return true, nil
		}
		item, decErr := decodeItem(v)
		if decErr != nil {
			return false, decErr
		}
		out = append(out, item)
		return len(out) < top, nil
	})
	if err != nil {
		return nil, classifyStoreErr(err, "enumerate item table")
	}
	return out, nil
}

// ListBandKeys pages through one priority band's queue in FIFO order
// without dequeuing or leasing anything.
func (p *Partition) ListBandKeys(ctx context.Context, band int32, skip, top int) ([]ItemKey, error) {
	if top <= 0 {
		return nil, nil
	}
	q, err := p.coll.band(band)
	if err != nil {
		return nil, err
	}

	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer abort(tx)

	out := make([]ItemKey, 0, top)
	skipped := 0
	err = q.Enumerate(tx, func(v []byte) (bool, error) {
		if skipped < skip {
			skipped++
			return true, nil
		}
		key, keyErr := ParseItemKeyBytes(v)
		if keyErr != nil {
			return false, keyErr
		}
		out = append(out, key)
		return len(out) < top, nil
	})
	if err != nil {
		return nil, classifyStoreErr(err, "enumerate band")
	}
	return out, nil
}
