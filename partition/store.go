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

// collections is the set of maps/queues one partition replica owns,
// pre-opened at construction. kv.Store.OpenMap/OpenQueue is idempotent
// by name, so resolving the handles once and reusing them is safe.
type collections struct {
	items   kv.Map
	lease   kv.Map
	expired kv.Map
	bands   []kv.Queue // index == priority band
}

func openCollections(store kv.Store, cfg Config) (*collections, error) {
	maps, queues := kv.NamesForPartition(cfg.PartitionID, cfg.NumberOfQueues)
	items, err := store.OpenMap(maps[0])
	if err != nil {
		return nil, wrapErr(KindTransient, err, "open items map")
	}
	lease, err := store.OpenMap(maps[1])
	if err != nil {
		return nil, wrapErr(KindTransient, err, "open lease map")
	}
	expired, err := store.OpenMap(maps[2])
	if err != nil {
		return nil, wrapErr(KindTransient, err, "open expired map")
	}
	bands := make([]kv.Queue, len(queues))
	for i, name := range queues {
		q, err := store.OpenQueue(name)
		if err != nil {
			return nil, wrapErr(KindTransient, err, "open queue band %d", i)
		}
		bands[i] = q
	}
	return &collections{items: items, lease: lease, expired: expired, bands: bands}, nil
}

func (c *collections) band(i int32) (kv.Queue, error) {
	if i < 0 || int(i) >= len(c.bands) {
		return nil, newErr(KindArgumentInvalid, "priority band %d out of range [0,%d)", i, len(c.bands))
	}
	return c.bands[i], nil
}

// beginTx opens a transaction bounded by cfg.FabricOperationTimeout and
// the caller's cancellation token. The returned cancel must be
// deferred by the caller; abort(ctx) on cancellation never commits.
func (p *Partition) beginTx(ctx context.Context, writable bool) (kv.Tx, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, wrapErr(KindCancellation, err, "begin tx")
	}
	opCtx, cancel := context.WithTimeout(ctx, p.cfg.FabricOperationTimeout)
	tx, err := p.store.Begin(opCtx, writable)
	if err != nil {
		cancel()
		return nil, nil, classifyStoreErr(err, "begin tx")
	}
	return tx, cancel, nil
}

func classifyStoreErr(err error, op string) *Error {
	switch {
	case err == nil:
		return nil
	case contextErr(err):
		return wrapErr(KindCancellation, err, op)
	default:
		return wrapErr(KindTransient, err, op)
	}
}

func contextErr(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

func abort(tx kv.Tx) {
	_ = tx.Rollback()
}

func commit(tx kv.Tx) error {
	if err := tx.Commit(); err != nil {
		return classifyStoreErr(err, "commit")
	}
	return nil
}
