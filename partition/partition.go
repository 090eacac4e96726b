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
	"sync/atomic"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/erigontech/pqservice/pkg/kv"
)

// Partition is one partition replica: the item table, the priority
// queue bank, the lease table, the expired table, and the in-memory
// next-expiration cursor, all bound to a single kv.Store. It does not
// itself decide which replica is primary — that's RoleController's job
// — and it does not speak HTTP — that's the api package's job.
type Partition struct {
	cfg   Config
	store kv.Store
	coll  *collections

	// nextExpiration is a monotone-min hint of the earliest lease
	// expiration outstanding, stored as unix millis. It is read/written
	// with plain atomic ops rather than a mutex: relaxed atomicity is
	// fine here since every sweep re-derives the true minimum from the
	// lease table.
	nextExpiration atomic.Uint64

	counters *healthCounters
}

// New validates cfg, opens the partition's collections against store,
// and returns a Partition ready for Enqueue/Dequeue/etc. It does not
// start any background task; wrap it in a RoleController for that.
func New(store kv.Store, cfg Config) (*Partition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	coll, err := openCollections(store, cfg)
	if err != nil {
		return nil, err
	}
	p := &Partition{
		cfg:      cfg,
		store:    store,
		coll:     coll,
		counters: newHealthCounters(),
	}
	p.nextExpiration.Store(NoExpiry)
	log.Info("[partition] opened", "partition", cfg.PartitionID, "bands", cfg.NumberOfQueues)
	return p, nil
}

func (p *Partition) Config() Config { return p.cfg }

// checkPartition rejects a batch of keys where any key does not
// belong to this partition.
func (p *Partition) checkPartition(keys []ItemKey) error {
	for _, k := range keys {
		if k.PartitionID() != p.cfg.PartitionID {
			return newErr(KindPartitionMismatch, "key %s belongs to partition %d, not %d", k.Hex(), k.PartitionID(), p.cfg.PartitionID)
		}
	}
	return nil
}
