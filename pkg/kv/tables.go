// Copyright 2021 The Erigon Authors
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

package kv

import "fmt"

// Deterministic collection names for one partition replica: a given
// partition id always opens the same physical collections regardless
// of process restart order.

const (
	// Items is the authoritative item table.
	// key   - ItemKey (32 bytes)
	// value - json(QueueItem)
	Items = "Items"

	// Lease is the index from key to lease expiry, populated only for
	// items currently on lease.
	// key   - ItemKey (32 bytes)
	// value - leased_until, unix millis as a 20-digit zero-padded decimal string
	Lease = "Lease"

	// Expired is the terminal resting place for items that exhausted
	// their retry budget or crossed their absolute expiration.
	// key   - ItemKey (32 bytes)
	// value - json(QueueItem)
	Expired = "Expired"
)

// QueueBandName returns the deterministic queue name for priority band
// n within a single partition. Bands are opened lazily by the first
// enqueue/dequeue that touches them.
func QueueBandName(partitionID uint64, band int32) string {
	return fmt.Sprintf("Queue-p%d-b%d", partitionID, band)
}

// NamesForPartition returns the fixed table/queue names belonging to a
// single partition, used by the store adapter to pre-open everything
// it will ever need at construction time instead of on every call.
func NamesForPartition(partitionID uint64, numberOfQueues int32) (maps []string, queues []string) {
	maps = []string{Items, Lease, Expired}
	queues = make([]string, 0, numberOfQueues)
	for b := int32(0); b < numberOfQueues; b++ {
		queues = append(queues, QueueBandName(partitionID, b))
	}
	return maps, queues
}
