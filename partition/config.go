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

// Package partition is the core of one partition replica: the item
// table, priority queue bands, lease table, expired table, and the
// background reconciliation loops that move items between them. It
// assumes an already-opened kv.Store; HTTP and partition resolution
// are handled by the api and client packages, and replication is left
// to whatever backend sits behind kv.Store.
package partition

import "time"

// Config is an immutable value supplied at construction. A zero
// LeaseDuration or ItemExpiration passed to Enqueue falls back to the
// matching field here, each resolved independently.
type Config struct {
	PartitionID uint64

	// NumberOfQueues is K, the number of priority bands, 0..K-1. Must be
	// between 1 and 100 inclusive.
	NumberOfQueues int32

	// MaximumDequeueCount is the number of unacknowledged leases an item
	// tolerates before it is moved to the expired table.
	MaximumDequeueCount int32

	// LeaseDuration is used when a caller passes a zero lease duration
	// to Enqueue.
	LeaseDuration time.Duration
	// ItemExpiration is used when a caller passes a zero absolute
	// expiration to Enqueue. Zero means "never expires".
	ItemExpiration time.Duration

	MaxQueueCapacityPerPartition   uint64
	MaxLeaseCapacityPerPartition   uint64
	MaxExpiredCapacityPerPartition uint64

	CapacityWarningPercent float64
	CapacityErrorPercent   float64

	FabricOperationTimeout time.Duration

	HealthCheckStartDelay time.Duration
	HealthCheckInterval   time.Duration
	HealthReportTitle     string
	LoadReportTitle       string

	LeaseCheckStartDelay time.Duration
	LeaseCheckInterval   time.Duration

	// MaxDequeueBatch bounds how many items a single HTTP dequeue request
	// may ask for; MaxGetItemsBatch bounds the top of a get-items request
	// and is the default top of a peekkeys request.
	MaxDequeueBatch  int
	MaxGetItemsBatch int
}

// DefaultConfig returns reasonable defaults for a single partition.
func DefaultConfig(partitionID uint64) Config {
	return Config{
		PartitionID:                    partitionID,
		NumberOfQueues:                 5,
		MaximumDequeueCount:            5,
		LeaseDuration:                  5 * time.Minute,
		ItemExpiration:                 0, // infinite
		MaxQueueCapacityPerPartition:   100_000,
		MaxLeaseCapacityPerPartition:   10_000,
		MaxExpiredCapacityPerPartition: 100,
		CapacityWarningPercent:         0.75,
		CapacityErrorPercent:           0.95,
		FabricOperationTimeout:         4 * time.Second,
		HealthCheckStartDelay:          30 * time.Second,
		HealthCheckInterval:            30 * time.Second,
		HealthReportTitle:              "PartitionHealth",
		LoadReportTitle:                "PartitionLoad",
		LeaseCheckStartDelay:           2 * time.Minute,
		LeaseCheckInterval:             30 * time.Second,
		MaxDequeueBatch:                1000,
		MaxGetItemsBatch:               1000,
	}
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.NumberOfQueues < 1 || c.NumberOfQueues > 100 {
		return newErr(KindArgumentInvalid, "NumberOfQueues must be in [1,100], got %d", c.NumberOfQueues)
	}
	if c.MaximumDequeueCount < 1 {
		return newErr(KindArgumentInvalid, "MaximumDequeueCount must be >= 1, got %d", c.MaximumDequeueCount)
	}
	if c.CapacityWarningPercent <= 0 || c.CapacityErrorPercent <= 0 || c.CapacityWarningPercent > c.CapacityErrorPercent {
		return newErr(KindArgumentInvalid, "capacity thresholds must be positive and Warning <= Error")
	}
	return nil
}
