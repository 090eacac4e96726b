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

// Package client fans a single logical queue out across N partitions:
// enqueues and dequeues round-robin across partitions, and
// key-addressed operations (delete, extend-lease, release-lease) route
// by the partition id embedded in the ItemKey.
package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/pqservice/partition"
)

// Resolver maps a partition id to the base URL of the node currently
// serving it. A static deployment can return a fixed slice; a dynamic
// one consults a placement service.
type Resolver interface {
	ResolveEndpoint(ctx context.Context, partitionID uint64) (string, error)
}

// StaticResolver is a Resolver over a fixed, ordered list of partition
// endpoints, the common case for a small fixed-size deployment.
type StaticResolver []string

func (s StaticResolver) ResolveEndpoint(_ context.Context, partitionID uint64) (string, error) {
	if partitionID >= uint64(len(s)) {
		return "", partition.NewError(partition.KindArgumentInvalid, "no endpoint configured for partition %d", partitionID)
	}
	return s[partitionID], nil
}

// Client is a thin, stateless-per-call fan-out layer: it holds no
// queue state of its own, only routing counters and a cache of
// resolved endpoints.
type Client struct {
	partitionCount uint64
	resolver       Resolver
	transport      *transport

	endpointCache *lru.Cache[uint64, string]

	enqueueCursor atomic.Uint64
	dequeueCursor atomic.Uint64
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPTimeout sets the per-attempt time budget. The transport uses
// it only to derive a call's overall deadline (the budget times
// WithMaxRetries+1 attempts); a single attempt is not bounded on its own.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.transport.httpTimeout = d }
}

// WithMaxRetries bounds how many attempts a transient failure gets
// before the call is surfaced to the caller.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.transport.maxRetries = n
		c.transport.http.RetryMax = n
	}
}

// New builds a Client fanning out across partitionCount partitions,
// resolved through resolver.
func New(partitionCount uint64, resolver Resolver, opts ...Option) (*Client, error) {
	cache, err := lru.New[uint64, string](int(partitionCount) + 1)
	if err != nil {
		return nil, err
	}
	c := &Client{
		partitionCount: partitionCount,
		resolver:       resolver,
		transport:      newTransport(),
		endpointCache:  cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(ctx context.Context, partitionID uint64) (string, error) {
	if ep, ok := c.endpointCache.Get(partitionID); ok {
		return ep, nil
	}
	ep, err := c.resolver.ResolveEndpoint(ctx, partitionID)
	if err != nil {
		return "", err
	}
	c.endpointCache.Add(partitionID, ep)
	return ep, nil
}

// invalidate drops a cached endpoint after a request against it failed,
// so the next call re-resolves instead of hammering a dead replica.
func (c *Client) invalidate(partitionID uint64) {
	c.endpointCache.Remove(partitionID)
}

func (c *Client) nextEnqueuePartition() uint64 {
	return c.enqueueCursor.Add(1) % c.partitionCount
}

func (c *Client) nextDequeuePartition() uint64 {
	return c.dequeueCursor.Add(1) % c.partitionCount
}

// Enqueue round-robins one batch of payloads onto the next partition
// in rotation, into band.
func (c *Client) Enqueue(ctx context.Context, payloads []json.RawMessage, band int32, leaseSeconds, expirationMinutes int) ([]partition.QueueItem, error) {
	partitionID := c.nextEnqueuePartition()
	ep, err := c.endpoint(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	var items []partition.QueueItem
	if err := c.transport.postJSON(ctx, ep, band, leaseSeconds, expirationMinutes, payloads, &items); err != nil {
		c.invalidate(partitionID)
		return nil, err
	}
	return items, nil
}

// Dequeue pops from the next partition in rotation. A caller that
// needs a fixed total across all partitions calls this repeatedly; the
// round-robin cursor guarantees fairness over many calls, not a single
// one.
func (c *Client) Dequeue(ctx context.Context, count int, startBand, endBand int32) ([]partition.QueueItem, error) {
	partitionID := c.nextDequeuePartition()
	ep, err := c.endpoint(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	var items []partition.QueueItem
	if err := c.transport.getDequeue(ctx, ep, count, startBand, endBand, &items); err != nil {
		c.invalidate(partitionID)
		return nil, err
	}
	return items, nil
}

// Delete routes by the partition id embedded in key.
func (c *Client) Delete(ctx context.Context, key partition.ItemKey) (partition.QueueItem, bool, error) {
	partitionID := key.PartitionID()
	ep, err := c.endpoint(ctx, partitionID)
	if err != nil {
		return partition.QueueItem{}, false, err
	}
	var item partition.QueueItem
	found, err := c.transport.deleteItem(ctx, ep, key, &item)
	if err != nil {
		c.invalidate(partitionID)
		return partition.QueueItem{}, false, err
	}
	return item, found, nil
}

// ExtendLease routes by key's partition id. duration == 0 releases.
func (c *Client) ExtendLease(ctx context.Context, key partition.ItemKey, duration time.Duration) (bool, error) {
	partitionID := key.PartitionID()
	ep, err := c.endpoint(ctx, partitionID)
	if err != nil {
		return false, err
	}
	var results []bool
	if err := c.transport.putExtend(ctx, ep, duration, []partition.ItemKey{key}, &results); err != nil {
		c.invalidate(partitionID)
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	return results[0], nil
}

// ReleaseLease is ExtendLease with a zero duration.
func (c *Client) ReleaseLease(ctx context.Context, key partition.ItemKey) (bool, error) {
	return c.ExtendLease(ctx, key, 0)
}

// TotalCount scatters a count request across every partition and
// sums the results, the one place this package aggregates.
func (c *Client) TotalCount(ctx context.Context, selector int32) (uint64, error) {
	var total uint64
	for id := uint64(0); id < c.partitionCount; id++ {
		ep, err := c.endpoint(ctx, id)
		if err != nil {
			return 0, err
		}
		n, err := c.transport.getCount(ctx, ep, selector)
		if err != nil {
			log.Warn("[client] count failed for partition", "partition", id, "err", err)
			c.invalidate(id)
			return 0, err
		}
		total += n
	}
	return total, nil
}
