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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/pqservice/pkg/kv"
)

func newTestPartition(t *testing.T) *Partition {
	t.Helper()
	cfg := DefaultConfig(1)
	cfg.NumberOfQueues = 3
	cfg.MaximumDequeueCount = 3
	cfg.FabricOperationTimeout = 5 * time.Second
	p, err := New(kv.OpenMemoryStore(), cfg)
	require.NoError(t, err)
	return p
}

func payload(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestEnqueueDequeuePriorityOrder(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "low")}, 2, time.Minute, 0)
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, []json.RawMessage{payload(t, "high")}, 0, time.Minute, 0)
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, []json.RawMessage{payload(t, "mid")}, 1, time.Minute, 0)
	require.NoError(t, err)

	items, err := p.Dequeue(ctx, 3, 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, `"high"`, string(items[0].Payload))
	require.Equal(t, `"mid"`, string(items[1].Payload))
	require.Equal(t, `"low"`, string(items[2].Payload))
}

func TestDequeueLeasesAndTracksCount(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a")}, 0, time.Minute, 0)
	require.NoError(t, err)

	items, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 1, items[0].DequeueCount)
	require.NotEqual(t, uint64(NoExpiry), items[0].LeasedUntil)

	again, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Empty(t, again, "a leased item must not be dequeued again")
}

func TestReleaseLeaseAcknowledgesAndRemovesItem(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a")}, 0, time.Minute, 0)
	require.NoError(t, err)

	items, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	n, err := p.Count(ctx, CountSelectorAllQueues)
	require.NoError(t, err)
	require.Zero(t, n, "the leased item is out of its band queue")

	ok, err := p.ReleaseLease(ctx, items[0].Key)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Empty(t, again, "release acknowledges the item; it must not come back")

	n, err = p.Count(ctx, CountSelectorAllQueues)
	require.NoError(t, err)
	require.Zero(t, n, "queue count is unchanged by release")

	_, found, err := p.Delete(ctx, items[0].Key)
	require.NoError(t, err)
	require.False(t, found, "item and lease rows were both removed by release")
}

func TestExtendLeasesBatchCommitsInOneTransaction(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a"), payload(t, "b")}, 0, time.Minute, 0)
	require.NoError(t, err)

	dequeued, err := p.Dequeue(ctx, 2, 0, -1)
	require.NoError(t, err)
	require.Len(t, dequeued, 2)

	missing := NewItemKey(p.cfg.PartitionID)
	keys := []ItemKey{dequeued[0].Key, missing, dequeued[1].Key}
	results, err := p.ExtendLeases(ctx, keys, 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, results)
}

func TestReleaseLeasesBatchAcknowledgesEachKey(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a"), payload(t, "b")}, 0, time.Minute, 0)
	require.NoError(t, err)

	dequeued, err := p.Dequeue(ctx, 2, 0, -1)
	require.NoError(t, err)
	require.Len(t, dequeued, 2)

	results, err := p.ReleaseLeases(ctx, []ItemKey{dequeued[0].Key, dequeued[1].Key})
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, results)

	again, err := p.Dequeue(ctx, 2, 0, -1)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestExtendLeaseOnMissingKeyReturnsFalse(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	ok, err := p.ExtendLease(ctx, NewItemKey(p.cfg.PartitionID), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSweepDemotesBandTowardZero(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a")}, 2, time.Millisecond, 0)
	require.NoError(t, err)

	items, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 2, items[0].Band)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.sweepOnce(ctx))

	reswept, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, reswept, 1)
	require.EqualValues(t, 1, reswept[0].Band, "one expiry demotes band 2 to band 1")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.sweepOnce(ctx))
	atZero, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, atZero, 1)
	require.EqualValues(t, 0, atZero[0].Band, "a second expiry demotes band 1 to band 0")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.sweepOnce(ctx))
	final, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Empty(t, final, "the third expiry reaches MaximumDequeueCount (3) and moves the item to the expired table")
}

func TestSweepMovesExhaustedItemToExpiredTable(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a")}, 0, time.Millisecond, 0)
	require.NoError(t, err)

	for i := 0; i < int(p.cfg.MaximumDequeueCount); i++ {
		items, err := p.Dequeue(ctx, 1, 0, -1)
		require.NoError(t, err)
		require.Len(t, items, 1)
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, p.sweepOnce(ctx))
	}

	n, err := p.Count(ctx, CountSelectorExpired)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = p.Count(ctx, CountSelectorAllQueues)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeleteTakesItemOutOfCirculation(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	enqueued, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a")}, 0, time.Minute, 0)
	require.NoError(t, err)

	item, found, err := p.Delete(ctx, enqueued[0].Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, enqueued[0].Key, item.Key)

	_, found, err = p.Delete(ctx, enqueued[0].Key)
	require.NoError(t, err)
	require.False(t, found, "deleting an already-deleted key is not an error")

	items, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Empty(t, items, "dequeue drains the orphan queue entry left behind by delete")
}

func TestPeekDoesNotLease(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a")}, 0, time.Minute, 0)
	require.NoError(t, err)

	peeked, err := p.Peek(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	require.EqualValues(t, NoExpiry, peeked[0].LeasedUntil)

	items, err := p.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 1, "peek must not consume the item")
}

func TestCountSelectors(t *testing.T) {
	ctx := context.Background()
	p := newTestPartition(t)

	_, err := p.Enqueue(ctx, []json.RawMessage{payload(t, "a"), payload(t, "b")}, 1, time.Minute, 0)
	require.NoError(t, err)

	n, err := p.Count(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = p.Count(ctx, CountSelectorAllQueues)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = p.Count(ctx, CountSelectorItems)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = p.Count(ctx, -99)
	require.Error(t, err)
	require.Equal(t, KindArgumentInvalid, KindOf(err))
}

func TestItemKeyHexRoundTrip(t *testing.T) {
	k := NewItemKey(7)
	parsed, err := ParseItemKeyHex(k.Hex())
	require.NoError(t, err)
	require.Equal(t, k, parsed)

	b, err := json.Marshal(k)
	require.NoError(t, err)

	var roundTripped ItemKey
	require.NoError(t, json.Unmarshal(b, &roundTripped))
	require.Equal(t, k, roundTripped)
}

func TestRoleControllerPromoteDemoteIdle(t *testing.T) {
	p := newTestPartition(t)
	p.cfg.LeaseCheckStartDelay = time.Millisecond
	p.cfg.LeaseCheckInterval = time.Millisecond
	p.cfg.HealthCheckStartDelay = time.Millisecond
	p.cfg.HealthCheckInterval = time.Millisecond

	rc := NewRoleController(p)
	require.Equal(t, RoleIdle, rc.Role())

	rc.Promote(context.Background())
	require.Equal(t, RolePrimary, rc.Role())

	rc.Demote(context.Background())
	require.Equal(t, RoleActiveSecondary, rc.Role())

	rc.Idle()
	require.Equal(t, RoleIdle, rc.Role())

	rc.Stop()
	require.Equal(t, RoleIdle, rc.Role())
}
