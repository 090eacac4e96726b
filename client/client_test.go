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

package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/pqservice/api"
	"github.com/erigontech/pqservice/partition"
	"github.com/erigontech/pqservice/pkg/kv"
)

func newTestServer(t *testing.T, partitionID uint64) *httptest.Server {
	t.Helper()
	cfg := partition.DefaultConfig(partitionID)
	cfg.NumberOfQueues = 3
	p, err := partition.New(kv.OpenMemoryStore(), cfg)
	require.NoError(t, err)
	return httptest.NewServer(api.NewServer(p, nil))
}

func TestClientEnqueueDequeueRoundTrip(t *testing.T) {
	srv := newTestServer(t, 0)
	defer srv.Close()

	c, err := New(1, StaticResolver{srv.URL})
	require.NoError(t, err)

	ctx := context.Background()
	enqueued, err := c.Enqueue(ctx, []json.RawMessage{json.RawMessage(`"payload"`)}, 0, 60, 0)
	require.NoError(t, err)
	require.Len(t, enqueued, 1)

	dequeued, err := c.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, dequeued, 1)
	require.Equal(t, enqueued[0].Key, dequeued[0].Key)
}

func TestClientExtendAndReleaseLease(t *testing.T) {
	srv := newTestServer(t, 0)
	defer srv.Close()

	c, err := New(1, StaticResolver{srv.URL})
	require.NoError(t, err)

	ctx := context.Background()
	enqueued, err := c.Enqueue(ctx, []json.RawMessage{json.RawMessage(`"payload"`)}, 0, 60, 0)
	require.NoError(t, err)
	dequeued, err := c.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, dequeued, 1)

	ok, err := c.ExtendLease(ctx, enqueued[0].Key, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ReleaseLease(ctx, enqueued[0].Key)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := c.Dequeue(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Empty(t, again, "release acknowledges the item; it must not come back")
}

func TestClientDeleteRoutesByKeyPartition(t *testing.T) {
	srv := newTestServer(t, 0)
	defer srv.Close()

	c, err := New(1, StaticResolver{srv.URL})
	require.NoError(t, err)

	ctx := context.Background()
	enqueued, err := c.Enqueue(ctx, []json.RawMessage{json.RawMessage(`"payload"`)}, 0, 60, 0)
	require.NoError(t, err)

	item, found, err := c.Delete(ctx, enqueued[0].Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, enqueued[0].Key, item.Key)

	_, found, err = c.Delete(ctx, enqueued[0].Key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestClientTotalCountScattersAcrossPartitions(t *testing.T) {
	srvA := newTestServer(t, 0)
	defer srvA.Close()
	srvB := newTestServer(t, 1)
	defer srvB.Close()

	c, err := New(2, StaticResolver{srvA.URL, srvB.URL})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Enqueue(ctx, []json.RawMessage{json.RawMessage(`"a"`)}, 0, 60, 0)
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, []json.RawMessage{json.RawMessage(`"b"`)}, 0, 60, 0)
	require.NoError(t, err)

	total, err := c.TotalCount(ctx, partition.CountSelectorAllQueues)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
}

func TestStaticResolverRejectsOutOfRangePartition(t *testing.T) {
	r := StaticResolver{"http://example.invalid"}
	_, err := r.ResolveEndpoint(context.Background(), 5)
	require.Error(t, err)
	require.Equal(t, partition.KindArgumentInvalid, partition.KindOf(err))
}
