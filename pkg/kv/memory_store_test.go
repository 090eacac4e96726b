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

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryMapAddGetUpdateRemove(t *testing.T) {
	s := OpenMemoryStore()
	m, err := s.OpenMap("items")
	require.NoError(t, err)

	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)

	require.NoError(t, m.Add(tx, []byte("k1"), []byte("v1")))
	require.ErrorIs(t, m.Add(tx, []byte("k1"), []byte("v1-again")), ErrAlreadyExists)

	v, ok, err := m.TryGet(tx, []byte("k1"), ReadLock)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))

	ok, err = m.TryUpdate(tx, []byte("k1"), []byte("v2"), []byte("wrong-expected"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.TryUpdate(tx, []byte("k1"), []byte("v2"), []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := m.Count(tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	existed, err := m.TryRemove(tx, []byte("k1"))
	require.NoError(t, err)
	require.True(t, existed)

	_, ok, err = m.TryGet(tx, []byte("k1"), ReadLock)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tx.Commit())
}

func TestMemoryQueueFIFO(t *testing.T) {
	s := OpenMemoryStore()
	q, err := s.OpenQueue("band-0")
	require.NoError(t, err)

	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(tx, []byte("a")))
	require.NoError(t, q.Enqueue(tx, []byte("b")))
	require.NoError(t, q.Enqueue(tx, []byte("c")))

	v, ok, err := q.TryPeek(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(v))

	v, ok, err = q.TryDequeue(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(v))

	v, ok, err = q.TryDequeue(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", string(v))

	n, err := q.Count(tx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, tx.Commit())
}

func TestMemoryMapAddOrUpdate(t *testing.T) {
	s := OpenMemoryStore()
	m, err := s.OpenMap("lease")
	require.NoError(t, err)
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)

	merge := func(existing []byte, exists bool) []byte {
		if !exists {
			return []byte("1")
		}
		return []byte(string(existing) + "1")
	}
	require.NoError(t, m.AddOrUpdate(tx, []byte("k"), merge))
	require.NoError(t, m.AddOrUpdate(tx, []byte("k"), merge))

	v, ok, err := m.TryGet(tx, []byte("k"), UpdateLock)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "11", string(v))
	require.NoError(t, tx.Commit())
}
