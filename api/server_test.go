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

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/pqservice/partition"
	"github.com/erigontech/pqservice/pkg/kv"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := partition.DefaultConfig(0)
	cfg.NumberOfQueues = 3
	p, err := partition.New(kv.OpenMemoryStore(), cfg)
	require.NoError(t, err)
	return httptest.NewServer(NewServer(p, nil))
}

func TestHandleEnqueueThenDequeue(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, err := json.Marshal([]json.RawMessage{json.RawMessage(`"hello"`)})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/0?leaseSeconds=60", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var enqueued []partition.QueueItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&enqueued))
	require.Len(t, enqueued, 1)
	require.Equal(t, `"hello"`, string(enqueued[0].Payload))

	resp, err = http.Get(srv.URL + "/api/?count=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dequeued []partition.QueueItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dequeued))
	require.Len(t, dequeued, 1)
	require.Equal(t, enqueued[0].Key, dequeued[0].Key)
}

func TestHandleEnqueueRejectsBadBand(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/not-a-number", "application/json", bytes.NewReader([]byte(`[]`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleDequeueRejectsOverBatch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/?count=999999999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusExpectationFailed, resp.StatusCode)
}

func TestHandleDeleteAndExtend(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, err := json.Marshal([]json.RawMessage{json.RawMessage(`"x"`)})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/0?leaseSeconds=60", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var enqueued []partition.QueueItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&enqueued))
	resp.Body.Close()

	keysBody, err := json.Marshal([]partition.ItemKey{enqueued[0].Key})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/?leaseSeconds=120", bytes.NewReader(keysBody))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var results []bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	resp.Body.Close()
	require.Equal(t, []bool{true}, results)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/"+enqueued[0].Key.Hex(), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deleted partition.QueueItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deleted))
	require.Equal(t, enqueued[0].Key, deleted.Key)
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report partition.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
}
