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
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erigontech/pqservice/partition"
)

func (s *Server) handlePriorityCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.p.Config().NumberOfQueues)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	selector, err := queryInt32(r, "queue", partition.CountSelectorAllQueues)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	n, err := s.p.Count(r.Context(), selector)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", 1)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	if count > s.p.Config().MaxDequeueBatch {
		writePrecondition(w, r, "count exceeds MaxDequeueBatch")
		return
	}
	start, end, err := queryBandRange(r)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	items, err := s.p.Dequeue(r.Context(), count, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	start, end, err := queryBandRange(r)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	items, err := s.p.Peek(r.Context(), 1, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, items[0])
}

func (s *Server) handlePeekKeys(w http.ResponseWriter, r *http.Request) {
	band, err := queryInt32(r, "queue", 0)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	top, err := queryInt(r, "top", s.p.Config().MaxGetItemsBatch)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	keys, err := s.p.ListBandKeys(r.Context(), band, skip, top)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	top, err := queryInt(r, "top", s.p.Config().MaxGetItemsBatch)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	if top > s.p.Config().MaxGetItemsBatch {
		writePrecondition(w, r, "top exceeds MaxGetItemsBatch")
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	items, err := s.p.ListItems(r.Context(), skip, top)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	bandStr := chi.URLParam(r, "band")
	n, convErr := strconv.ParseInt(bandStr, 10, 32)
	if convErr != nil {
		writeArgumentError(w, r, "path segment must be a priority band number")
		return
	}
	band := int32(n)

	leaseSeconds, err := queryInt(r, "leaseSeconds", 0)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	expirationMinutes, err := queryInt(r, "expirationMinutes", 0)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}

	var payloads []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		writeArgumentError(w, r, "body must be a JSON array of payloads")
		return
	}

	items, err := s.p.Enqueue(r.Context(), payloads, band,
		time.Duration(leaseSeconds)*time.Second, time.Duration(expirationMinutes)*time.Minute)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	leaseSeconds, err := queryInt(r, "leaseSeconds", 0)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}

	var keys []partition.ItemKey
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		writeArgumentError(w, r, "body must be a JSON array of item key strings")
		return
	}

	duration := time.Duration(leaseSeconds) * time.Second
	results, err := s.p.ExtendLeases(r.Context(), keys, duration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	keyStr := chi.URLParam(r, "key")
	key, err := partition.ParseItemKeyHex(keyStr)
	if err != nil {
		writeArgumentError(w, r, err.Error())
		return
	}
	item, found, err := s.p.Delete(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func queryBandRange(r *http.Request) (int32, int32, error) {
	start, err := queryInt32(r, "startqueue", 0)
	if err != nil {
		return 0, 0, err
	}
	end, err := queryInt32(r, "endqueue", -1)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
