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
	"net/http"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/erigontech/pqservice/partition"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps a Kind to the HTTP status the client's retry policy
// expects: 500/503 retryable, 400-417 (except 429) not.
func statusFor(kind partition.Kind) int {
	switch kind {
	case partition.KindArgumentInvalid, partition.KindPartitionMismatch:
		return http.StatusBadRequest
	case partition.KindNotPrimary:
		return http.StatusServiceUnavailable
	case partition.KindTransient:
		return http.StatusInternalServerError
	case partition.KindCancellation:
		return 499 // client closed request, matching the nginx convention
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := partition.KindOf(err)
	status := statusFor(kind)
	log.Warn("[api] request failed", "path", r.URL.Path, "requestid", requestID(r.Context()), "kind", kind.String(), "err", err)
	writeJSON(w, status, errorBody{Kind: kind.String(), Message: err.Error()})
}

// writePrecondition is used by routes with a protocol-level batch-size
// limit (dequeue, get-items): 417, not 400, per the wire format.
func writePrecondition(w http.ResponseWriter, r *http.Request, message string) {
	log.Warn("[api] precondition failed", "path", r.URL.Path, "requestid", requestID(r.Context()), "message", message)
	writeJSON(w, http.StatusExpectationFailed, errorBody{Kind: partition.KindArgumentInvalid.String(), Message: message})
}

// writeArgumentError covers malformed query parameters and path
// segments caught before any Partition call is made.
func writeArgumentError(w http.ResponseWriter, r *http.Request, message string) {
	log.Warn("[api] bad request", "path", r.URL.Path, "requestid", requestID(r.Context()), "message", message)
	writeJSON(w, http.StatusBadRequest, errorBody{Kind: partition.KindArgumentInvalid.String(), Message: message})
}
