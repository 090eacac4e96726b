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
	"encoding/json"
	"fmt"

	"github.com/erigontech/pqservice/pkg/common/mathutil"
)

// NoExpiry is the leased_until / expires_at sentinel meaning "never".
const NoExpiry = mathutil.MaxUint64

// QueueItem is the authoritative record for one live payload. Payload
// is carried as a raw JSON message: the core never interprets it, only
// round-trips whatever bytes the producer sent.
type QueueItem struct {
	Key           ItemKey         `json:"key"`
	Band          int32           `json:"band"`
	Payload       json.RawMessage `json:"payload"`
	LeaseDuration int64           `json:"leaseDurationMs"`
	LeasedUntil   uint64          `json:"leasedUntil"` // unix millis, NoExpiry == never
	EnqueuedAt    uint64          `json:"enqueuedAt"`  // unix millis
	ExpiresAt     uint64          `json:"expiresAt"`   // unix millis, NoExpiry == never
	DequeueCount  int32           `json:"dequeueCount"`
}

func (it QueueItem) encode() ([]byte, error) {
	b, err := json.Marshal(it)
	if err != nil {
		return nil, wrapErr(KindFatal, err, "encode item %s", it.Key.Hex())
	}
	return b, nil
}

func decodeItem(b []byte) (QueueItem, error) {
	var it QueueItem
	if err := json.Unmarshal(b, &it); err != nil {
		return it, wrapErr(KindFatal, err, "decode item record")
	}
	return it, nil
}

func encodeLeasedUntil(v uint64) []byte {
	// Stored as a 20-digit zero-padded decimal string and read back by
	// decodeLeasedUntil. The item row's LeasedUntil field holds the same
	// value as a plain JSON number.
	return []byte(fmt.Sprintf("%020d", v))
}

func decodeLeasedUntil(b []byte) (uint64, error) {
	v, ok := mathutil.ParseUint64(string(b))
	if !ok {
		return 0, newErr(KindFatal, "lease table value %q is not a uint64", string(b))
	}
	return v, nil
}
