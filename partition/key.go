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
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ItemKey (a.k.a. PopReceipt) is the 32-byte opaque handle naming one
// enqueued item:
//
//	bytes  0..15  uuid (random, globally unique)
//	bytes 16..23  partition id, u64
//	bytes 24..31  tag, u64 (concurrency/version cookie, default 0)
//
// Comparison, hashing and equality treat the 32 bytes as a single
// big-endian number; ItemKey is comparable (a plain [32]byte) so the
// zero value, map keys, and == all do the right thing already.
type ItemKey [32]byte

// NewItemKey allocates a fresh key for partitionID with tag 0.
func NewItemKey(partitionID uint64) ItemKey {
	var k ItemKey
	id, err := uuid.NewRandom()
	if err != nil {
		// crypto/rand failures are not recoverable; this mirrors
		// erigon-lib/common/math's RandInt64, which also surfaces a
		// crypto/rand failure rather than silently degrading entropy.
		var raw [16]byte
		if _, err2 := rand.Read(raw[:]); err2 != nil {
			panic(fmt.Sprintf("partition: crypto/rand unavailable: %v (uuid error: %v)", err2, err))
		}
		copy(k[0:16], raw[:])
	} else {
		copy(k[0:16], id[:])
	}
	binary.BigEndian.PutUint64(k[16:24], partitionID)
	binary.BigEndian.PutUint64(k[24:32], 0)
	return k
}

func (k ItemKey) PartitionID() uint64 {
	return binary.BigEndian.Uint64(k[16:24])
}

func (k ItemKey) Tag() uint64 {
	return binary.BigEndian.Uint64(k[24:32])
}

// WithTag returns a copy of k with its tag field replaced.
func (k ItemKey) WithTag(tag uint64) ItemKey {
	out := k
	binary.BigEndian.PutUint64(out[24:32], tag)
	return out
}

func (k ItemKey) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, k[:])
	return out
}

// Hex renders the key as 64 lowercase hex characters: four 16-char
// big-endian words, one per uint64 field (uuid-high, uuid-low,
// partition id, tag).
func (k ItemKey) Hex() string {
	return k.format(false)
}

// HexUpper is the uppercase variant of Hex.
func (k ItemKey) HexUpper() string {
	return k.format(true)
}

func (k ItemKey) format(upper bool) string {
	words := [4]uint64{
		binary.BigEndian.Uint64(k[0:8]),
		binary.BigEndian.Uint64(k[8:16]),
		binary.BigEndian.Uint64(k[16:24]),
		binary.BigEndian.Uint64(k[24:32]),
	}
	format := "%016x%016x%016x%016x"
	if upper {
		format = "%016X%016X%016X%016X"
	}
	return fmt.Sprintf(format, words[0], words[1], words[2], words[3])
}

func (k ItemKey) String() string { return k.Hex() }

// ParseItemKeyHex parses the 64-char hex form (case-insensitive). Any
// length other than 64 or any non-hex character is rejected.
func ParseItemKeyHex(s string) (ItemKey, error) {
	var k ItemKey
	if len(s) != 64 {
		return k, newErr(KindArgumentInvalid, "item key hex must be 64 characters, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, wrapErr(KindArgumentInvalid, err, "item key hex %q is not valid hex", s)
	}
	return ParseItemKeyBytes(raw)
}

// ParseItemKeyBytes parses the 32-byte binary form.
func ParseItemKeyBytes(b []byte) (ItemKey, error) {
	var k ItemKey
	if len(b) != 32 {
		return k, newErr(KindArgumentInvalid, "item key bytes must be 32 bytes, got %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// MarshalJSON renders the key as its lowercase hex string, matching the
// wire form every client and the HTTP adapter expect.
func (k ItemKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Hex())
}

func (k *ItemKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return wrapErr(KindArgumentInvalid, err, "item key must be a JSON string")
	}
	parsed, err := ParseItemKeyHex(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Compare orders two keys as big-endian 256-bit numbers.
func (k ItemKey) Compare(other ItemKey) int {
	for i := range k {
		if k[i] != other[i] {
			if k[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
