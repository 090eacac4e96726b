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
	"time"

	"github.com/erigontech/pqservice/pkg/common/mathutil"
)

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

func durationMillis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

// addDuration saturates to NoExpiry instead of wrapping, matching the
// "MAX means never" sentinel used throughout the item/lease tables.
func addDuration(base uint64, d time.Duration) uint64 {
	if d <= 0 {
		return NoExpiry
	}
	return mathutil.SaturatingAdd(base, durationMillis(d))
}

func leaseDurationFromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
