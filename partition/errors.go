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
	"errors"
	"fmt"
)

// Kind classifies an error so the HTTP adapter and the client's retry
// policy can switch on one small enum instead of a type hierarchy.
type Kind int

const (
	KindArgumentInvalid Kind = iota
	KindPartitionMismatch
	KindTransient
	KindNotPrimary
	KindCancellation
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindArgumentInvalid:
		return "ArgumentInvalid"
	case KindPartitionMismatch:
		return "PartitionMismatch"
	case KindTransient:
		return "Transient"
	case KindNotPrimary:
		return "NotPrimary"
	case KindCancellation:
		return "Cancellation"
	case KindFatal:
		return "Fatal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error wraps an underlying cause with its Kind. It is never
// constructed for an expected-empty result — an empty dequeue is a
// nil error with a zero-length slice.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("partition: %s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("partition: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), err: cause}
}

// NewError builds a Kind-tagged error for callers outside this package
// (the api and client packages construct their own ArgumentInvalid /
// Transient errors the same way this package does internally).
func NewError(kind Kind, format string, args ...any) error {
	return newErr(kind, format, args...)
}

// WrapError is NewError with an underlying cause preserved for errors.Is/As.
func WrapError(kind Kind, cause error, format string, args ...any) error {
	return wrapErr(kind, cause, format, args...)
}

// KindOf classifies an arbitrary error for the HTTP adapter / client
// retry policy, falling back to KindFatal for anything unrecognized.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, errCancelled):
		return KindCancellation
	default:
		return KindFatal
	}
}

var errCancelled = errors.New("partition: operation cancelled")

// ParseKind maps a Kind.String() value back to its Kind, for a client
// decoding the kind field of an HTTP error body. Unrecognized strings
// map to KindFatal.
func ParseKind(s string) Kind {
	switch s {
	case "ArgumentInvalid":
		return KindArgumentInvalid
	case "PartitionMismatch":
		return KindPartitionMismatch
	case "Transient":
		return KindTransient
	case "NotPrimary":
		return KindNotPrimary
	case "Cancellation":
		return KindCancellation
	default:
		return KindFatal
	}
}
