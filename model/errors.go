// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import "github.com/pkg/errors"

// Error taxonomy of the coordinator. Handlers translate infrastructure
// failures into these before anything crosses the system boundary; raw
// backend errors never leak.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSubscriberDead     = errors.New("subscriber dead")
	ErrTimeout            = errors.New("timeout")
	ErrConflict           = errors.New("conflict")
	ErrBadRequest         = errors.New("bad request")
)

// ErrorKind maps an error from the taxonomy to its stable wire name, or
// "internal" for anything else.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrSubscriberDead):
		return "subscriber_dead"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}
