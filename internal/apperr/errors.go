// Package apperr defines sentinel errors shared across the protocol,
// session and API layers. Callers classify failures with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrTimeout         = errors.New("timed out")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNotOwner        = errors.New("not the owner")
	ErrUnavailable     = errors.New("unavailable")
)
