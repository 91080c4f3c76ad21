// Package common defines shared sentinel errors and the failure taxonomy used
// across the download engine and the mutation queue. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Transport-level errors.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrRejected marks a server-side refusal (validation, conflict). It is
	// non-retryable: retrying the same payload would fail again.
	ErrRejected = errors.New("rejected by server")

	// Resource errors.
	ErrStorageFull   = errors.New("local storage full")
	ErrQuotaExceeded = errors.New("tile cache quota exceeded")

	// Transfer lifecycle errors.
	ErrTransferActive   = errors.New("another transfer is active")
	ErrNoActiveTransfer = errors.New("no active transfer")
	ErrNotResumable     = errors.New("checkpoint is not resumable")
)
