package common

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"syscall"
)

// FailureKind is the coarse classification every I/O failure is reduced to
// before it drives engine or queue behavior.
type FailureKind int

const (
	// FailureTransient covers network loss and timeouts. Transfers auto-pause,
	// mutations stay pending for retry.
	FailureTransient FailureKind = iota
	// FailureResource covers low disk space and cache-quota exhaustion.
	// Transfers auto-pause with an explicit reason.
	FailureResource
	// FailureRejected covers non-retryable server refusals. Mutations are
	// flagged rejected and reconciled.
	FailureRejected
	// FailureFatal covers everything else; the operation is reported failed.
	FailureFatal
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureResource:
		return "resource"
	case FailureRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// Classify maps an error to its FailureKind. Unknown errors are fatal.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureFatal
	case errors.Is(err, ErrRejected):
		return FailureRejected
	case errors.Is(err, ErrStorageFull), errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, syscall.ENOSPC):
		return FailureResource
	case errors.Is(err, ErrServerUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, syscall.ENOSPC) {
		return FailureResource
	}
	return FailureFatal
}

// IsRetryable reports whether a sync attempt for err is worth repeating.
func IsRetryable(err error) bool {
	return Classify(err) == FailureTransient
}
