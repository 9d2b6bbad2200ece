// SPDX-License-Identifier: MIT

// Package core defines the error taxonomy shared by all maskd subsystems.
// The API layer maps these kinds onto HTTP status codes; no other layer
// inspects HTTP concerns.
package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap them with context via fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidArgument signals a malformed request: bad shape, out-of-range
	// frame index, mismatched labels. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound signals an unknown session, object or job.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded signals that the admission limit was reached even
	// after sweeping expired sessions.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrVideoUnreadable signals that a video reference could not be opened
	// or probed.
	ErrVideoUnreadable = errors.New("video unreadable")

	// ErrVideoTooLarge signals dimensions beyond the configured maximum that
	// policy does not allow downscaling away.
	ErrVideoTooLarge = errors.New("video too large")

	// ErrSegmenterFailed wraps an error from the segmentation backend.
	ErrSegmenterFailed = errors.New("segmenter failed")

	// ErrNothingToPropagate signals a propagation request against a session
	// with no tracked objects.
	ErrNothingToPropagate = errors.New("nothing to propagate")

	// ErrSessionGone signals that a session disappeared while a job was
	// running against it.
	ErrSessionGone = errors.New("session gone")

	// ErrCancelled signals cooperative job cancellation.
	ErrCancelled = errors.New("cancelled")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidArgument, args)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

// SegmenterFailed wraps an underlying segmenter error so callers can match
// on ErrSegmenterFailed while keeping the root cause in the chain.
func SegmenterFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSegmenterFailed, op, err)
}

func prepend(err error, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, err)
	return append(out, args...)
}

// IsTerminalUserError reports whether err is caused by client input rather
// than an internal failure.
func IsTerminalUserError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNothingToPropagate)
}
