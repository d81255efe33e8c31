package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies a failed gateway call.
type FailureKind string

const (
	// FailureTimeout covers deadlines, transport errors and anything the
	// gateway did not answer explicitly. One retry is allowed.
	FailureTimeout FailureKind = "TIMEOUT"
	// FailureUnavailable is a throttling or server-side answer (429, 5xx).
	FailureUnavailable FailureKind = "UNAVAILABLE"
	// FailureRejected is an explicit refusal of the message. Never retried.
	FailureRejected FailureKind = "REJECTED"
)

// GatewayError is returned by Gateway implementations for failed sends.
type GatewayError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "gateway "+strings.ToLower(string(e.Kind)))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify maps any error from a send attempt to a FailureKind. Errors the
// gateway did not produce itself are timeout-class.
func Classify(err error) FailureKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.Kind != "" {
		return gwErr.Kind
	}
	return FailureTimeout
}

// IsRetryable reports whether one more attempt with the same reservation is allowed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) != FailureRejected
}
