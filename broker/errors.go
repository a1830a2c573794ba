package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies adapter failures so callers can branch on the
// category instead of matching message strings.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindAuth      ErrorKind = "auth"
	KindRejected  ErrorKind = "rejected"
	KindUnknown   ErrorKind = "unknown"
)

// CallError wraps a failed adapter call with its operation and kind.
type CallError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("broker %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewCallError builds a CallError; a nil inner error yields nil.
func NewCallError(op string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind, inferring one for plain errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable reports whether a later attempt may succeed. Rejections
// and auth failures are deterministic; everything transient retries.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}
