// domain/errors.go
package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy of the ingestion pipeline. Adapters wrap these so callers can
// branch with errors.Is.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrNotFound               = errors.New("not found")
	ErrIllegalStateTransition = errors.New("illegal state transition")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrEnqueueFailed          = errors.New("enqueue failed")
	ErrMissingConfig          = errors.New("missing required configuration")
)

// Wrap follows the "component.method: action failed: %w" pattern.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapKind wraps err with context and tags it with one of the sentinels above.
func WrapKind(kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w: %w", component, method, action, kind, err)
}

// Upstream tags a failed external call. Timeouts and cancellations become
// ErrUpstreamUnavailable, anything else gets fallback.
func Upstream(err error, fallback error, component, method, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WrapKind(ErrUpstreamUnavailable, err, component, method, action)
	}
	return WrapKind(fallback, err, component, method, action)
}

// Kind returns the sentinel name used in error bodies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrIllegalStateTransition):
		return "IllegalStateTransition"
	case errors.Is(err, ErrEnqueueFailed):
		return "EnqueueFailed"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	case errors.Is(err, ErrMissingConfig):
		return "MissingConfig"
	default:
		return "Internal"
	}
}
