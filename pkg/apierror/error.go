package apierror

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for the wire and for retry decisions.
type Kind string

const (
	KindDecode             Kind = "DecodeError"
	KindClusterUnreachable Kind = "ClusterUnreachable"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindNotFound           Kind = "NotFound"
	KindTimeout            Kind = "Timeout"
	KindRateLimited        Kind = "RateLimited"
	KindInternal           Kind = "Internal"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Decode(message string) *Error {
	return New(KindDecode, message)
}

func NotFound(resource string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource))
}

func PermissionDenied(message string) *Error {
	return New(KindPermissionDenied, message)
}

func Unreachable(err error) *Error {
	return Wrap(KindClusterUnreachable, "cluster unreachable", err)
}

func Timeout(message string) *Error {
	return New(KindTimeout, message)
}

func Internal(message string) *Error {
	return New(KindInternal, message)
}

// KindOf returns the Kind of the first *Error in err's chain. Bare context
// deadline errors map to KindTimeout; anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the human readable part of err suitable for a client.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return err.Error()
}
