package stream

import (
	"errors"
	"fmt"
)

// Kind classifies stream failures.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindTransport   Kind = "transport"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindProtocol    Kind = "protocol"
	KindToolPayload Kind = "tool_payload"
	KindCancelled   Kind = "cancelled"
	KindRemote      Kind = "remote"
)

// Error is the typed failure surfaced by the stream machinery.
// Code carries the HTTP status or the server-supplied error code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

var (
	ErrEmptyInput       = &Error{Kind: KindValidation, Message: "input is empty"}
	ErrAlreadyStreaming = &Error{Kind: KindValidation, Message: "a stream is already in flight"}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrTransport        = &Error{Kind: KindTransport}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrProtocol         = &Error{Kind: KindProtocol}
	ErrRemote           = &Error{Kind: KindRemote}

	// ErrRevoked is returned by the reducer once it no longer accepts events.
	ErrRevoked = errors.New("reducer revoked")
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target carrying a message
// only matches errors with that exact message, which keeps the validation
// sentinels apart.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Retryable reports whether resubmitting the same input may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindTimeout
}

// UserMessage is the text shown to the person chatting.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return "Rate limit exceeded. Please try again later."
	case KindTimeout:
		return "No response received. Please try again."
	case KindCancelled:
		return "Stopped."
	case KindTransport:
		return "Connection problem. Please try again."
	case KindRemote:
		if e.Message != "" {
			return e.Message
		}
		return "The assistant could not finish this response."
	default:
		return e.Error()
	}
}

func protocolError(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

// asStreamError normalizes err into an *Error, defaulting to a transport error.
func asStreamError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: KindTransport, Err: err}
}
