package feed

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindTransport
	KindServer
	KindDecoding
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindDecoding:
		return "decoding"
	}
	return "unknown"
}

// Error is returned by every failing fetch. StatusCode is set for KindServer.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindServer {
		return fmt.Sprintf("feed %s error: HTTP %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err (or any wrapped error) is a feed Error of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
