package download

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a download failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindPermanent is a 404 or 403 from upstream: never retried.
	KindPermanent
	// KindHTTP is any other unexpected HTTP status.
	KindHTTP
	// KindNetwork is a transport-level failure.
	KindNetwork
	// KindWrite is a local disk failure.
	KindWrite
	// KindUpload is an object-store upload failure; the staged file is kept.
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "http_4xx_permanent"
	case KindHTTP:
		return "http_other"
	case KindNetwork:
		return "network"
	case KindWrite:
		return "write"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// Error carries the failure kind alongside the cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download failed (%s): %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var derr *Error
	if stderrors.As(err, &derr) {
		return derr.Kind
	}
	return KindUnknown
}
