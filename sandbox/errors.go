package sandbox

import (
	"errors"
	"fmt"
)

// Kind identifies the lifecycle step that failed.
type Kind int

// Failure kinds. Every kind except KindRemove aborts the request.
const (
	KindCreate Kind = iota + 1
	KindLimit
	KindUpload
	KindStart
	KindLogs
	KindInspect
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindLimit:
		return "limit"
	case KindUpload:
		return "upload"
	case KindStart:
		return "start"
	case KindLogs:
		return "logs"
	case KindInspect:
		return "inspect"
	case KindRemove:
		return "remove"
	default:
		return "unknown"
	}
}

var (
	// ErrInternal is the only failure a caller learns about. Engine detail
	// stays in the log.
	ErrInternal = errors.New("internal server error")

	// ErrInvalidRequest marks requests rejected before any sandbox exists.
	ErrInvalidRequest = errors.New("invalid request")
)

// Error records a failed lifecycle step for one sandbox.
type Error struct {
	Kind Kind
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox %s: %s failed: %v", e.Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports fatal lifecycle errors as ErrInternal.
func (e *Error) Is(target error) bool {
	return target == ErrInternal && e.Kind != KindRemove
}

// KindOf returns the lifecycle kind of err, or zero if err is not a
// lifecycle error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
