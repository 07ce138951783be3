package completion

import "errors"

// ErrCompletion matches every *Error via errors.Is.
var ErrCompletion = errors.New("completion failed")

type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindStatus    ErrorKind = "status"
	KindBackend   ErrorKind = "backend"
	KindMalformed ErrorKind = "malformed"
	KindCanceled  ErrorKind = "canceled"
)

// Error describes why a completion request failed.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrCompletion }
