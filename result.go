package chatsync

import (
	"errors"

	"github.com/lioncast/chatsync/chat"
	"github.com/lioncast/chatsync/remote"
)

// Reserved result codes. All other non-zero codes pass through verbatim
// from the backend collaborator.
const (
	CodeOK             = 0
	CodeNotInitialized = -1
	CodeInvalidInput   = -2
	CodeInternal       = 1
)

// Result is the uniform envelope handed to hosting layers that want a
// code-and-message surface instead of Go errors.
type Result[T any] struct {
	OK      bool
	Code    int
	Message string
	Data    T
}

// NewResult wraps an operation outcome into the envelope, mapping the
// error taxonomy onto reserved codes.
func NewResult[T any](data T, err error) Result[T] {
	if err == nil {
		return Result[T]{OK: true, Code: CodeOK, Data: data}
	}

	var (
		invalidArg   *chat.InvalidArgumentError
		precondition *chat.PreconditionError
		encodeErr    *chat.ContentEncodeError
		decodeErr    *chat.ContentDecodeError
		remoteErr    *remote.Error
	)
	code := CodeInternal
	switch {
	case errors.Is(err, chat.ErrNotInitialized):
		code = CodeNotInitialized
	case errors.As(err, &invalidArg),
		errors.As(err, &precondition),
		errors.As(err, &encodeErr),
		errors.As(err, &decodeErr):
		code = CodeInvalidInput
	case errors.As(err, &remoteErr):
		code = remoteErr.Code
	}
	return Result[T]{Code: code, Message: err.Error()}
}
