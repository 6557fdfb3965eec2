package chat

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by every client operation before Init.
var ErrNotInitialized = errors.New("chatsync: client not initialized")

// InvalidArgumentError reports malformed caller input. It is detected
// synchronously and never reaches the collaborator.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// PreconditionError reports a client-side precondition violation, such as
// deleting a group conversation that has not been left.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// ContentDecodeError reports a malformed or unrecognized content payload.
// Kind and Field identify the offending variant and field.
type ContentDecodeError struct {
	ContentKind Kind
	Field       string
	Reason      string
}

func (e *ContentDecodeError) Error() string {
	return fmt.Sprintf("decode %s content: field %s: %s", e.ContentKind, e.Field, e.Reason)
}

// ContentEncodeError reports a content variant that violates its own
// constraints, such as an empty file URL on a photo.
type ContentEncodeError struct {
	ContentKind Kind
	Field       string
	Reason      string
}

func (e *ContentEncodeError) Error() string {
	return fmt.Sprintf("encode %s content: field %s: %s", e.ContentKind, e.Field, e.Reason)
}
