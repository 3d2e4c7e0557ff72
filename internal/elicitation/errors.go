package elicitation

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery is returned by Run when the query is blank.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrReplyConsumed is yielded when a Reply is streamed twice.
	ErrReplyConsumed = errors.New("reply already streamed")
)

// StreamTransportError wraps a failure of the model stream. The session is
// left untouched when it is returned.
type StreamTransportError struct {
	Backend string
	Err     error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("stream from %s failed: %v", e.Backend, e.Err)
}

func (e *StreamTransportError) Unwrap() error {
	return e.Err
}
