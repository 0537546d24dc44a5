package chat

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("chat: message must not be empty")
	ErrInvalidSessionID = fmt.Errorf("chat: session id must be 1-%d characters", MaxSessionIDLen)
	ErrNotFound         = errors.New("chat: session not found")
	ErrEmptyReply       = errors.New("chat: backend returned an empty reply")
)

// BackendError reports a failed exchange with the generative backend.
type BackendError struct {
	SessionID string
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("chat: backend exchange failed session=%s: %v", e.SessionID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// SummarizationError is carried in a bounding Outcome when the one-shot
// summary call fails. It never reaches callers of SendTurn.
type SummarizationError struct {
	Evicted int
	Err     error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("chat: summarize %d messages: %v", e.Evicted, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }
